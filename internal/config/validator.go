package config

import (
	"fmt"
	"os"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the whole configuration and returns the first problem found
func (v *Validator) Validate(cfg *Config) error {
	if err := v.ValidateManagedRoot(cfg.ManagedRoot); err != nil {
		return err
	}
	if err := v.ValidateExtensions(cfg.Extensions); err != nil {
		return err
	}
	if err := v.ValidateThresholds(cfg.Semantic); err != nil {
		return err
	}
	if err := v.ValidatePipeline(cfg.Pipeline); err != nil {
		return err
	}
	return nil
}

// ValidateManagedRoot checks the managed root is set and is a directory
func (v *Validator) ValidateManagedRoot(root string) error {
	if root == "" {
		return fmt.Errorf("managed_root cannot be empty")
	}

	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("managed_root %q is not accessible: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("managed_root %q is not a directory", root)
	}

	return nil
}

// ValidateExtensions checks the supported extension set
func (v *Validator) ValidateExtensions(exts []string) error {
	if len(exts) == 0 {
		return fmt.Errorf("at least one supported extension is required")
	}

	for _, ext := range exts {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
		if ext != strings.ToLower(ext) {
			return fmt.Errorf("extension %q must be lowercase", ext)
		}
	}

	return nil
}

// ValidateThresholds checks similarity and clustering thresholds
func (v *Validator) ValidateThresholds(s SemanticConfig) error {
	if s.EdgeThreshold < -1 || s.EdgeThreshold > 1 {
		return fmt.Errorf("edge_threshold must be in [-1, 1], got %v", s.EdgeThreshold)
	}
	if s.AssignThreshold < -1 || s.AssignThreshold > 1 {
		return fmt.Errorf("assign_threshold must be in [-1, 1], got %v", s.AssignThreshold)
	}
	if s.DistanceThreshold < 0 || s.DistanceThreshold > 2 {
		return fmt.Errorf("distance_threshold must be in [0, 2], got %v", s.DistanceThreshold)
	}
	return nil
}

// ValidatePipeline checks event pipeline tuning values
func (v *Validator) ValidatePipeline(p PipelineConfig) error {
	if p.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive, got %d", p.QueueCapacity)
	}
	if p.ReadyRetries <= 0 {
		return fmt.Errorf("ready_retries must be positive, got %d", p.ReadyRetries)
	}
	if p.ReadyDelayMs < 0 {
		return fmt.Errorf("ready_delay_ms cannot be negative, got %d", p.ReadyDelayMs)
	}
	if p.BreakerLimit <= 0 {
		return fmt.Errorf("breaker_limit must be positive, got %d", p.BreakerLimit)
	}
	return nil
}
