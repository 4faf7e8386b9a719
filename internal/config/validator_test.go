package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_OK(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ManagedRoot = t.TempDir()

	require.NoError(t, NewValidator().Validate(cfg))
}

func TestValidateManagedRoot(t *testing.T) {
	v := NewValidator()

	assert.Error(t, v.ValidateManagedRoot(""))
	assert.Error(t, v.ValidateManagedRoot("/definitely/not/a/real/path"))
	assert.NoError(t, v.ValidateManagedRoot(t.TempDir()))
}

func TestValidateExtensions(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		exts    []string
		wantErr bool
	}{
		{name: "valid", exts: []string{".txt", ".pdf"}, wantErr: false},
		{name: "empty set", exts: nil, wantErr: true},
		{name: "missing dot", exts: []string{"txt"}, wantErr: true},
		{name: "uppercase", exts: []string{".TXT"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateExtensions(tt.exts)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateThresholds(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateThresholds(SemanticConfig{EdgeThreshold: 0.6, AssignThreshold: 0.75, DistanceThreshold: 0.5}))
	assert.Error(t, v.ValidateThresholds(SemanticConfig{EdgeThreshold: 1.5}))
	assert.Error(t, v.ValidateThresholds(SemanticConfig{DistanceThreshold: 3}))
}

func TestValidatePipeline(t *testing.T) {
	v := NewValidator()

	good := PipelineConfig{QueueCapacity: 10, ReadyRetries: 3, ReadyDelayMs: 100, BreakerLimit: 5}
	assert.NoError(t, v.ValidatePipeline(good))

	bad := good
	bad.QueueCapacity = 0
	assert.Error(t, v.ValidatePipeline(bad))

	bad = good
	bad.BreakerLimit = 0
	assert.Error(t, v.ValidatePipeline(bad))
}
