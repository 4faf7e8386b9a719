// Package naming derives human-readable labels for clusters from the
// text of their member files. Labels are built from the most frequent
// keywords, so a cluster of invoices becomes "Invoice_Payment" rather
// than an opaque ordinal.
package naming

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/semfs/semfs/internal/tracing"
)

const (
	// sampleLimit caps how many member files are read per cluster.
	sampleLimit = 5

	// minWordLength filters out stop-word noise without a stop list.
	minWordLength = 4

	// labelKeywords is how many top keywords make up a label.
	labelKeywords = 2
)

var wordPattern = regexp.MustCompile(`[a-zA-Z]+`)

// MemberSource lists the file paths belonging to a cluster.
type MemberSource interface {
	PathsInCluster(ctx context.Context, clusterID string) ([]string, error)
}

// TextSource turns a file path into embeddable text.
type TextSource interface {
	Extract(path string) (string, error)
}

// Namer labels clusters by sampling member content.
type Namer struct {
	members MemberSource
	text    TextSource
	logger  zerolog.Logger
}

// NewNamer builds a Namer over the given member and text sources.
func NewNamer(members MemberSource, text TextSource, logger zerolog.Logger) *Namer {
	return &Namer{members: members, text: text, logger: logger}
}

// NameCluster produces a label for clusterID. An empty cluster is
// "Empty Cluster", a cluster whose members yield no text is
// "Uncategorized", and text without usable keywords is "General".
func (n *Namer) NameCluster(ctx context.Context, clusterID string) string {
	logger := tracing.LoggerFromContext(ctx, n.logger)

	paths, err := n.members.PathsInCluster(ctx, clusterID)
	if err != nil {
		logger.Warn().Err(err).Str("cluster_id", clusterID).Msg("Listing cluster members failed")
		return "Uncategorized"
	}
	if len(paths) == 0 {
		return "Empty Cluster"
	}

	if len(paths) > sampleLimit {
		paths = paths[:sampleLimit]
	}

	var sb strings.Builder
	for _, path := range paths {
		text, err := n.text.Extract(path)
		if err != nil {
			logger.Debug().Err(err).Str("path", path).Msg("Skipping unreadable member")
			continue
		}
		sb.WriteString(text)
		sb.WriteByte(' ')
	}

	combined := sb.String()
	if strings.TrimSpace(combined) == "" {
		return "Uncategorized"
	}

	keywords := Keywords(combined, labelKeywords)
	if len(keywords) == 0 {
		return "General"
	}

	parts := make([]string, len(keywords))
	for i, kw := range keywords {
		parts[i] = capitalize(kw)
	}
	return strings.Join(parts, "_")
}

// Keywords returns the limit most frequent words of at least
// minWordLength characters, lowercased. Ties break alphabetically so
// the result is stable for a given text.
func Keywords(text string, limit int) []string {
	counts := make(map[string]int)
	for _, word := range wordPattern.FindAllString(text, -1) {
		if len(word) < minWordLength {
			continue
		}
		counts[strings.ToLower(word)]++
	}
	if len(counts) == 0 {
		return nil
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})

	if limit > 0 && len(words) > limit {
		words = words[:limit]
	}
	return words
}

func capitalize(word string) string {
	if word == "" {
		return word
	}
	return strings.ToUpper(word[:1]) + word[1:]
}
