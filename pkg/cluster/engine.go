package cluster

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/semfs/semfs/internal/tracing"
	"github.com/semfs/semfs/pkg/semantic"
)

// Store is the registry surface the engine needs
type Store interface {
	AllEmbeddings(ctx context.Context) ([]semantic.EmbeddedFile, error)
	ClusterForFile(ctx context.Context, fileID string) (string, bool, error)
	StoreCluster(ctx context.Context, clusterID, label string, centroid []float32) error
}

// Group is one cluster in a batch partition
type Group struct {
	ID       string
	Label    string
	Members  []string
	Centroid []float32
}

// Partition is the complete result of a batch reclustering pass
type Partition struct {
	// Assignments maps every embedded file to its cluster
	Assignments map[string]string
	Groups      []Group
}

// Engine holds both clustering strategies. The incremental assignment is an
// optimistic placeholder for responsiveness; the batch pass is the single
// source of truth and always supersedes it within the same cycle.
type Engine struct {
	store           Store
	logger          zerolog.Logger
	assignThreshold float64
}

// NewEngine creates a cluster engine
func NewEngine(store Store, assignThreshold float64, logger zerolog.Logger) *Engine {
	return &Engine{
		store:           store,
		logger:          logger.With().Str("component", "cluster").Logger(),
		assignThreshold: assignThreshold,
	}
}

// AssignCluster places a single new embedding into the most similar existing
// file's cluster, or creates a fresh one. Advisory only: the batch pass in
// the same mutation cycle overwrites whatever this returns.
func (e *Engine) AssignCluster(ctx context.Context, embedding []float32) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "semfs.cluster", "cluster.assign")
	defer span.End()

	files, err := e.store.AllEmbeddings(ctx)
	if err != nil {
		return "", err
	}

	logger := tracing.LoggerFromContext(ctx, e.logger)

	if len(files) == 0 {
		clusterID := uuid.New().String()
		if err := e.store.StoreCluster(ctx, clusterID, "Cluster 1", nil); err != nil {
			return "", err
		}
		logger.Debug().Str("cluster_id", clusterID).Msg("First file, fresh cluster")
		return clusterID, nil
	}

	bestScore := 0.0
	bestOwner := ""
	for _, f := range files {
		score := semantic.CosineSimilarity(embedding, f.Vector)
		if score > bestScore {
			bestScore = score
			bestOwner = f.FileID
		}
	}

	if bestScore >= e.assignThreshold {
		clusterID, found, err := e.store.ClusterForFile(ctx, bestOwner)
		if err != nil {
			return "", err
		}
		if found {
			logger.Debug().
				Str("cluster_id", clusterID).
				Float64("score", bestScore).
				Msg("Assigned to nearest file's cluster")
			return clusterID, nil
		}
		// Nearest file has not been clustered yet; fall through to a new one.
	}

	clusterID := uuid.New().String()
	label := fmt.Sprintf("Cluster %d", len(files)+1)
	if err := e.store.StoreCluster(ctx, clusterID, label, nil); err != nil {
		return "", err
	}

	logger.Debug().
		Str("cluster_id", clusterID).
		Float64("best_score", bestScore).
		Msg("Below assignment threshold, fresh cluster")
	return clusterID, nil
}

// ClusterFiles runs the authoritative batch pass: average-linkage
// agglomerative clustering over the similarity graph, merging until the
// nearest pair of clusters is farther apart than distanceThreshold.
// Cluster ids are a pure function of the partition, so an unchanged input
// reproduces identical identities.
func (e *Engine) ClusterFiles(ctx context.Context, adjacency semantic.Adjacency, files []semantic.EmbeddedFile, distanceThreshold float64) (*Partition, error) {
	ctx, span := tracing.StartSpan(ctx, "semfs.cluster", "cluster.batch")
	defer span.End()

	partition := &Partition{Assignments: make(map[string]string)}
	if len(adjacency) == 0 {
		return partition, nil
	}

	simMatrix, ids := adjacency.ToMatrix()

	distance := make([][]float64, len(ids))
	for i := range distance {
		distance[i] = make([]float64, len(ids))
		for j := range distance[i] {
			distance[i][j] = 1.0 - simMatrix[i][j]
		}
	}

	labels := agglomerate(distance, distanceThreshold)

	vectors := make(map[string][]float32, len(files))
	for _, f := range files {
		vectors[f.FileID] = f.Vector
	}

	members := make(map[int][]string)
	for i, label := range labels {
		members[label] = append(members[label], ids[i])
	}

	// Order groups by their smallest member id so ordinals, and therefore
	// cluster ids, do not depend on merge order.
	type rawGroup struct {
		key     string
		members []string
	}
	var raw []rawGroup
	for _, m := range members {
		sort.Strings(m)
		raw = append(raw, rawGroup{key: m[0], members: m})
	}
	sort.Slice(raw, func(i, j int) bool { return raw[i].key < raw[j].key })

	for ordinal, g := range raw {
		var memberVectors [][]float32
		for _, fileID := range g.members {
			if v, ok := vectors[fileID]; ok {
				memberVectors = append(memberVectors, v)
			}
		}

		group := Group{
			ID:       uuid.NewSHA1(uuid.NameSpaceDNS, []byte(fmt.Sprintf("semfs-cluster-%d", ordinal))).String(),
			Label:    fmt.Sprintf("Cluster %d", ordinal+1),
			Members:  g.members,
			Centroid: semantic.Centroid(memberVectors),
		}
		partition.Groups = append(partition.Groups, group)

		for _, fileID := range g.members {
			partition.Assignments[fileID] = group.ID
		}
	}

	log := tracing.LoggerFromContext(ctx, e.logger)
	log.Debug().
		Int("files", len(ids)).
		Int("clusters", len(partition.Groups)).
		Float64("distance_threshold", distanceThreshold).
		Msg("Batch reclustering complete")

	return partition, nil
}

// agglomerate performs average-linkage agglomerative clustering over a
// precomputed distance matrix and returns a cluster label per row. Merging
// stops once the closest pair of clusters exceeds the threshold.
func agglomerate(distance [][]float64, threshold float64) []int {
	n := len(distance)
	labels := make([]int, n)
	clusters := make([][]int, n)
	for i := 0; i < n; i++ {
		clusters[i] = []int{i}
	}

	avgDistance := func(a, b []int) float64 {
		sum := 0.0
		for _, i := range a {
			for _, j := range b {
				sum += distance[i][j]
			}
		}
		return sum / float64(len(a)*len(b))
	}

	for len(clusters) > 1 {
		bestI, bestJ := -1, -1
		bestDist := math.Inf(1)
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				if d := avgDistance(clusters[i], clusters[j]); d < bestDist {
					bestDist = d
					bestI, bestJ = i, j
				}
			}
		}

		if bestI == -1 || bestDist > threshold {
			break
		}

		clusters[bestI] = append(clusters[bestI], clusters[bestJ]...)
		clusters = append(clusters[:bestJ], clusters[bestJ+1:]...)
	}

	for label, members := range clusters {
		for _, i := range members {
			labels[i] = label
		}
	}
	return labels
}
