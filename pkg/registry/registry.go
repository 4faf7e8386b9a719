package registry

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/semfs/semfs/internal/observability"
	"github.com/semfs/semfs/pkg/semantic"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// StatusActive marks a live file row. Removal deletes the row outright, so
// no other status value exists.
const StatusActive = "active"

// ErrNotFound indicates the requested record does not exist
var ErrNotFound = errors.New("record not found")

// FileRecord is the registry's view of one file
type FileRecord struct {
	ID         string
	Path       string
	Name       string
	Ext        string
	Digest     string // empty if the file was unreadable at scan time
	CreatedAt  time.Time
	ModifiedAt time.Time
	Status     string
}

// SemanticRecord holds the derived semantic data for a file
type SemanticRecord struct {
	FileID    string
	Embedding []float32
	Keywords  []string
	UpdatedAt time.Time
}

// Cluster is one derived grouping of files
type Cluster struct {
	ID       string
	Label    string
	Centroid []float32
}

// Membership assigns a file to its single cluster
type Membership struct {
	ClusterID  string
	Confidence float64
}

// Stats summarizes registry contents
type Stats struct {
	Files    int
	Embedded int
	Clusters int
}

// SearchResult is one ranked hit from a vector query
type SearchResult struct {
	FileID     string
	Path       string
	Similarity float64
}

// Config holds registry configuration
type Config struct {
	DBPath string
	Logger zerolog.Logger

	// Embedding length for the vector table; 0 disables vector queries
	Dimension int
}

// Registry is the persistent store of file identity, embeddings, clusters,
// and membership. Single-writer; concurrent mutations last-write-win.
type Registry struct {
	db        *sql.DB
	logger    zerolog.Logger
	dimension int
}

// New opens (creating if needed) the registry database
func New(cfg Config) (*Registry, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL for better concurrency between the processor and read-only queries
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	r := &Registry{
		db:        db,
		logger:    cfg.Logger.With().Str("component", "registry").Logger(),
		dimension: cfg.Dimension,
	}

	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return r, nil
}

func (r *Registry) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			ext TEXT NOT NULL,
			digest TEXT,
			created_at INTEGER NOT NULL,
			modified_at INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'active'
		);
		CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);

		CREATE TABLE IF NOT EXISTS semantics (
			file_id TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			keywords TEXT,
			updated_at INTEGER NOT NULL,
			FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS clusters (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			centroid BLOB,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS membership (
			file_id TEXT PRIMARY KEY,
			cluster_id TEXT NOT NULL,
			confidence REAL NOT NULL,
			FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE,
			FOREIGN KEY (cluster_id) REFERENCES clusters(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_membership_cluster ON membership(cluster_id);
	`

	if _, err := r.db.Exec(schema); err != nil {
		return err
	}

	if r.dimension > 0 {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS file_vectors USING vec0(
				file_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, r.dimension)

		if _, err := r.db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
	}

	return nil
}

// Close closes the underlying database
func (r *Registry) Close() error {
	return r.db.Close()
}

// CanonicalPath normalizes a path for identity and equality comparisons
func CanonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(abs)
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// deriveIdentity computes the file id and content digest. Identity follows
// content where possible so a rename keeps the record; unreadable files fall
// back to a path-derived id until a later successful read reconciles them.
func deriveIdentity(canonical string) (id, digest string) {
	data, err := os.ReadFile(canonical)
	if err != nil {
		return hashString(canonical), ""
	}

	sum := sha256.Sum256(data)
	digest = hex.EncodeToString(sum[:])
	return digest, digest
}

// UpsertFile registers a file or refreshes an existing record. Identity and
// digest are recomputed on every call; timestamps are refreshed.
func (r *Registry) UpsertFile(ctx context.Context, path string) (string, error) {
	canonical := CanonicalPath(path)
	id, digest := deriveIdentity(canonical)
	now := time.Now().Unix()

	name := filepath.Base(canonical)
	ext := strings.ToLower(filepath.Ext(canonical))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	// Same content id already registered: this is a rename or a re-scan.
	// Reconcile the record's path instead of creating a duplicate.
	var existingPath string
	err = tx.QueryRowContext(ctx, "SELECT path FROM files WHERE id = ?", id).Scan(&existingPath)
	switch {
	case err == nil:
		if existingPath != canonical {
			// If the old path still holds a live copy this is a duplicate,
			// not a move; give the new path its own path-derived identity.
			if _, statErr := os.Stat(existingPath); statErr == nil {
				id = hashString(canonical)
				break
			}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE files SET path = ?, name = ?, ext = ?, digest = ?, modified_at = ?, status = ?
			WHERE id = ?`,
			canonical, name, ext, nullable(digest), now, StatusActive, id)
		if err != nil {
			return "", err
		}
		if err := tx.Commit(); err != nil {
			return "", err
		}
		return id, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", err
	}

	// A record at this path with a different id means the content changed;
	// the old identity and its derived data are retired.
	var oldID string
	err = tx.QueryRowContext(ctx, "SELECT id FROM files WHERE path = ?", canonical).Scan(&oldID)
	if err == nil && oldID != id {
		if err := r.deleteByID(ctx, tx, oldID); err != nil {
			return "", err
		}
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO files (id, path, name, ext, digest, created_at, modified_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path, name = excluded.name, ext = excluded.ext,
			digest = excluded.digest, modified_at = excluded.modified_at, status = excluded.status`,
		id, canonical, name, ext, nullable(digest), now, now, StatusActive)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	r.logger.Debug().Str("file_id", id).Str("path", canonical).Msg("File upserted")
	return id, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (r *Registry) deleteByID(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE id = ?", id); err != nil {
		return err
	}
	if r.dimension > 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM file_vectors WHERE file_id = ?", id); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFile deletes the record for a path, cascading to its semantic data
// and cluster membership. Removing an unknown path is a no-op.
func (r *Registry) RemoveFile(ctx context.Context, path string) error {
	canonical := CanonicalPath(path)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, "SELECT id FROM files WHERE path = ?", canonical).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := r.deleteByID(ctx, tx, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	r.logger.Debug().Str("file_id", id).Str("path", canonical).Msg("File removed")
	return nil
}

// StoreEmbedding stores or replaces a file's embedding and keyword set.
// The file must be registered.
func (r *Registry) StoreEmbedding(ctx context.Context, fileID string, vector []float32, keywords []string) error {
	if len(vector) == 0 {
		return errors.New("embedding vector is empty")
	}

	var keywordsJSON interface{}
	if len(keywords) > 0 {
		data, err := json.Marshal(keywords)
		if err != nil {
			return err
		}
		keywordsJSON = string(data)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM files WHERE id = ? AND status = ?", fileID, StatusActive).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store embedding: %w: file %s", ErrNotFound, fileID)
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO semantics (file_id, embedding, keywords, updated_at)
		VALUES (?, ?, ?, ?)`,
		fileID, semantic.EncodeVector(vector), keywordsJSON, time.Now().Unix())
	if err != nil {
		return err
	}

	if r.dimension > 0 {
		serialized, err := sqlite_vec.SerializeFloat32(vector)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM file_vectors WHERE file_id = ?", fileID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO file_vectors (file_id, embedding) VALUES (?, ?)", fileID, serialized); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// StoreCluster creates a cluster if absent, refreshing label and centroid
// when it already exists.
func (r *Registry) StoreCluster(ctx context.Context, clusterID, label string, centroid []float32) error {
	var centroidBlob interface{}
	if len(centroid) > 0 {
		centroidBlob = semantic.EncodeVector(centroid)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clusters (id, label, centroid, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET label = excluded.label, centroid = excluded.centroid`,
		clusterID, label, centroidBlob, time.Now().Unix())
	return err
}

// SetMembership assigns a file to a cluster, replacing any prior assignment.
func (r *Registry) SetMembership(ctx context.Context, fileID, clusterID string, confidence float64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO membership (file_id, cluster_id, confidence)
		VALUES (?, ?, ?)`,
		fileID, clusterID, confidence)
	return err
}

// ReplaceClustering atomically swaps in a complete batch clustering result:
// all membership rows are rewritten, cluster rows upserted, and clusters no
// longer referenced are reaped. Either everything applies or nothing does.
func (r *Registry) ReplaceClustering(ctx context.Context, clusters []Cluster, memberships map[string]Membership) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM membership"); err != nil {
		return err
	}

	now := time.Now().Unix()
	for _, c := range clusters {
		var centroidBlob interface{}
		if len(c.Centroid) > 0 {
			centroidBlob = semantic.EncodeVector(c.Centroid)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO clusters (id, label, centroid, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET label = excluded.label, centroid = excluded.centroid`,
			c.ID, c.Label, centroidBlob, now)
		if err != nil {
			return err
		}
	}

	for fileID, m := range memberships {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO membership (file_id, cluster_id, confidence)
			VALUES (?, ?, ?)`,
			fileID, m.ClusterID, m.Confidence)
		if err != nil {
			return err
		}
	}

	// Orphaned clusters from earlier passes are derived data; reap them.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM clusters
		WHERE id NOT IN (SELECT DISTINCT cluster_id FROM membership)`); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	observability.SetClustersActive(len(clusters))
	return nil
}

// AllEmbeddings returns every active file that has a stored embedding.
func (r *Registry) AllEmbeddings(ctx context.Context) ([]semantic.EmbeddedFile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT f.id, f.path, s.embedding
		FROM files f
		JOIN semantics s ON f.id = s.file_id
		WHERE f.status = ?
		ORDER BY f.id`, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []semantic.EmbeddedFile
	for rows.Next() {
		var f semantic.EmbeddedFile
		var blob []byte
		if err := rows.Scan(&f.FileID, &f.Path, &blob); err != nil {
			return nil, err
		}
		vector, err := semantic.DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("corrupt embedding for %s: %w", f.FileID, err)
		}
		f.Vector = vector
		files = append(files, f)
	}

	return files, rows.Err()
}

// PathsInCluster returns the paths of all files assigned to a cluster.
func (r *Registry) PathsInCluster(ctx context.Context, clusterID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT f.path
		FROM files f
		JOIN membership m ON f.id = m.file_id
		WHERE m.cluster_id = ?
		ORDER BY f.path`, clusterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}

	return paths, rows.Err()
}

// PathForID resolves a file id to its current path.
func (r *Registry) PathForID(ctx context.Context, fileID string) (string, bool, error) {
	var path string
	err := r.db.QueryRowContext(ctx, "SELECT path FROM files WHERE id = ?", fileID).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return path, true, nil
}

// ClusterForFile returns the cluster a file currently belongs to.
func (r *Registry) ClusterForFile(ctx context.Context, fileID string) (string, bool, error) {
	var clusterID string
	err := r.db.QueryRowContext(ctx, "SELECT cluster_id FROM membership WHERE file_id = ?", fileID).Scan(&clusterID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return clusterID, true, nil
}

// FileByPath returns the record registered at a canonical path.
func (r *Registry) FileByPath(ctx context.Context, path string) (*FileRecord, error) {
	canonical := CanonicalPath(path)

	var f FileRecord
	var digest sql.NullString
	var created, modified int64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, path, name, ext, digest, created_at, modified_at, status
		FROM files WHERE path = ?`, canonical).
		Scan(&f.ID, &f.Path, &f.Name, &f.Ext, &digest, &created, &modified, &f.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	f.Digest = digest.String
	f.CreatedAt = time.Unix(created, 0)
	f.ModifiedAt = time.Unix(modified, 0)
	return &f, nil
}

// SemanticFor returns the stored semantic record for a file.
func (r *Registry) SemanticFor(ctx context.Context, fileID string) (*SemanticRecord, error) {
	var blob []byte
	var keywordsJSON sql.NullString
	var updated int64
	err := r.db.QueryRowContext(ctx, `
		SELECT embedding, keywords, updated_at FROM semantics WHERE file_id = ?`, fileID).
		Scan(&blob, &keywordsJSON, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	vector, err := semantic.DecodeVector(blob)
	if err != nil {
		return nil, err
	}

	rec := &SemanticRecord{
		FileID:    fileID,
		Embedding: vector,
		UpdatedAt: time.Unix(updated, 0),
	}
	if keywordsJSON.Valid {
		if err := json.Unmarshal([]byte(keywordsJSON.String), &rec.Keywords); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// NearestFiles ranks embedded files against a query vector using the vec0
// table, most similar first.
func (r *Registry) NearestFiles(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
	if r.dimension == 0 {
		return nil, errors.New("vector queries are disabled (dimension 0)")
	}

	serialized, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT v.file_id, f.path, vec_distance_cosine(v.embedding, ?) AS distance
		FROM file_vectors v
		JOIN files f ON f.id = v.file_id
		ORDER BY distance ASC
		LIMIT ?`, serialized, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var res SearchResult
		var distance float64
		if err := rows.Scan(&res.FileID, &res.Path, &distance); err != nil {
			return nil, err
		}
		res.Similarity = 1.0 - distance
		results = append(results, res)
	}

	return results, rows.Err()
}

// Counts reports registry totals and refreshes the registry gauges.
func (r *Registry) Counts(ctx context.Context) (Stats, error) {
	var s Stats
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files WHERE status = ?", StatusActive).Scan(&s.Files); err != nil {
		return s, err
	}
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM semantics").Scan(&s.Embedded); err != nil {
		return s, err
	}
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM clusters").Scan(&s.Clusters); err != nil {
		return s, err
	}

	observability.SetRegistryCounts(s.Files, s.Embedded)
	return s, nil
}
