package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kioku/internal/models"
)

// SQLiteStore implements Store on a SQLite database. Vectors are stored as
// little-endian float32 BLOBs; nearest-neighbor queries scan and rank
// in-process so similarity math stays exact.
type SQLiteStore struct {
	db         *sql.DB
	dbPath     string
	dimensions int
}

// NewSQLiteStore opens or creates the memory database at dbPath, initializes
// the schema, and inserts the bootstrap SYSTEM record when the table is
// empty. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string, dimensions int) (*SQLiteStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One shared connection: SQLite serializes concurrent writes internally,
	// and a single writer avoids lock contention across request handlers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: dbPath, dimensions: dimensions}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.bootstrap(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to bootstrap store: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		confidence REAL NOT NULL DEFAULT 0,
		session_source TEXT NOT NULL DEFAULT '',
		project_path TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		last_accessed_at TIMESTAMP NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		vector BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_memories_type_created ON memories(type, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// bootstrap inserts one SYSTEM record with a zero vector into an empty
// table to establish a stable schema anchor.
func (s *SQLiteStore) bootstrap() error {
	var count int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	now := time.Now().UTC()
	rec := &models.MemoryRecord{
		ID:             uuid.NewString(),
		Type:           models.TypeSystem,
		Content:        "schema anchor",
		Confidence:     1,
		CreatedAt:      now,
		LastAccessedAt: now,
		Vector:         make([]float32, s.dimensions),
	}
	return s.Insert(context.Background(), rec)
}

// Insert adds a record. Failures wrap models.ErrStorage.
func (s *SQLiteStore) Insert(ctx context.Context, rec *models.MemoryRecord) error {
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("%w: marshal tags: %v", models.ErrStorage, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (id, type, content, context, tags, confidence,
			session_source, project_path, created_at, last_accessed_at, access_count, vector)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Type, rec.Content, rec.Context, string(tags), rec.Confidence,
		rec.SessionSource, rec.ProjectPath, rec.CreatedAt, rec.LastAccessedAt,
		rec.AccessCount, vectorToBytes(rec.Vector),
	)
	if err != nil {
		return fmt.Errorf("%w: insert memory: %v", models.ErrStorage, err)
	}
	return nil
}

// VectorQuery scans all rows, ranks them by ascending cosine distance from
// query, and returns the nearest limit records.
func (s *SQLiteStore) VectorQuery(ctx context.Context, query []float32, limit int) ([]*models.MemoryRecord, error) {
	records, err := s.AllRecords(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || len(records) == 0 {
		return nil, nil
	}

	type scored struct {
		rec      *models.MemoryRecord
		distance float64
	}
	ranked := make([]scored, len(records))
	for i, rec := range records {
		ranked[i] = scored{rec: rec, distance: 1 - CosineSimilarity(query, rec.Vector)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].distance < ranked[j].distance })

	if limit > len(ranked) {
		limit = len(ranked)
	}
	out := make([]*models.MemoryRecord, limit)
	for i := 0; i < limit; i++ {
		out[i] = ranked[i].rec
	}
	return out, nil
}

// CountRows returns the total row count, bootstrap record included.
func (s *SQLiteStore) CountRows(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&count)
	return count, err
}

// UpdateAccess sets last_accessed_at and access_count. A missing id is a
// no-op; access counters are telemetry, last writer wins.
func (s *SQLiteStore) UpdateAccess(ctx context.Context, id string, lastAccessedAt time.Time, accessCount int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET last_accessed_at = ?, access_count = ? WHERE id = ?`,
		lastAccessedAt, accessCount, id,
	)
	if err != nil {
		return fmt.Errorf("update access for %s: %w", id, err)
	}
	return nil
}

// Delete removes a record by id. Deleting an absent id succeeds.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete memory %s: %v", models.ErrStorage, id, err)
	}
	return nil
}

// AllRecords returns every stored record with its vector.
func (s *SQLiteStore) AllRecords(ctx context.Context) ([]*models.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, content, context, tags, confidence, session_source,
			project_path, created_at, last_accessed_at, access_count, vector
		 FROM memories`,
	)
	if err != nil {
		return nil, fmt.Errorf("scan memories: %w", err)
	}
	defer rows.Close()

	var records []*models.MemoryRecord
	for rows.Next() {
		var rec models.MemoryRecord
		var tagsJSON string
		var blob []byte
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Content, &rec.Context, &tagsJSON,
			&rec.Confidence, &rec.SessionSource, &rec.ProjectPath,
			&rec.CreatedAt, &rec.LastAccessedAt, &rec.AccessCount, &blob); err != nil {
			return nil, err
		}
		if tagsJSON != "" {
			_ = json.Unmarshal([]byte(tagsJSON), &rec.Tags)
		}
		rec.Vector = bytesToVector(blob)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Compact reclaims space from deleted and updated rows.
func (s *SQLiteStore) Compact(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	return nil
}

// SizeBytes returns the on-disk size of the database including WAL sidecars.
func (s *SQLiteStore) SizeBytes() (int64, error) {
	var total int64
	for _, p := range []string{s.dbPath, s.dbPath + "-wal", s.dbPath + "-shm"} {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func vectorToBytes(v []float32) []byte {
	const size = 4
	out := make([]byte, len(v)*size)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(f))
	}
	return out
}

func bytesToVector(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
