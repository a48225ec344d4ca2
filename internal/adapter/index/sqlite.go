package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	_ "modernc.org/sqlite"

	"grantwatch/internal/domain"
	"grantwatch/internal/port"
	"grantwatch/internal/similarity"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS grants (
	id      TEXT PRIMARY KEY,
	seq     INTEGER NOT NULL,
	vector  BLOB NOT NULL,
	payload TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// SQLiteIndex stores entries in a single SQLite file and scans them on query.
type SQLiteIndex struct {
	db        *sql.DB
	mu        sync.RWMutex
	metric    similarity.Metric
	dimension int
}

// OpenSQLiteIndex opens or creates the database at path.
func OpenSQLiteIndex(path string, metric similarity.Metric, dimension int) (*SQLiteIndex, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create index dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// one connection keeps ":memory:" databases shared and writes serialized
	db.SetMaxOpenConns(1)

	idx := &SQLiteIndex{db: db, metric: metric, dimension: dimension}
	if err := idx.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (s *SQLiteIndex) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	meta, err := s.readMeta(ctx)
	if err != nil {
		return err
	}
	if m, ok := meta["metric"]; ok && similarity.Metric(m) != s.metric {
		return fmt.Errorf("index metric is %s, configured %s", m, s.metric)
	}
	if d, ok := meta["dimension"]; ok {
		stored, err := strconv.Atoi(d)
		if err != nil {
			return fmt.Errorf("corrupt dimension %q: %w", d, err)
		}
		if s.dimension != 0 && stored != 0 && stored != s.dimension {
			return fmt.Errorf("index dimension is %d, configured %d", stored, s.dimension)
		}
		if stored != 0 {
			s.dimension = stored
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('metric', ?), ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		string(s.metric), strconv.Itoa(SchemaVersion))
	return err
}

func (s *SQLiteIndex) readMeta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("failed to read meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

// Upsert writes the whole batch in one transaction. The insertion sequence
// of an existing id is kept.
func (s *SQLiteIndex) Upsert(ctx context.Context, entries []port.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dim, err := checkEntries(entries, s.dimension)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO grants (id, seq, vector, payload)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM grants), ?, ?)
		 ON CONFLICT(id) DO UPDATE SET vector = excluded.vector, payload = excluded.payload`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		payload, err := json.Marshal(e.Grant)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, e.ID, encodeVector(e.Vector), string(payload)); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", e.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('dimension', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(dim)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.dimension = dim
	return nil
}

func (s *SQLiteIndex) Query(ctx context.Context, vector []float32, k int) ([]port.Match, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, seq, vector, payload FROM grants`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan grants: %w", err)
	}
	defer rows.Close()

	var matches []port.Match
	for rows.Next() {
		var (
			id      string
			seq     uint64
			blob    []byte
			payload string
		)
		if err := rows.Scan(&id, &seq, &blob, &payload); err != nil {
			return nil, err
		}
		var g domain.Grant
		if err := json.Unmarshal([]byte(payload), &g); err != nil {
			return nil, fmt.Errorf("corrupt payload for %s: %w", id, err)
		}
		matches = append(matches, port.Match{
			ID:    id,
			Score: similarity.Score(s.metric, vector, decodeVector(blob)),
			Seq:   seq,
			Grant: g,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	if err := checkQuery(vector, s.dimension); err != nil {
		return nil, err
	}
	return topK(matches, k), nil
}

func (s *SQLiteIndex) Get(ctx context.Context, id string) (domain.Grant, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM grants WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.Grant{}, false, nil
	}
	if err != nil {
		return domain.Grant{}, false, fmt.Errorf("failed to get %s: %w", id, err)
	}

	var g domain.Grant
	if err := json.Unmarshal([]byte(payload), &g); err != nil {
		return domain.Grant{}, false, fmt.Errorf("corrupt payload for %s: %w", id, err)
	}
	return g, true, nil
}

func (s *SQLiteIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM grants WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM grants`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteIndex) Metric() string {
	return string(s.metric)
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}
