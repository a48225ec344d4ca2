package index

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.etcd.io/bbolt"

	"grantwatch/internal/domain"
	"grantwatch/internal/port"
	"grantwatch/internal/similarity"
)

// SchemaVersion is bumped on breaking changes to the stored entry layout.
const SchemaVersion = 1

var (
	bucketGrants = []byte("grants")
	bucketMeta   = []byte("meta")

	keySchemaVersion = []byte("schema_version")
	keyDimension     = []byte("dimension")
	keyMetric        = []byte("metric")
	keyNextSeq       = []byte("next_seq")
)

// BoltIndex persists entries in BoltDB and keeps a copy in memory for brute-force search.
type BoltIndex struct {
	db        *bbolt.DB
	mu        sync.RWMutex
	metric    similarity.Metric
	dimension int
	nextSeq   uint64
	entries   map[string]storedEntry
}

type boltRecord struct {
	Vector []float32    `json:"v"`
	Seq    uint64       `json:"s"`
	Grant  domain.Grant `json:"g"`
}

// OpenBoltIndex opens or creates the index file at path.
// An existing file must have been written with the same metric and dimension.
func OpenBoltIndex(path string, metric similarity.Metric, dimension int) (*BoltIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index dir: %w", err)
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	idx := &BoltIndex{
		db:        db,
		metric:    metric,
		dimension: dimension,
		nextSeq:   1,
		entries:   make(map[string]storedEntry),
	}

	if err := idx.init(); err != nil {
		db.Close()
		return nil, err
	}
	if err := idx.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	return idx, nil
}

func (b *BoltIndex) init() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketGrants); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketGrants, err)
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketMeta, err)
		}

		if v := meta.Get(keySchemaVersion); v != nil {
			if got := int(binary.BigEndian.Uint64(v)); got > SchemaVersion {
				return fmt.Errorf("index created by newer version (v%d > v%d)", got, SchemaVersion)
			}
		}
		if v := meta.Get(keyMetric); v != nil && similarity.Metric(v) != b.metric {
			return fmt.Errorf("index metric is %s, configured %s", v, b.metric)
		}
		if v := meta.Get(keyDimension); v != nil {
			stored := int(binary.BigEndian.Uint64(v))
			if b.dimension != 0 && stored != 0 && stored != b.dimension {
				return fmt.Errorf("index dimension is %d, configured %d", stored, b.dimension)
			}
			if stored != 0 {
				b.dimension = stored
			}
		}
		if v := meta.Get(keyNextSeq); v != nil {
			b.nextSeq = binary.BigEndian.Uint64(v)
		}

		if err := meta.Put(keySchemaVersion, u64(SchemaVersion)); err != nil {
			return err
		}
		return meta.Put(keyMetric, []byte(b.metric))
	})
}

func (b *BoltIndex) load() error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketGrants).ForEach(func(k, v []byte) error {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt entry %s: %w", k, err)
			}
			b.entries[string(k)] = storedEntry{vector: rec.Vector, grant: rec.Grant, seq: rec.Seq}
			return nil
		})
	})
}

// Upsert writes the whole batch in one bolt transaction.
func (b *BoltIndex) Upsert(ctx context.Context, entries []port.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	dim, err := checkEntries(entries, b.dimension)
	if err != nil {
		return err
	}

	nextSeq := b.nextSeq
	staged := make(map[string]storedEntry, len(entries))
	err = b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketGrants)
		for _, e := range entries {
			seq, ok := uint64(0), false
			if prev, exists := staged[e.ID]; exists {
				seq, ok = prev.seq, true
			} else if prev, exists := b.entries[e.ID]; exists {
				seq, ok = prev.seq, true
			}
			if !ok {
				seq = nextSeq
				nextSeq++
			}

			data, err := json.Marshal(boltRecord{Vector: e.Vector, Seq: seq, Grant: e.Grant})
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(e.ID), data); err != nil {
				return err
			}
			staged[e.ID] = storedEntry{vector: copyVector(e.Vector), grant: e.Grant, seq: seq}
		}

		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keyDimension, u64(uint64(dim))); err != nil {
			return err
		}
		return meta.Put(keyNextSeq, u64(nextSeq))
	})
	if err != nil {
		return fmt.Errorf("failed to write entries: %w", err)
	}

	// Memory is only touched once the transaction committed.
	for id, e := range staged {
		b.entries[id] = e
	}
	b.dimension = dim
	b.nextSeq = nextSeq
	return nil
}

func (b *BoltIndex) Query(ctx context.Context, vector []float32, k int) ([]port.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.entries) == 0 {
		return nil, nil
	}
	if err := checkQuery(vector, b.dimension); err != nil {
		return nil, err
	}

	matches := make([]port.Match, 0, len(b.entries))
	for id, e := range b.entries {
		matches = append(matches, port.Match{
			ID:    id,
			Score: similarity.Score(b.metric, vector, e.vector),
			Seq:   e.seq,
			Grant: e.grant,
		})
	}
	return topK(matches, k), nil
}

func (b *BoltIndex) Get(ctx context.Context, id string) (domain.Grant, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Grant{}, false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entries[id]
	if !ok {
		return domain.Grant{}, false, nil
	}
	return e.grant, true, nil
}

func (b *BoltIndex) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketGrants)
		for _, id := range ids {
			if err := bucket.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete entries: %w", err)
	}
	for _, id := range ids {
		delete(b.entries, id)
	}
	return nil
}

func (b *BoltIndex) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries), nil
}

func (b *BoltIndex) Metric() string {
	return string(b.metric)
}

func (b *BoltIndex) Close() error {
	return b.db.Close()
}

func u64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
