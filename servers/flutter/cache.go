package flutter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketGenerations = []byte("generations")
	bucketDoctorRuns  = []byte("doctor_runs")
)

// Generation records a single scaffold run: which tool ran, with what inputs,
// and which files it wrote. The export_context tool and doctor history read
// these back.
type Generation struct {
	ID        string          `json:"id"`
	Tool      string          `json:"tool"`
	Project   string          `json:"project"`
	Arguments json.RawMessage `json:"arguments"`
	Files     []string        `json:"files"`
	CreatedAt time.Time       `json:"createdAt"`
}

// DoctorRun records the outcome of one diagnostics pass.
type DoctorRun struct {
	ID        string    `json:"id"`
	Healthy   bool      `json:"healthy"`
	Failures  []string  `json:"failures,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Cache is a bbolt-backed record of scaffold activity. All methods are safe
// for concurrent use; bbolt serializes writers internally.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens or creates the cache database at path, creating parent
// directories as needed.
func OpenCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketGenerations, bucketDoctorRuns} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db}, nil
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// RecordGeneration stores a generation record and returns its assigned id.
// Keys are timestamp-prefixed so bucket order is chronological.
func (c *Cache) RecordGeneration(gen Generation) (string, error) {
	gen.ID = uuid.New().String()
	if gen.CreatedAt.IsZero() {
		gen.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(gen)
	if err != nil {
		return "", fmt.Errorf("failed to marshal generation: %w", err)
	}

	key := fmt.Sprintf("%s/%s", gen.CreatedAt.Format(time.RFC3339Nano), gen.ID)
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGenerations).Put([]byte(key), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store generation: %w", err)
	}
	return gen.ID, nil
}

// Generations returns up to limit most recent generation records, newest
// first. A non-positive limit returns everything.
func (c *Cache) Generations(limit int) ([]Generation, error) {
	var out []Generation
	err := c.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketGenerations).Cursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			var gen Generation
			if err := json.Unmarshal(v, &gen); err != nil {
				return fmt.Errorf("failed to unmarshal generation %s: %w", k, err)
			}
			out = append(out, gen)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordDoctorRun stores the outcome of a diagnostics pass.
func (c *Cache) RecordDoctorRun(run DoctorRun) error {
	run.ID = uuid.New().String()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal doctor run: %w", err)
	}

	key := fmt.Sprintf("%s/%s", run.CreatedAt.Format(time.RFC3339Nano), run.ID)
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDoctorRuns).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store doctor run: %w", err)
	}
	return nil
}

// LastDoctorRun returns the most recent diagnostics outcome, or false when
// none has been recorded yet.
func (c *Cache) LastDoctorRun() (DoctorRun, bool, error) {
	var run DoctorRun
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		_, v := tx.Bucket(bucketDoctorRuns).Cursor().Last()
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &run); err != nil {
			return fmt.Errorf("failed to unmarshal doctor run: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return DoctorRun{}, false, err
	}
	return run, found, nil
}
