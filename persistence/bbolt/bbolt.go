// Package bbolt keeps retained messages on disk.
// Every bucket owns one bbolt file, payloads live in a separate shared file.
package bbolt

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	bolt "go.etcd.io/bbolt"

	"github.com/zhimiaox/zmqx-retained/persistence"
)

const (
	DriverName = "bbolt"

	payloadFile = "payloads.db"
)

type Config struct {
	// Path is the directory holding the database files.
	Path string
	// NoSync skips fsync after each commit, trading durability for speed.
	NoSync bool
	// Now decides message expiry, time.Now when nil.
	Now func() time.Time
}

type store struct {
	retained *retained
	payloads *payloads
}

func (s *store) Local() persistence.RetainedLocal {
	return s.retained
}

func (s *store) Payloads() persistence.PayloadStore {
	return s.payloads
}

// Close closes the payload file and any bucket file still open.
func (s *store) Close() error {
	var result *multierror.Error
	for i := range s.retained.buckets {
		if err := s.retained.CloseDB(i); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := s.payloads.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// New opens, creating when needed, the files of bucketCount buckets under config.Path.
func New(config Config, bucketCount int) (persistence.Backend, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("\"path\" is required")
	}
	if err := os.MkdirAll(config.Path, 0o755); err != nil {
		return nil, fmt.Errorf("could not create bbolt directory %s: %w", config.Path, err)
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	opts := &bolt.Options{Timeout: time.Second, NoSync: config.NoSync}

	payloads, err := openPayloads(filepath.Join(config.Path, payloadFile), opts)
	if err != nil {
		return nil, err
	}
	retained, err := openRetained(config.Path, bucketCount, opts, now)
	if err != nil {
		return nil, multierror.Append(err, payloads.Close()).ErrorOrNil()
	}
	return &store{retained: retained, payloads: payloads}, nil
}

func open(path string, opts *bolt.Options, buckets ...[]byte) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, opts)
	if err != nil {
		return nil, fmt.Errorf("could not open bbolt store at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not ensure buckets exist in %s: %w", path, err)
	}
	return db, nil
}
