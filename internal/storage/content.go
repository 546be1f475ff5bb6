package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var contentBucket = []byte("content")

// ErrContentNotFound is returned when no content is cached for a key.
var ErrContentNotFound = errors.New("content not found")

// ContentStore keeps the raw text of fetched sources on disk, keyed by source
// id. URL sources write here before their cache record is created so that a
// crash never loses bytes that were already downloaded.
type ContentStore struct {
	db *bolt.DB
}

// OpenContentStore opens or creates a bbolt database at path.
func OpenContentStore(path string) (*ContentStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating content store directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening content store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(contentBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating content bucket: %w", err)
	}

	return &ContentStore{db: db}, nil
}

// Put stores text under key, replacing any previous value.
func (c *ContentStore) Put(key, text string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(contentBucket).Put([]byte(key), []byte(text))
	})
}

// Get returns the text stored under key.
func (c *ContentStore) Get(key string) (string, error) {
	var text string
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(contentBucket).Get([]byte(key))
		if v == nil {
			return ErrContentNotFound
		}
		// v is only valid inside the transaction.
		text = string(v)
		return nil
	})
	return text, err
}

// Delete removes the text stored under key. Deleting a missing key is not an error.
func (c *ContentStore) Delete(key string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(contentBucket).Delete([]byte(key))
	})
}

// Keys returns every stored key in byte order.
func (c *ContentStore) Keys() ([]string, error) {
	var keys []string
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(contentBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// Close closes the underlying database.
func (c *ContentStore) Close() error {
	return c.db.Close()
}
