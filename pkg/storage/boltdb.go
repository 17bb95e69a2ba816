package storage

import (
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketBlobs     = []byte("blobs")
	bucketSnapshots = []byte("snapshots")
)

// BoltStore implements Store using an embedded bbolt database. Snapshot
// trees live in nested buckets under bucketSnapshots, one nested bucket
// per subtree ("channels" or "legacy"), so a migration between the two
// formats is a bucket-to-bucket copy rather than a key rewrite.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a bbolt database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "chancol.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBlobs); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketBlobs, err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketSnapshots); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketSnapshots, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// PutBlob writes a blob under id, creating or overwriting it.
func (s *BoltStore) PutBlob(id string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put([]byte(id), data)
	})
}

// GetBlob reads a blob by id.
func (s *BoltStore) GetBlob(id string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBlobs).Get([]byte(id))
		if data == nil {
			return ErrBlobNotFound{ID: id}
		}
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

// DeleteBlob removes a blob.
func (s *BoltStore) DeleteBlob(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).Delete([]byte(id))
	})
}

// PutSnapshot persists a flattened entry tree under subtree/id.
func (s *BoltStore) PutSnapshot(subtree, id string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		sub, err := tx.Bucket(bucketSnapshots).CreateBucketIfNotExists([]byte(subtree))
		if err != nil {
			return fmt.Errorf("failed to create subtree bucket %s: %w", subtree, err)
		}
		return sub.Put([]byte(id), data)
	})
}

// GetSnapshot reads a persisted snapshot tree by subtree and id.
func (s *BoltStore) GetSnapshot(subtree, id string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		sub := tx.Bucket(bucketSnapshots).Bucket([]byte(subtree))
		if sub == nil {
			return ErrSnapshotNotFound{Subtree: subtree, ID: id}
		}
		data := sub.Get([]byte(id))
		if data == nil {
			return ErrSnapshotNotFound{Subtree: subtree, ID: id}
		}
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

// DeleteSnapshot removes a persisted snapshot tree.
func (s *BoltStore) DeleteSnapshot(subtree, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		sub := tx.Bucket(bucketSnapshots).Bucket([]byte(subtree))
		if sub == nil {
			return nil
		}
		return sub.Delete([]byte(id))
	})
}

// ListSnapshotIDs returns every id persisted under the given subtree.
func (s *BoltStore) ListSnapshotIDs(subtree string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		sub := tx.Bucket(bucketSnapshots).Bucket([]byte(subtree))
		if sub == nil {
			return nil
		}
		return sub.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}
