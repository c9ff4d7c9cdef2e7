package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketSources = []byte("sources")

// boltMirror durably persists only the sources table; sources and their
// options are the only rows restored on reconnect, everything else is
// re-derived from bulk dumps. One bucket per table, JSON values.
type boltMirror struct {
	db *bolt.DB
}

func openBoltMirror(dataDir string) (*boltMirror, error) {
	dbPath := filepath.Join(dataDir, "ndb.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open sources database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSources)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &boltMirror{db: db}, nil
}

func (m *boltMirror) putSource(row SourceRow) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSources)
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put([]byte(row.Target), data)
	})
}

func (m *boltMirror) deleteSource(target string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSources)
		return b.Delete([]byte(target))
	})
}

func (m *boltMirror) loadSources() ([]SourceRow, error) {
	var rows []SourceRow
	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSources)
		return b.ForEach(func(k, v []byte) error {
			var row SourceRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			rows = append(rows, row)
			return nil
		})
	})
	return rows, err
}

func (m *boltMirror) close() error {
	return m.db.Close()
}
