package graphstore

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// snapshotPrefix namespaces blob keys inside a shared Badger instance, so
// this store can coexist with other uses of the same database file.
const snapshotPrefix = "snapshot:"

// BadgerBlobStore stores blobs as keys in a Badger key-value database
// (db.Update/db.View transactions, prefix-scanning iterators for List).
// Badger's own write-ahead log gives Put atomicity for free, so there is
// no separate temp-then-rename step here the way FSBlobStore needs one.
type BadgerBlobStore struct {
	db *badger.DB
}

// NewBadgerBlobStore opens (or creates) a Badger database at dir.
func NewBadgerBlobStore(dir string) (*BadgerBlobStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("graphstore: open badger: %w", err)
	}
	return &BadgerBlobStore{db: db}, nil
}

// Close releases the underlying Badger database.
func (s *BadgerBlobStore) Close() error {
	return s.db.Close()
}

func key(name string) []byte {
	return []byte(snapshotPrefix + name)
}

func (s *BadgerBlobStore) Get(name string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("graphstore: badger get %s: %w", name, err)
	}
	return out, nil
}

func (s *BadgerBlobStore) Put(name string, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(name), data)
	})
	if err != nil {
		return fmt.Errorf("graphstore: badger put %s: %w", name, err)
	}
	return nil
}

func (s *BadgerBlobStore) Rename(oldName, newName string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key(oldName))
		if err != nil {
			return err
		}
		var data []byte
		if err := item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return err
		}
		if err := txn.Set(key(newName), data); err != nil {
			return err
		}
		return txn.Delete(key(oldName))
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("graphstore: badger rename %s->%s: %w", oldName, newName, err)
	}
	return nil
}

func (s *BadgerBlobStore) Delete(name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key(name))
		if err != nil {
			return err
		}
		return txn.Delete(key(name))
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("graphstore: badger delete %s: %w", name, err)
	}
	return nil
}

func (s *BadgerBlobStore) List() ([]Info, error) {
	var out []Info
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(snapshotPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			name := string(item.Key()[len(snapshotPrefix):])
			out = append(out, Info{
				Name:    name,
				Size:    item.ValueSize(),
				ModTime: int64(item.Version()),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("graphstore: badger list: %w", err)
	}
	return out, nil
}
