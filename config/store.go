package config

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger"
	"github.com/golang/glog"
)

// slotKey is the single key the configuration lives under.
var slotKey = []byte("galleryConfig")

// Store persists one Configuration in a local badger directory.
type Store struct {
	db *badger.DB
}

// OpenStore opens (creating if needed) the state directory at dir.
func OpenStore(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("while opening badger state dir %q: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("while closing badger state dir: %w", err)
	}
	return nil
}

// Load returns the persisted configuration.  A missing slot, a read failure
// and an unparseable record are all reported as absent.
func (s *Store) Load() (*Configuration, bool) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(slotKey)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false
	}
	if err != nil {
		glog.Warningf("Ignoring persisted configuration; read failed: %v", err)
		return nil, false
	}

	cfg, err := Parse(string(data))
	if err != nil {
		glog.Warningf("Ignoring persisted configuration; parse failed: %v", err)
		return nil, false
	}
	return cfg, true
}

// Save overwrites the slot with cfg.
func (s *Store) Save(cfg *Configuration) error {
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(slotKey, data)
	})
	if err != nil {
		return fmt.Errorf("while writing configuration slot: %w", err)
	}
	return nil
}

// Clear removes the persisted configuration, if any.
func (s *Store) Clear() error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(slotKey)
	})
	if err != nil {
		return fmt.Errorf("while clearing configuration slot: %w", err)
	}
	return nil
}
