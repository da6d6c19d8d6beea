// Package orderstore persists standing orders in a BoltDB file so a restarted
// watcher daemon picks up where it left off.
package orderstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	bolt "go.etcd.io/bbolt"

	"marginflow/native/orders"
)

var bucketOrders = []byte("orders")

// Store implements orders.Store on top of a BoltDB file.
type Store struct {
	db *bolt.DB
}

// NewStore opens (and migrates) the database at path.
func NewStore(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("orderstore: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOrders)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put writes the order record under its hash.
func (s *Store) Put(order *orders.Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOrders).Put(order.Hash().Bytes(), payload)
	})
}

// Get loads the order stored under hash.
func (s *Store) Get(hash common.Hash) (*orders.Order, error) {
	var order orders.Order
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketOrders).Get(hash.Bytes())
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &order); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, orders.ErrOrderNotFound
	}
	return &order, nil
}

// List returns every stored order.
func (s *Store) List() ([]*orders.Order, error) {
	var out []*orders.Order
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOrders).ForEach(func(_, raw []byte) error {
			var order orders.Order
			if err := json.Unmarshal(raw, &order); err != nil {
				return err
			}
			out = append(out, &order)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
