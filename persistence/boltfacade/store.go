// Package boltfacade is the default persistence.Store implementation,
// backed by an embedded go.etcd.io/bbolt database: one bucket per entity
// family, records kept as opaque bytes within a single transaction per
// Apply call, grounded on the teacher's
// services/identity-gateway/store.go MutateEmail/bucket-per-family shape.
package boltfacade

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/freedomlayer/offset/persistence"
)

var allFamilies = []persistence.Family{
	persistence.FamilyFriends,
	persistence.FamilyTokenChannels,
	persistence.FamilyPending,
	persistence.FamilyInvoices,
	persistence.FamilyPayments,
	persistence.FamilyRelayConfig,
	persistence.FamilyIndexConfig,
}

// Store is the bbolt-backed default persistence.Store.
type Store struct {
	db *bolt.DB
}

// Open initializes (and migrates) the bbolt database at path, creating one
// bucket per known Family if missing.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, family := range allFamilies {
			if _, err := tx.CreateBucketIfNotExists([]byte(family)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Apply commits every Mutation in batch within one bbolt transaction.
func (s *Store) Apply(ctx context.Context, batch []persistence.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, m := range batch {
			bucket := tx.Bucket([]byte(m.Family))
			if bucket == nil {
				return fmt.Errorf("boltfacade: unknown family %q", m.Family)
			}
			switch m.Op {
			case persistence.OpPut:
				if err := bucket.Put([]byte(m.Key), m.Value); err != nil {
					return err
				}
			case persistence.OpDelete:
				if err := bucket.Delete([]byte(m.Key)); err != nil {
					return err
				}
			default:
				return fmt.Errorf("boltfacade: unknown mutation op %d", m.Op)
			}
		}
		return nil
	})
}

// Get fetches one record, if present.
func (s *Store) Get(ctx context.Context, family persistence.Family, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(family))
		if bucket == nil {
			return fmt.Errorf("boltfacade: unknown family %q", family)
		}
		if raw := bucket.Get([]byte(key)); raw != nil {
			value = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

// List returns every record currently stored in family, keyed by its
// record key. Used at process restart to rehydrate in-memory state (Funder
// friends, PendingTransactions tables, PaymentEngine books) before the
// first inbound message is processed.
func (s *Store) List(ctx context.Context, family persistence.Family) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(family))
		if bucket == nil {
			return fmt.Errorf("boltfacade: unknown family %q", family)
		}
		return bucket.ForEach(func(k, v []byte) error {
			out[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
