// Package store persists machine records between lifecycle operations so a
// later call re-enters with whatever the previous call managed to record.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// ErrNotFound is returned by Get when no record exists.
var ErrNotFound = errors.New("machine record not found")

// DBFile is the database file name inside the state directory.
const DBFile = "anvil.db"

var bucketMachines = []byte("machines")

// Store persists MachineSpec records by name.
type Store interface {
	Get(name string) (*v1alpha1.MachineSpec, error)
	Put(spec *v1alpha1.MachineSpec) error
	Delete(name string) error
	List() ([]*v1alpha1.MachineSpec, error)
	Close() error
}

// BoltStore implements Store using bbolt with YAML values.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the database in stateDir.
func NewBoltStore(stateDir string) (*BoltStore, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(stateDir, DBFile), 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMachines); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketMachines, err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Get returns the record for name or ErrNotFound.
func (s *BoltStore) Get(name string) (*v1alpha1.MachineSpec, error) {
	var spec v1alpha1.MachineSpec
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMachines).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return yaml.Unmarshal(data, &spec)
	})
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

// Put upserts the record under spec.Name.
func (s *BoltStore) Put(spec *v1alpha1.MachineSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("machine name is required")
	}
	v1alpha1.SetDefaultAPIVersion(spec)

	data, err := yaml.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal machine %s: %w", spec.Name, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMachines).Put([]byte(spec.Name), data)
	})
}

// Delete removes the record for name. Deleting a missing record is not an
// error.
func (s *BoltStore) Delete(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMachines).Delete([]byte(name))
	})
}

// List returns all records ordered by name.
func (s *BoltStore) List() ([]*v1alpha1.MachineSpec, error) {
	var specs []*v1alpha1.MachineSpec
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMachines).ForEach(func(k, v []byte) error {
			var spec v1alpha1.MachineSpec
			if err := yaml.Unmarshal(v, &spec); err != nil {
				return fmt.Errorf("failed to decode machine %s: %w", k, err)
			}
			specs = append(specs, &spec)
			return nil
		})
	})
	return specs, err
}
