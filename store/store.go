// Copyright 2019 The SpO2 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store persists one UrlValue per monitored URL in a bbolt
// database, keyed by the URL string. All mutations run inside a single
// write transaction, which is what makes the read-modify-write operations
// below atomic: bbolt serializes writers, so a probe patching status can
// never interleave with a user patching data.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/spo2server/spo2"
)

// ErrNotFound is returned when no record exists for a URL. The health
// checker treats it as its stop signal.
var ErrNotFound = errors.New("url not found")

var urlsBucket = []byte("urls")

// Store is a handle on the database. It is cheap to share across
// goroutines.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %v", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(urlsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %v", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the record stored for url, without the URL attached.
func (s *Store) Get(url string) (*spo2.UrlValue, error) {
	var value *spo2.UrlValue
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(urlsBucket).Get([]byte(url))
		if raw == nil {
			return ErrNotFound
		}
		value = new(spo2.UrlValue)
		if err := json.Unmarshal(raw, value); err != nil {
			return fmt.Errorf("decoding record for %s: %v", url, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Upsert atomically installs or patches the record for url. When the key is
// absent a fresh Healthy record holding data is stored and created is true.
// When a record exists only its data is replaced; the status and reason
// last written by the probe loop are kept. (Symmetrically, PatchStatus
// never touches data.)
func (s *Store) Upsert(url string, data json.RawMessage) (value *spo2.UrlValue, created bool, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(urlsBucket)
		raw := b.Get([]byte(url))
		if raw == nil {
			created = true
			value = &spo2.UrlValue{Status: spo2.StatusHealthy, Data: data}
		} else {
			value = new(spo2.UrlValue)
			if err := json.Unmarshal(raw, value); err != nil {
				return fmt.Errorf("decoding record for %s: %v", url, err)
			}
			value.Data = data
		}
		enc, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encoding record for %s: %v", url, err)
		}
		return b.Put([]byte(url), enc)
	})
	if err != nil {
		return nil, false, err
	}
	return value, created, nil
}

// PatchStatus atomically overwrites the status and reason of an existing
// record, preserving everything else, and returns the updated record. A
// missing key yields ErrNotFound.
func (s *Store) PatchStatus(url string, status spo2.Status, reason string) (*spo2.UrlValue, error) {
	var value *spo2.UrlValue
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(urlsBucket)
		raw := b.Get([]byte(url))
		if raw == nil {
			return ErrNotFound
		}
		value = new(spo2.UrlValue)
		if err := json.Unmarshal(raw, value); err != nil {
			return fmt.Errorf("decoding record for %s: %v", url, err)
		}
		value.Status = status
		value.Reason = reason
		enc, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encoding record for %s: %v", url, err)
		}
		return b.Put([]byte(url), enc)
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Delete removes the record for url and returns it as it was stored, or
// ErrNotFound.
func (s *Store) Delete(url string) (*spo2.UrlValue, error) {
	var value *spo2.UrlValue
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(urlsBucket)
		raw := b.Get([]byte(url))
		if raw == nil {
			return ErrNotFound
		}
		value = new(spo2.UrlValue)
		if err := json.Unmarshal(raw, value); err != nil {
			return fmt.Errorf("decoding record for %s: %v", url, err)
		}
		return b.Delete([]byte(url))
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// List returns every record in key order, each with its URL attached.
func (s *Store) List() ([]*spo2.UrlValue, error) {
	var values []*spo2.UrlValue
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(urlsBucket).ForEach(func(k, v []byte) error {
			value := new(spo2.UrlValue)
			if err := json.Unmarshal(v, value); err != nil {
				return fmt.Errorf("decoding record for %s: %v", k, err)
			}
			value.URL = string(k)
			values = append(values, value)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// Keys returns every monitored URL in key order.
func (s *Store) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(urlsBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
