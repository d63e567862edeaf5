/*
 * Copyright (c) 2026, Psiphon Inc.
 * All rights reserved.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package psiphon

import (
	"os"
	"path/filepath"
	"time"

	"github.com/Psiphon-Labs/bolt"
	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/errors"
	"github.com/fxamacker/cbor/v2"
)

var (
	datastoreExtractedExecutablesBucket = []byte("extractedExecutables")
	datastoreRegisteredHostKeysBucket   = []byte("registeredHostKeys")
)

// Times are stored with full precision, as file modification times are
// compared for equality.
var datastoreEncMode = mustCBOREncMode(cbor.EncOptions{Time: cbor.TimeRFC3339Nano})

func mustCBOREncMode(options cbor.EncOptions) cbor.EncMode {
	encMode, err := options.EncMode()
	if err != nil {
		panic(err)
	}
	return encMode
}

// ExtractedExecutableRecord describes an executable written to disk by
// ExtractExecutable. Digest is the hex SHA-256 of the file contents.
type ExtractedExecutableRecord struct {
	Path          string    `cbor:"1,keyasint"`
	ResourceID    string    `cbor:"2,keyasint"`
	Digest        string    `cbor:"3,keyasint"`
	Size          int64     `cbor:"4,keyasint"`
	ModTime       time.Time `cbor:"5,keyasint"`
	ExtractedTime time.Time `cbor:"6,keyasint"`
}

// RegisteredHostKeyRecord is a host key cache entry written by
// RegisterSSHHostKey. These records are the ledger of entries left in the
// host key cache, which are never removed.
type RegisteredHostKeyRecord struct {
	Name           string    `cbor:"1,keyasint"`
	Fingerprint    string    `cbor:"2,keyasint,omitempty"`
	RegisteredTime time.Time `cbor:"3,keyasint"`
}

// DataStore is the persistent client state, kept in a bolt database in the
// DataStoreDirectory.
type DataStore struct {
	db *bolt.DB
}

// OpenDataStore opens, and creates when necessary, the data store. A
// corrupt data store file is deleted and recreated.
func OpenDataStore(config *Config) (*DataStore, error) {

	filename := filepath.Join(config.DataStoreDirectory, DATA_STORE_FILENAME)

	var db *bolt.DB
	var err error

	for retry := 0; retry < 3; retry++ {

		if retry > 0 {
			NoticeWarning("OpenDataStore retry: %d", retry)
		}

		db, err = bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second})

		// The datastore file may be corrupt, so attempt to delete and try again
		if err != nil {
			NoticeWarning("bolt.Open error: %s", err)
			os.Remove(filename)
			continue
		}

		err = db.View(func(tx *bolt.Tx) error {
			return tx.SynchronousCheck()
		})

		// The datastore file may be corrupt, so attempt to delete and try again
		if err != nil {
			NoticeWarning("bolt.SynchronousCheck error: %s", err)
			db.Close()
			os.Remove(filename)
			continue
		}

		break
	}

	if err != nil {
		return nil, errors.Trace(err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		requiredBuckets := [][]byte{
			datastoreExtractedExecutablesBucket,
			datastoreRegisteredHostKeysBucket,
		}
		for _, bucket := range requiredBuckets {
			_, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Trace(err)
	}

	return &DataStore{db: db}, nil
}

func (dataStore *DataStore) Close() error {
	return errors.Trace(dataStore.db.Close())
}

// GetExtractedExecutable returns the record for the executable at path.
func (dataStore *DataStore) GetExtractedExecutable(
	path string) (*ExtractedExecutableRecord, bool, error) {

	var record *ExtractedExecutableRecord
	err := dataStore.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(datastoreExtractedExecutablesBucket).Get([]byte(path))
		if value == nil {
			return nil
		}
		record = new(ExtractedExecutableRecord)
		return cbor.Unmarshal(value, record)
	})
	if err != nil {
		return nil, false, errors.Trace(err)
	}
	return record, record != nil, nil
}

// SetExtractedExecutable stores record, replacing any record for the same
// path.
func (dataStore *DataStore) SetExtractedExecutable(record *ExtractedExecutableRecord) error {

	value, err := datastoreEncMode.Marshal(record)
	if err != nil {
		return errors.Trace(err)
	}

	err = dataStore.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(datastoreExtractedExecutablesBucket).Put([]byte(record.Path), value)
	})
	if err != nil {
		return errors.Trace(err)
	}
	return nil
}

// RecordHostKey adds or refreshes a host key ledger entry.
func (dataStore *DataStore) RecordHostKey(name, fingerprint string) error {

	value, err := datastoreEncMode.Marshal(&RegisteredHostKeyRecord{
		Name:           name,
		Fingerprint:    fingerprint,
		RegisteredTime: time.Now().UTC().Truncate(time.Second),
	})
	if err != nil {
		return errors.Trace(err)
	}

	err = dataStore.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(datastoreRegisteredHostKeysBucket).Put([]byte(name), value)
	})
	if err != nil {
		return errors.Trace(err)
	}
	return nil
}

// ListHostKeys returns all host key ledger entries, ordered by name.
func (dataStore *DataStore) ListHostKeys() ([]*RegisteredHostKeyRecord, error) {

	var records []*RegisteredHostKeyRecord
	err := dataStore.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(datastoreRegisteredHostKeysBucket).Cursor()
		for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
			var record RegisteredHostKeyRecord
			err := cbor.Unmarshal(value, &record)
			if err != nil {
				// Skip corrupt records
				NoticeWarning("ListHostKeys: %s", errors.Trace(err))
				continue
			}
			records = append(records, &record)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return records, nil
}
