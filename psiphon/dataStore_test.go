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
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type DataStoreTestSuite struct {
	suite.Suite
	config *Config
}

func TestDataStoreTestSuite(t *testing.T) {
	suite.Run(t, new(DataStoreTestSuite))
}

func (suite *DataStoreTestSuite) SetupTest() {
	suite.config = &Config{DataStoreDirectory: suite.T().TempDir()}
}

func (suite *DataStoreTestSuite) Test_ExtractedExecutables() {

	dataStore, err := OpenDataStore(suite.config)
	suite.Require().NoError(err)

	_, ok, err := dataStore.GetExtractedExecutable("/tmp/plonk")
	suite.Require().NoError(err)
	suite.False(ok)

	modTime := time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.UTC)

	record := &ExtractedExecutableRecord{
		Path:          "/tmp/plonk",
		ResourceID:    PLONK_RESOURCE_ID,
		Digest:        "00ff",
		Size:          1024,
		ModTime:       modTime,
		ExtractedTime: time.Now().UTC(),
	}
	suite.Require().NoError(dataStore.SetExtractedExecutable(record))
	suite.Require().NoError(dataStore.Close())

	// Records persist across reopens, with full time precision.

	dataStore, err = OpenDataStore(suite.config)
	suite.Require().NoError(err)
	defer dataStore.Close()

	stored, ok, err := dataStore.GetExtractedExecutable("/tmp/plonk")
	suite.Require().NoError(err)
	suite.Require().True(ok)
	suite.Equal(record.Digest, stored.Digest)
	suite.Equal(record.Size, stored.Size)
	suite.True(stored.ModTime.Equal(modTime))
}

func (suite *DataStoreTestSuite) Test_HostKeys() {

	dataStore, err := OpenDataStore(suite.config)
	suite.Require().NoError(err)
	defer dataStore.Close()

	records, err := dataStore.ListHostKeys()
	suite.Require().NoError(err)
	suite.Empty(records)

	suite.Require().NoError(dataStore.RecordHostKey("rsa2@22:192.0.2.2", "SHA256:b"))
	suite.Require().NoError(dataStore.RecordHostKey("rsa2@22:192.0.2.1", ""))
	suite.Require().NoError(dataStore.RecordHostKey("rsa2@22:192.0.2.2", "SHA256:c"))

	records, err = dataStore.ListHostKeys()
	suite.Require().NoError(err)
	suite.Require().Len(records, 2)
	suite.Equal("rsa2@22:192.0.2.1", records[0].Name)
	suite.Equal("", records[0].Fingerprint)
	suite.Equal("rsa2@22:192.0.2.2", records[1].Name)
	suite.Equal("SHA256:c", records[1].Fingerprint)
}

func (suite *DataStoreTestSuite) Test_CorruptFile() {

	filename := filepath.Join(suite.config.DataStoreDirectory, DATA_STORE_FILENAME)
	suite.Require().NoError(os.WriteFile(filename, []byte("not a bolt database"), 0600))

	dataStore, err := OpenDataStore(suite.config)
	suite.Require().NoError(err)
	defer dataStore.Close()

	suite.Require().NoError(dataStore.RecordHostKey("rsa2@22:192.0.2.1", ""))
}
