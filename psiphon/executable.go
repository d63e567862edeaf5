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
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/errors"
)

// ExecutableSource provides the contents of bundled executables.
type ExecutableSource interface {
	GetExecutable(resourceID string) ([]byte, error)
}

// FileExecutableSource serves every resource from the file at Path.
type FileExecutableSource struct {
	Path string
}

func (source *FileExecutableSource) GetExecutable(_ string) ([]byte, error) {
	data, err := os.ReadFile(source.Path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return data, nil
}

// ExtractExecutable writes the executable resource to directory as
// exeFilename and returns its path. An existing file with identical contents
// is left in place.
//
// When the target is busy, because a previous plonk instance is still
// running from it, and succeedIfExists is set, the existing file is used.
// Otherwise processes running under exeFilename are terminated and the write
// is retried once.
//
// dataStore, when not nil, records extracted files so that an unchanged file
// is not rehashed.
func ExtractExecutable(
	source ExecutableSource,
	dataStore *DataStore,
	directory string,
	resourceID string,
	exeFilename string,
	succeedIfExists bool) (string, error) {

	data, err := source.GetExecutable(resourceID)
	if err != nil {
		return "", errors.TraceKind(ErrExecutableProvision, err)
	}

	digest := sha256.Sum256(data)
	hexDigest := hex.EncodeToString(digest[:])

	path := filepath.Join(directory, exeFilename)

	if isExtractedExecutableCurrent(dataStore, path, hexDigest) {
		return path, nil
	}

	err = os.MkdirAll(directory, 0700)
	if err != nil {
		return "", errors.TraceKind(ErrExecutableProvision, err)
	}

	err = writeExecutable(path, data)
	if err != nil && isFileBusyError(err) {

		if succeedIfExists {
			if _, statErr := os.Stat(path); statErr == nil {
				NoticeInfo("using busy executable %s", path)
				return path, nil
			}
		}

		err = TerminateProcessByName(exeFilename)
		if err != nil {
			NoticeWarning("terminate %s failed: %s", exeFilename, errors.Trace(err))
		}

		err = writeExecutable(path, data)
	}
	if err != nil {
		return "", errors.TraceKind(ErrExecutableProvision, err)
	}

	if dataStore != nil {
		fileInfo, err := os.Stat(path)
		if err == nil {
			err = dataStore.SetExtractedExecutable(&ExtractedExecutableRecord{
				Path:          path,
				ResourceID:    resourceID,
				Digest:        hexDigest,
				Size:          fileInfo.Size(),
				ModTime:       fileInfo.ModTime(),
				ExtractedTime: time.Now().UTC(),
			})
		}
		if err != nil {
			NoticeWarning("record extracted executable failed: %s", errors.Trace(err))
		}
	}

	return path, nil
}

// isExtractedExecutableCurrent returns true when the file at path has the
// expected digest. When the data store has a matching record for the file's
// current size and modification time, the file is not rehashed.
func isExtractedExecutableCurrent(dataStore *DataStore, path, hexDigest string) bool {

	fileInfo, err := os.Stat(path)
	if err != nil || !fileInfo.Mode().IsRegular() {
		return false
	}

	if dataStore != nil {
		record, ok, err := dataStore.GetExtractedExecutable(path)
		if err == nil && ok &&
			record.Size == fileInfo.Size() &&
			record.ModTime.Equal(fileInfo.ModTime()) {

			return record.Digest == hexDigest
		}
	}

	fileDigest, err := fileSHA256(path)
	if err != nil {
		return false
	}
	return fileDigest == hexDigest
}

func fileSHA256(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer file.Close()
	hash := sha256.New()
	_, err = io.Copy(hash, file)
	if err != nil {
		return "", errors.Trace(err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func writeExecutable(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0700)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = file.Write(data)
	closeErr := file.Close()
	if err != nil {
		return errors.Trace(err)
	}
	if closeErr != nil {
		return errors.Trace(closeErr)
	}
	// O_CREATE permissions don't apply to an existing file.
	return errors.Trace(os.Chmod(path, 0700))
}
