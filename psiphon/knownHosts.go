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
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/errors"
)

// NewKnownHostsStore returns the host key cache plonk reads. When
// KnownHostsFilename is configured, that PuTTY format file is used on all
// platforms.
func NewKnownHostsStore(config *Config) (KnownHostsStore, error) {
	if config.KnownHostsFilename != "" {
		return NewKnownHostsFile(config.KnownHostsFilename), nil
	}
	store, err := newDefaultKnownHostsStore()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return store, nil
}

// KnownHostsFile is a PuTTY "sshhostkeys" file: one "<name> <value>" entry
// per line.
type KnownHostsFile struct {
	mutex    sync.Mutex
	filename string
}

func NewKnownHostsFile(filename string) *KnownHostsFile {
	return &KnownHostsFile{filename: filename}
}

// SetHostKey replaces the value of an existing entry or appends a new one.
// The file is rewritten atomically.
func (file *KnownHostsFile) SetHostKey(name, value string) error {

	file.mutex.Lock()
	defer file.mutex.Unlock()

	lines, err := file.readLines()
	if err != nil {
		return errors.Trace(err)
	}

	entry := name + " " + value
	replaced := false
	for i, line := range lines {
		if entryName(line) == name {
			lines[i] = entry
			replaced = true
		}
	}
	if !replaced {
		lines = append(lines, entry)
	}

	var buffer bytes.Buffer
	for _, line := range lines {
		buffer.WriteString(line)
		buffer.WriteString("\n")
	}

	err = os.MkdirAll(filepath.Dir(file.filename), 0700)
	if err != nil {
		return errors.Trace(err)
	}

	tempFilename := file.filename + ".tmp"
	err = os.WriteFile(tempFilename, buffer.Bytes(), 0600)
	if err != nil {
		return errors.Trace(err)
	}

	err = os.Rename(tempFilename, file.filename)
	if err != nil {
		os.Remove(tempFilename)
		return errors.Trace(err)
	}

	return nil
}

// GetHostKey returns the value stored for name.
func (file *KnownHostsFile) GetHostKey(name string) (string, bool, error) {

	file.mutex.Lock()
	defer file.mutex.Unlock()

	lines, err := file.readLines()
	if err != nil {
		return "", false, errors.Trace(err)
	}
	for _, line := range lines {
		if entryName(line) == name {
			return strings.TrimSpace(line[len(name):]), true, nil
		}
	}
	return "", false, nil
}

func (file *KnownHostsFile) readLines() ([]string, error) {

	contents, err := os.ReadFile(file.filename)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Trace(err)
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(contents))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	err = scanner.Err()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return lines, nil
}

func entryName(line string) string {
	index := strings.IndexByte(line, ' ')
	if index == -1 {
		return line
	}
	return line[:index]
}
