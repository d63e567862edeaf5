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
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/errors"
	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/protocol"
	"golang.org/x/crypto/ssh"
)

// PuTTY's key type tag for SSH-2 RSA host keys.
const PUTTY_RSA2_KEY_TAG = "rsa2"

// KnownHostsStore is the host key cache consulted by plonk. Entries are keyed
// by GetHostKeyEntryName.
type KnownHostsStore interface {
	SetHostKey(name, value string) error
}

// GetHostKeyEntryName returns the PuTTY host key cache entry name for a
// server, "rsa2@<port>:<address>".
func GetHostKeyEntryName(serverAddress string, serverPort int) string {
	return fmt.Sprintf("%s@%d:%s", PUTTY_RSA2_KEY_TAG, serverPort, serverAddress)
}

// DecodeSSHHostKey converts a base64 SSH wire format RSA public key into
// PuTTY's host key cache format: each field following the key type, as "0x"
// prefixed hex with no leading zeros, joined by commas. For example, the
// fields [00 01 02] and [AB CD] are rendered as "0x102,0xabcd".
func DecodeSSHHostKey(encodedHostKey string) (string, error) {

	blob, err := decodeHostKeyBlob(encodedHostKey)
	if err != nil {
		return "", errors.Trace(err)
	}

	fields, err := splitHostKeyFields(blob)
	if err != nil {
		return "", errors.Trace(err)
	}

	if len(fields) == 0 || string(fields[0]) != protocol.SSH_HOST_KEY_TYPE_RSA {
		return "", errors.TraceKindf(ErrHostKeyRegistration, "unexpected key type")
	}

	var values []string
	for _, field := range fields[1:] {
		if len(field) == 0 {
			continue
		}
		values = append(values, formatHostKeyField(field))
	}

	if len(values) == 0 {
		return "", errors.TraceKindf(ErrHostKeyRegistration, "no key values")
	}

	return strings.Join(values, ","), nil
}

func decodeHostKeyBlob(encodedHostKey string) ([]byte, error) {

	// Encoded keys may be line wrapped.
	encodedHostKey = strings.Join(strings.Fields(encodedHostKey), "")

	blob, err := base64.StdEncoding.DecodeString(encodedHostKey)
	if err != nil {
		return nil, errors.TraceKind(ErrHostKeyRegistration, err)
	}
	return blob, nil
}

// splitHostKeyFields splits a sequence of fields, each prefixed with a 4 byte
// big endian length.
func splitHostKeyFields(blob []byte) ([][]byte, error) {

	var fields [][]byte
	for len(blob) > 0 {
		if len(blob) < 4 {
			return nil, errors.TraceKindf(ErrHostKeyRegistration, "truncated field length")
		}
		length := binary.BigEndian.Uint32(blob[:4])
		blob = blob[4:]
		if uint64(length) > uint64(len(blob)) {
			return nil, errors.TraceKindf(ErrHostKeyRegistration, "field length exceeds key size")
		}
		fields = append(fields, blob[:length])
		blob = blob[length:]
	}
	return fields, nil
}

// formatHostKeyField renders field as "0x" prefixed lowercase hex with
// leading zero nibbles dropped. An all-zero field keeps one digit.
func formatHostKeyField(field []byte) string {
	digits := strings.TrimLeft(fmt.Sprintf("%x", field), "0")
	if digits == "" {
		digits = "0"
	}
	return "0x" + digits
}

// RegisterSSHHostKey decodes encodedHostKey and stores it so that plonk,
// which never prompts, trusts the server. The entry is also recorded in
// dataStore, when not nil. Entries are never removed.
func RegisterSSHHostKey(
	store KnownHostsStore,
	dataStore *DataStore,
	serverAddress string,
	serverPort int,
	encodedHostKey string) error {

	value, err := DecodeSSHHostKey(encodedHostKey)
	if err != nil {
		return errors.Trace(err)
	}

	name := GetHostKeyEntryName(serverAddress, serverPort)

	err = store.SetHostKey(name, value)
	if err != nil {
		return errors.TraceKind(ErrHostKeyRegistration, err)
	}

	fingerprint := getHostKeyFingerprint(encodedHostKey)

	if dataStore != nil {
		err = dataStore.RecordHostKey(name, fingerprint)
		if err != nil {
			NoticeWarning("record host key failed: %s", errors.Trace(err))
		}
	}

	NoticeHostKeyRegistered(name, fingerprint)

	return nil
}

// getHostKeyFingerprint returns the OpenSSH style SHA256 fingerprint of the
// key, or "" when the key does not parse as a complete public key.
func getHostKeyFingerprint(encodedHostKey string) string {
	blob, err := decodeHostKeyBlob(encodedHostKey)
	if err != nil {
		return ""
	}
	publicKey, err := ssh.ParsePublicKey(blob)
	if err != nil {
		return ""
	}
	return ssh.FingerprintSHA256(publicKey)
}
