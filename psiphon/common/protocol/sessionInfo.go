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

package protocol

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/errors"
)

// SessionInfo is the snapshot of server credentials used for one transport
// connection attempt. The JSON field names match those of encoded server
// entries, so a SessionInfo may be decoded directly from a server entry.
//
// SessionInfo values are supplied by the caller and are not modified by the
// transport.
type SessionInfo struct {
	ServerAddress     string   `json:"ipAddress,omitempty"`
	SSHPort           int      `json:"sshPort,omitempty"`
	SSHUsername       string   `json:"sshUsername,omitempty"`
	SSHPassword       string   `json:"sshPassword,omitempty"`
	SSHHostKey        string   `json:"sshHostKey,omitempty"`
	SSHObfuscatedPort int      `json:"sshObfuscatedPort,omitempty"`
	SSHObfuscatedKey  string   `json:"sshObfuscatedKey,omitempty"`
	Capabilities      []string `json:"capabilities,omitempty"`

	// SSHSessionID is assigned by the server in the handshake.
	SSHSessionID string `json:"sshSessionID,omitempty"`

	// ClientSessionID is generated by the client. It is sent prefixed to the
	// SSH password so the server can associate the tunnel with the client's
	// API requests.
	ClientSessionID string `json:"clientSessionID,omitempty"`
}

// HasCapability returns true when the server entry lists capability. An
// entry with no capabilities list is treated as supporting every protocol,
// as legacy entries omit the field.
func (info *SessionInfo) HasCapability(capability string) bool {
	if len(info.Capabilities) == 0 {
		return true
	}
	for _, c := range info.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// GetSSHPassword returns the password to present to the SSH server: the
// client session ID followed by the server issued SSH password.
func (info *SessionInfo) GetSSHPassword() string {
	return info.ClientSessionID + info.SSHPassword
}

// DecodeSessionInfo extracts a SessionInfo from the hex encoding used for
// server entries. The legacy space delimited prefix fields are skipped and
// only the trailing JSON object is parsed.
func DecodeSessionInfo(encodedServerEntry string) (*SessionInfo, error) {

	hexDecoded, err := hex.DecodeString(strings.TrimSpace(encodedServerEntry))
	if err != nil {
		return nil, errors.Trace(err)
	}

	fields := bytes.SplitN(hexDecoded, []byte(" "), 5)
	if len(fields) != 5 {
		return nil, errors.TraceNew("invalid encoded server entry")
	}

	var info SessionInfo
	err = json.Unmarshal(fields[4], &info)
	if err != nil {
		return nil, errors.Trace(err)
	}

	if info.ServerAddress == "" {
		info.ServerAddress = string(fields[0])
	}

	return &info, nil
}

// EncodeSessionInfo is the inverse of DecodeSessionInfo. The legacy prefix
// fields other than the address are emitted as placeholders.
func EncodeSessionInfo(info *SessionInfo) (string, error) {

	// Session IDs are not server entry fields.
	entry := *info
	entry.SSHSessionID = ""
	entry.ClientSessionID = ""

	jsonEntry, err := json.Marshal(&entry)
	if err != nil {
		return "", errors.Trace(err)
	}

	var buffer bytes.Buffer
	buffer.WriteString(info.ServerAddress)
	buffer.WriteString(" 0 0 0 ")
	buffer.Write(jsonEntry)

	return hex.EncodeToString(buffer.Bytes()), nil
}

// MakeClientSessionID creates a new random client session ID.
func MakeClientSessionID() (string, error) {
	randomID := make([]byte, CLIENT_SESSION_ID_LENGTH)
	_, err := rand.Read(randomID)
	if err != nil {
		return "", errors.Trace(err)
	}
	return hex.EncodeToString(randomID), nil
}
