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
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSessionInfo(t *testing.T) {

	encoded := hex.EncodeToString([]byte(
		`192.0.2.1 8080 secret cert {"sshPort":22,"sshUsername":"user","sshPassword":"pass",` +
			`"sshHostKey":"AAAA","sshObfuscatedPort":443,"sshObfuscatedKey":"key","capabilities":["SSH","OSSH"]}`))

	info, err := DecodeSessionInfo(encoded)
	require.NoError(t, err)

	assert.Equal(t, "192.0.2.1", info.ServerAddress)
	assert.Equal(t, 22, info.SSHPort)
	assert.Equal(t, 443, info.SSHObfuscatedPort)
	assert.Equal(t, "key", info.SSHObfuscatedKey)
	assert.True(t, info.HasCapability(TUNNEL_PROTOCOL_OBFUSCATED_SSH))
	assert.False(t, info.HasCapability("QUIC-OSSH"))

	_, err = DecodeSessionInfo("not hex")
	assert.Error(t, err)

	_, err = DecodeSessionInfo(hex.EncodeToString([]byte("too few fields")))
	assert.Error(t, err)
}

func TestEncodeSessionInfoRoundTrip(t *testing.T) {

	info := &SessionInfo{
		ServerAddress:   "198.51.100.7",
		SSHPort:         2222,
		SSHUsername:     "u",
		SSHPassword:     "p",
		SSHHostKey:      "AAAA",
		ClientSessionID: "ignored",
	}

	encoded, err := EncodeSessionInfo(info)
	require.NoError(t, err)

	decoded, err := DecodeSessionInfo(encoded)
	require.NoError(t, err)

	assert.Equal(t, info.ServerAddress, decoded.ServerAddress)
	assert.Equal(t, info.SSHPort, decoded.SSHPort)
	assert.Equal(t, "", decoded.ClientSessionID)
}

func TestSSHPassword(t *testing.T) {
	info := &SessionInfo{ClientSessionID: "abc", SSHPassword: "xyz"}
	assert.Equal(t, "abcxyz", info.GetSSHPassword())

	id, err := MakeClientSessionID()
	require.NoError(t, err)
	assert.Len(t, id, 2*CLIENT_SESSION_ID_LENGTH)
}
