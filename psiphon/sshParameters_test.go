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
	std_errors "errors"
	"strings"
	"testing"

	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/protocol"
	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/upstreamproxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTestSession() *protocol.SessionInfo {
	return &protocol.SessionInfo{
		ServerAddress:     "192.0.2.1",
		SSHPort:           22,
		SSHUsername:       "user",
		SSHPassword:       "password",
		SSHHostKey:        makeHostKeyBlob([]byte("ssh-rsa"), []byte{0x01, 0x00, 0x01}, []byte{0xAB, 0xCD}),
		SSHObfuscatedPort: 995,
		SSHObfuscatedKey:  "obfuscation-key",
		ClientSessionID:   "0123456789abcdef",
	}
}

func TestBuildSSHParametersDirect(t *testing.T) {

	session := makeTestSession()

	params, err := BuildSSHParameters(
		protocol.TUNNEL_PROTOCOL_SSH, session, 1080, "sidpassword", nil, false)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"-ssh", "-C", "-N", "-batch",
		"-P", "22",
		"-l", "user",
		"-pw", "sidpassword",
		"-D", "1080",
		"192.0.2.1",
	}, params.Args)

	assert.Equal(t, "192.0.2.1", params.ServerAddress)
	assert.Equal(t, 22, params.ServerPort)
	assert.Equal(t, session.SSHHostKey, params.ServerHostKey)
	assert.Equal(t, 1080, params.LocalSocksProxyPort)
}

func TestBuildSSHParametersObfuscated(t *testing.T) {

	session := makeTestSession()

	params, err := BuildSSHParameters(
		protocol.TUNNEL_PROTOCOL_OBFUSCATED_SSH, session, 1081, "sidpassword", nil, true)
	require.NoError(t, err)

	// The obfuscated variant connects to the obfuscated port.
	assert.Equal(t, []string{
		"-ssh", "-C", "-N", "-batch",
		"-P", "995",
		"-l", "user",
		"-pw", "sidpassword",
		"-D", "1081",
		"-v",
		"-z", "-Z", "obfuscation-key",
		"192.0.2.1",
	}, params.Args)

	assert.Equal(t, 995, params.ServerPort)
}

func TestBuildSSHParametersParentProxy(t *testing.T) {

	session := makeTestSession()

	parentProxy := &upstreamproxy.ParentProxy{
		Type:     upstreamproxy.PROXY_TYPE_HTTP,
		Hostname: "proxy.example.com",
		Port:     8080,
		Username: "proxyuser",
		Password: "proxypassword",
	}

	params, err := BuildSSHParameters(
		protocol.TUNNEL_PROTOCOL_SSH, session, 1080, "sidpassword", parentProxy, false)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"-ssh", "-C", "-N", "-batch",
		"-P", "22",
		"-l", "user",
		"-pw", "sidpassword",
		"-D", "1080",
		"-proxy_type", "http",
		"-proxy_host", "proxy.example.com",
		"-proxy_port", "8080",
		"-proxy_username", "proxyuser",
		"-proxy_password", "proxypassword",
		"192.0.2.1",
	}, params.Args)

	// Credentials are optional.
	parentProxy.Username = ""
	parentProxy.Password = ""
	params, err = BuildSSHParameters(
		protocol.TUNNEL_PROTOCOL_SSH, session, 1080, "sidpassword", parentProxy, false)
	require.NoError(t, err)
	assert.NotContains(t, params.Args, "-proxy_username")
	assert.NotContains(t, params.Args, "-proxy_password")

	// An incomplete proxy is ignored.
	parentProxy.Port = 0
	params, err = BuildSSHParameters(
		protocol.TUNNEL_PROTOCOL_SSH, session, 1080, "sidpassword", parentProxy, false)
	require.NoError(t, err)
	assert.NotContains(t, params.Args, "-proxy_type")
}

func TestBuildSSHParametersMissingFields(t *testing.T) {

	testCases := []struct {
		description    string
		tunnelProtocol string
		modify         func(session *protocol.SessionInfo)
	}{
		{"no address", protocol.TUNNEL_PROTOCOL_SSH, func(s *protocol.SessionInfo) { s.ServerAddress = "" }},
		{"no port", protocol.TUNNEL_PROTOCOL_SSH, func(s *protocol.SessionInfo) { s.SSHPort = 0 }},
		{"no host key", protocol.TUNNEL_PROTOCOL_SSH, func(s *protocol.SessionInfo) { s.SSHHostKey = "" }},
		{"no username", protocol.TUNNEL_PROTOCOL_SSH, func(s *protocol.SessionInfo) { s.SSHUsername = "" }},
		{"no password", protocol.TUNNEL_PROTOCOL_SSH, func(s *protocol.SessionInfo) { s.SSHPassword = "" }},
		{"no obfuscated port", protocol.TUNNEL_PROTOCOL_OBFUSCATED_SSH, func(s *protocol.SessionInfo) { s.SSHObfuscatedPort = 0 }},
		{"no obfuscated key", protocol.TUNNEL_PROTOCOL_OBFUSCATED_SSH, func(s *protocol.SessionInfo) { s.SSHObfuscatedKey = "" }},
		{"unknown protocol", "UNFRONTED-MEEK-OSSH", func(s *protocol.SessionInfo) {}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			session := makeTestSession()
			testCase.modify(session)
			_, err := BuildSSHParameters(
				testCase.tunnelProtocol, session, 1080, "sidpassword", nil, false)
			require.Error(t, err)
			assert.True(t, std_errors.Is(err, ErrParameter))
		})
	}

	// The direct variant doesn't require the obfuscation fields.
	session := makeTestSession()
	session.SSHObfuscatedPort = 0
	session.SSHObfuscatedKey = ""
	_, err := BuildSSHParameters(
		protocol.TUNNEL_PROTOCOL_SSH, session, 1080, "sidpassword", nil, false)
	assert.NoError(t, err)

	_, err = BuildSSHParameters(
		protocol.TUNNEL_PROTOCOL_SSH, makeTestSession(), 0, "sidpassword", nil, false)
	assert.True(t, std_errors.Is(err, ErrParameter))

	_, err = BuildSSHParameters(
		protocol.TUNNEL_PROTOCOL_SSH, makeTestSession(), 1080, "", nil, false)
	assert.True(t, std_errors.Is(err, ErrParameter))
}

func TestSSHParametersCommandLine(t *testing.T) {

	session := makeTestSession()
	session.SSHUsername = "user name"

	parentProxy := &upstreamproxy.ParentProxy{
		Type:     upstreamproxy.PROXY_TYPE_SOCKS5,
		Hostname: "127.0.0.1",
		Port:     1088,
		Password: "proxypassword",
	}

	params, err := BuildSSHParameters(
		protocol.TUNNEL_PROTOCOL_SSH, session, 1080, "sidpassword", parentProxy, false)
	require.NoError(t, err)

	commandLine := params.CommandLine()
	assert.NotContains(t, commandLine, "sidpassword")
	assert.NotContains(t, commandLine, "proxypassword")
	assert.Contains(t, commandLine, `-l "user name"`)
	assert.Contains(t, commandLine, "-pw <redacted>")
	assert.True(t, strings.HasSuffix(commandLine, " 192.0.2.1"))
}
