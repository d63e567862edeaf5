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
	"strconv"
	"strings"

	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/errors"
	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/protocol"
	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/upstreamproxy"
)

// SSHParameters are the plonk parameters for one connection attempt.
type SSHParameters struct {
	ServerAddress       string
	ServerPort          int
	ServerHostKey       string
	LocalSocksProxyPort int
	Args                []string
}

// CommandLine renders Args for diagnostics, with passwords elided.
func (params *SSHParameters) CommandLine() string {
	rendered := make([]string, len(params.Args))
	for i, arg := range params.Args {
		if i > 0 && (params.Args[i-1] == "-pw" || params.Args[i-1] == "-proxy_password") {
			arg = "<redacted>"
		} else if arg == "" || strings.ContainsAny(arg, " \t\"") {
			arg = strconv.Quote(arg)
		}
		rendered[i] = arg
	}
	return strings.Join(rendered, " ")
}

// sshTransportVariant describes a plonk transport mode. The variants share
// the base SSH session fields and differ in their additional required fields,
// target port, and extra arguments.
type sshTransportVariant struct {
	tunnelProtocol string
	displayName    string
	missingField   func(session *protocol.SessionInfo) string
	serverPort     func(session *protocol.SessionInfo) int
	extraArgs      func(session *protocol.SessionInfo) []string
}

var sshTransportVariants = map[string]*sshTransportVariant{

	protocol.TUNNEL_PROTOCOL_SSH: {
		tunnelProtocol: protocol.TUNNEL_PROTOCOL_SSH,
		displayName:    "SSH",
		missingField:   missingBaseSSHField,
		serverPort: func(session *protocol.SessionInfo) int {
			return session.SSHPort
		},
		extraArgs: func(_ *protocol.SessionInfo) []string {
			return nil
		},
	},

	protocol.TUNNEL_PROTOCOL_OBFUSCATED_SSH: {
		tunnelProtocol: protocol.TUNNEL_PROTOCOL_OBFUSCATED_SSH,
		displayName:    "SSH+",
		missingField: func(session *protocol.SessionInfo) string {
			if field := missingBaseSSHField(session); field != "" {
				return field
			}
			if session.SSHObfuscatedPort <= 0 {
				return "obfuscated SSH port"
			}
			if session.SSHObfuscatedKey == "" {
				return "obfuscated SSH key"
			}
			return ""
		},
		serverPort: func(session *protocol.SessionInfo) int {
			return session.SSHObfuscatedPort
		},
		extraArgs: func(session *protocol.SessionInfo) []string {
			return []string{"-z", "-Z", session.SSHObfuscatedKey}
		},
	},
}

func missingBaseSSHField(session *protocol.SessionInfo) string {
	switch {
	case session.ServerAddress == "":
		return "server address"
	case session.SSHPort <= 0:
		return "SSH port"
	case session.SSHHostKey == "":
		return "SSH host key"
	case session.SSHUsername == "":
		return "SSH username"
	case session.SSHPassword == "":
		return "SSH password"
	}
	return ""
}

func getSSHTransportVariant(tunnelProtocol string) (*sshTransportVariant, error) {
	variant, ok := sshTransportVariants[tunnelProtocol]
	if !ok {
		return nil, errors.TraceKindf(ErrParameter, "unsupported tunnel protocol: %s", tunnelProtocol)
	}
	return variant, nil
}

// BuildSSHParameters derives the plonk parameters for tunnelProtocol from
// the session. sshPassword is the password to present, which is prefixed
// with the client session ID. When parentProxy is not nil, plonk is
// directed to connect through it. verbose enables plonk's debug output.
func BuildSSHParameters(
	tunnelProtocol string,
	session *protocol.SessionInfo,
	localSocksProxyPort int,
	sshPassword string,
	parentProxy *upstreamproxy.ParentProxy,
	verbose bool) (*SSHParameters, error) {

	variant, err := getSSHTransportVariant(tunnelProtocol)
	if err != nil {
		return nil, errors.Trace(err)
	}

	if field := variant.missingField(session); field != "" {
		return nil, errors.TraceKindf(
			ErrParameter, "%s session missing %s", variant.tunnelProtocol, field)
	}
	if sshPassword == "" {
		return nil, errors.TraceKindf(ErrParameter, "missing SSH password")
	}
	if localSocksProxyPort < 1 || localSocksProxyPort > 0xFFFF {
		return nil, errors.TraceKindf(ErrParameter, "invalid local SOCKS port: %d", localSocksProxyPort)
	}

	serverPort := variant.serverPort(session)

	args := []string{
		"-ssh",
		"-C",
		"-N",
		"-batch",
		"-P", strconv.Itoa(serverPort),
		"-l", session.SSHUsername,
		"-pw", sshPassword,
		"-D", strconv.Itoa(localSocksProxyPort),
	}

	if verbose {
		args = append(args, "-v")
	}

	args = append(args, variant.extraArgs(session)...)

	if parentProxy.IsComplete() {
		args = append(args,
			"-proxy_type", parentProxy.Type,
			"-proxy_host", parentProxy.Hostname,
			"-proxy_port", strconv.Itoa(parentProxy.Port))
		if parentProxy.Username != "" {
			args = append(args, "-proxy_username", parentProxy.Username)
		}
		if parentProxy.Password != "" {
			args = append(args, "-proxy_password", parentProxy.Password)
		}
	}

	args = append(args, session.ServerAddress)

	return &SSHParameters{
		ServerAddress:       session.ServerAddress,
		ServerPort:          serverPort,
		ServerHostKey:       session.SSHHostKey,
		LocalSocksProxyPort: localSocksProxyPort,
		Args:                args,
	}, nil
}
