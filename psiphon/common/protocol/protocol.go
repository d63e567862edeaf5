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

const (
	TUNNEL_PROTOCOL_SSH            = "SSH"
	TUNNEL_PROTOCOL_OBFUSCATED_SSH = "OSSH"

	CLIENT_SESSION_ID_LENGTH = 16

	SSH_HOST_KEY_TYPE_RSA = "ssh-rsa"
)

// SupportedTunnelProtocols lists the protocols a plonk transport can run.
var SupportedTunnelProtocols = []string{
	TUNNEL_PROTOCOL_SSH,
	TUNNEL_PROTOCOL_OBFUSCATED_SSH,
}

// IsSupportedTunnelProtocol returns true when protocol is in
// SupportedTunnelProtocols.
func IsSupportedTunnelProtocol(protocol string) bool {
	for _, supported := range SupportedTunnelProtocols {
		if protocol == supported {
			return true
		}
	}
	return false
}
