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

	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/errors"
	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/stopsignal"
)

// probeLocalPort reports whether something is accepting connections on the
// loopback port. Replaced in tests.
var probeLocalPort = func(port int, stopInfo stopsignal.StopInfo) (bool, error) {
	err := WaitForConnectability(port, PORT_PROBE_TIMEOUT, nil, stopInfo)
	if err == nil {
		return true, nil
	}
	if std_errors.Is(err, ErrReadinessTimeout) {
		return false, nil
	}
	return false, errors.Trace(err)
}

// FindFreePort returns the first port, in ascending order from
// preferredPort through preferredPort+maxIncrement, on which nothing is
// listening. Candidates outside the valid port range are skipped.
//
// The port is not reserved: another process may bind it before plonk does.
// That case surfaces later as a readiness failure, and a new connection
// attempt picks a new port.
func FindFreePort(
	preferredPort, maxIncrement int, stopInfo stopsignal.StopInfo) (int, error) {

	for port := preferredPort; port <= preferredPort+maxIncrement; port++ {

		if stopInfo.IsStopped() {
			return 0, errors.TraceKind(ErrTransportAborted, nil)
		}

		if port < 1 || port > 0xFFFF {
			continue
		}

		inUse, err := probeLocalPort(port, stopInfo)
		if err != nil {
			return 0, errors.Trace(err)
		}
		if !inUse {
			return port, nil
		}

		NoticeLocalPortInUse(port)
	}

	return 0, errors.TraceKindf(
		ErrPortUnavailable, "ports %d-%d in use", preferredPort, preferredPort+maxIncrement)
}
