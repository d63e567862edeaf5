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
	"net"
	"strconv"
	"time"

	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/errors"
	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/stopsignal"
)

// WaitForConnectability polls until a TCP connection to the loopback port
// succeeds or timeout elapses. Each attempt uses a fresh socket and is
// bounded by CONNECTIVITY_POLL_SLICE; an attempt that fails early sleeps
// out the rest of its slice.
//
// The result is nil on success, or wraps one of ErrReadinessTimeout,
// ErrProcessExited (process, when not nil, exited first),
// ErrTransportAborted (stopInfo was signalled first), or ErrInvalidPort.
//
// There is no other way to observe that plonk is ready: it opens its local
// SOCKS port only once its tunnel is established.
func WaitForConnectability(
	port int,
	timeout time.Duration,
	process Process,
	stopInfo stopsignal.StopInfo) error {

	if port < 1 || port > 0xFFFF {
		return errors.TraceKindf(ErrInvalidPort, "%d", port)
	}

	address := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	var exited <-chan struct{}
	if process != nil {
		exited = process.Exited()
	}

	start := time.Now()

	for {
		sliceStart := time.Now()

		conn, err := net.DialTimeout("tcp", address, CONNECTIVITY_POLL_SLICE)
		if err == nil {
			conn.Close()
			return nil
		}

		if isClosed(exited) {
			return errors.TraceKind(ErrProcessExited, nil)
		}

		if stopInfo.IsStopped() {
			return errors.TraceKind(ErrTransportAborted, nil)
		}

		if elapsedSince(start) >= timeout {
			return errors.TraceKindf(ErrReadinessTimeout, "port %d after %s", port, timeout)
		}

		remaining := CONNECTIVITY_POLL_SLICE - elapsedSince(sliceStart)
		if remaining > 0 {
			timer := time.NewTimer(remaining)
			select {
			case <-exited:
				timer.Stop()
				return errors.TraceKind(ErrProcessExited, nil)
			case <-timer.C:
			}
		}
	}
}

// elapsedSince is the time elapsed since start on the monotonic clock. An
// apparently earlier current time yields 0, so that it is treated as within
// any budget rather than as expired.
func elapsedSince(start time.Time) time.Duration {
	elapsed := time.Since(start)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

func isClosed(signal <-chan struct{}) bool {
	if signal == nil {
		return false
	}
	select {
	case <-signal:
		return true
	default:
	}
	return false
}
