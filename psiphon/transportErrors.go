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
)

// Transport failure kinds. Errors returned by the transport wrap exactly one
// of these, along with the underlying cause when there is one; test with
// errors.Is.
var (
	// ErrCapabilityMissing indicates the server entry lacks what the
	// selected transport requires, so the server does not support it.
	ErrCapabilityMissing = std_errors.New("server capability missing")

	// ErrParameter indicates required session fields are missing for the
	// selected transport variant.
	ErrParameter = std_errors.New("invalid transport parameters")

	ErrPortUnavailable     = std_errors.New("no free local port")
	ErrExecutableProvision = std_errors.New("executable provisioning failed")
	ErrLaunch              = std_errors.New("process launch failed")
	ErrReadinessTimeout    = std_errors.New("timeout waiting for connectability")
	ErrProcessExited       = std_errors.New("process exited")

	// ErrTransportAborted indicates the attempt was cancelled through the
	// stop signal. Callers typically do not report or retry it.
	ErrTransportAborted = std_errors.New("transport aborted")

	ErrInvalidPort = std_errors.New("invalid port")

	// ErrHostKeyRegistration is logged and does not fail a connection
	// attempt.
	ErrHostKeyRegistration = std_errors.New("host key registration failed")

	ErrTransportBusy = std_errors.New("transport connect already in progress")
)

// IsTransportAborted returns true when err is the result of a cancelled
// connection attempt.
func IsTransportAborted(err error) bool {
	return std_errors.Is(err, ErrTransportAborted)
}
