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

/*

Package stopsignal implements a broadcast stop flag with a set of stop
reasons. The owner of a StopSignal sets and clears reasons; components that
must react to a stop receive a StopInfo, a read-only view of the signal
filtered to the reasons that count as a stop for that component.

Consumers poll the StopInfo at the top of each loop iteration rather than
blocking on it.

*/
package stopsignal

import (
	"strings"
	"sync"
)

// StopReason is a bit set of reasons for stopping.
type StopReason uint32

const (
	STOP_REASON_NONE                  StopReason = 0
	STOP_REASON_USER_DISCONNECT       StopReason = 1 << 0
	STOP_REASON_EXIT                  StopReason = 1 << 1
	STOP_REASON_UNEXPECTED_DISCONNECT StopReason = 1 << 2
	STOP_REASON_CANCEL                StopReason = 1 << 3

	STOP_REASON_ALL = STOP_REASON_USER_DISCONNECT |
		STOP_REASON_EXIT |
		STOP_REASON_UNEXPECTED_DISCONNECT |
		STOP_REASON_CANCEL
)

var stopReasonNames = []struct {
	reason StopReason
	name   string
}{
	{STOP_REASON_USER_DISCONNECT, "user-disconnect"},
	{STOP_REASON_EXIT, "exit"},
	{STOP_REASON_UNEXPECTED_DISCONNECT, "unexpected-disconnect"},
	{STOP_REASON_CANCEL, "cancel"},
}

func (reason StopReason) String() string {
	if reason == STOP_REASON_NONE {
		return "none"
	}
	var names []string
	for _, entry := range stopReasonNames {
		if reason&entry.reason != 0 {
			names = append(names, entry.name)
		}
	}
	return strings.Join(names, "|")
}

// StopSignal is the mutable side of a stop flag. It is safe for concurrent
// use.
type StopSignal struct {
	mutex   sync.Mutex
	reasons StopReason
}

// NewStopSignal creates a StopSignal with no reasons set.
func NewStopSignal() *StopSignal {
	return &StopSignal{}
}

// SignalStop adds reason to the set of signalled reasons.
func (signal *StopSignal) SignalStop(reason StopReason) {
	signal.mutex.Lock()
	defer signal.mutex.Unlock()
	signal.reasons |= reason
}

// ClearStop removes reason from the set of signalled reasons.
func (signal *StopSignal) ClearStop(reason StopReason) {
	signal.mutex.Lock()
	defer signal.mutex.Unlock()
	signal.reasons &^= reason
}

// CheckSignal returns true when any of reasons is currently signalled.
func (signal *StopSignal) CheckSignal(reasons StopReason) bool {
	signal.mutex.Lock()
	defer signal.mutex.Unlock()
	return signal.reasons&reasons != 0
}

// GetSignalledReasons returns the currently signalled reasons.
func (signal *StopSignal) GetSignalledReasons() StopReason {
	signal.mutex.Lock()
	defer signal.mutex.Unlock()
	return signal.reasons
}

// StopInfo returns a read-only view of the signal that reports a stop for
// any of reasons.
func (signal *StopSignal) StopInfo(reasons StopReason) StopInfo {
	return StopInfo{signal: signal, reasons: reasons}
}

// StopInfo is a read-only stop capability. The zero value never reports a
// stop.
type StopInfo struct {
	signal  *StopSignal
	reasons StopReason
}

// IsStopped returns true when any reason in the StopInfo's set has been
// signalled.
func (info StopInfo) IsStopped() bool {
	if info.signal == nil {
		return false
	}
	return info.signal.CheckSignal(info.reasons)
}

// GetReasons returns the set of reasons that count as a stop.
func (info StopInfo) GetReasons() StopReason {
	return info.reasons
}
