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

Package errors provides error wrapping helpers that add inline, single frame
stack trace information to error messages, and a helper for attaching a
failure kind sentinel to an underlying cause so that callers can branch with
the standard errors.Is.

*/
package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// TraceNew returns a new error with the given message, wrapped with the caller
// stack frame information.
func TraceNew(message string) error {
	return fmt.Errorf("%s: %w", caller(2), fmt.Errorf("%s", message))
}

// Tracef returns a new error with the given formatted message, wrapped with
// the caller stack frame information.
func Tracef(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", caller(2), fmt.Errorf(format, args...))
}

// Trace wraps the given error with the caller stack frame information.
func Trace(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", caller(2), err)
}

// TraceMsg wraps the given error with the caller stack frame information
// and the given message.
func TraceMsg(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %s: %w", caller(2), message, err)
}

// TraceKind wraps cause with the caller stack frame information and also
// wraps kind, a sentinel error, so that both errors.Is(err, kind) and
// errors.Is(err, cause) hold. When cause is nil, the result wraps only kind.
func TraceKind(kind, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", caller(2), kind)
	}
	return fmt.Errorf("%s: %w: %w", caller(2), kind, cause)
}

// TraceKindf is TraceKind with a formatted message in place of an
// underlying cause.
func TraceKindf(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w: %s", caller(2), kind, fmt.Sprintf(format, args...))
}

// CallerName returns the "package.function#line" of the caller's parent.
// This is used by notices to tag warnings with their origin.
func CallerName() string {
	return caller(3)
}

func caller(skip int) string {
	pc, _, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s#%d", functionName(pc), line)
}

// functionName extracts a simple function name from the full name returned
// by runtime.Func.Name(), to declutter error messages.
func functionName(pc uintptr) string {
	f := runtime.FuncForPC(pc)
	if f == nil {
		return "unknown"
	}
	funcName := f.Name()
	index := strings.LastIndex(funcName, "/")
	if index != -1 {
		funcName = funcName[index+1:]
	}
	return funcName
}
