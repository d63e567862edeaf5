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
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookPathOrSkip(t *testing.T, name string) string {
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not found", name)
	}
	return path
}

type testProcessLauncher struct {
	launches int
	process  Process
	err      error
}

func (launcher *testProcessLauncher) Launch(_ string, _ []string) (Process, error) {
	launcher.launches++
	if launcher.err != nil {
		return nil, launcher.err
	}
	return launcher.process, nil
}

func TestStopProcessNil(t *testing.T) {
	StopProcess(nil)
}

func TestStopProcessGraceful(t *testing.T) {

	process := newTestProcess(100)
	StopProcess(process)

	interrupts, kills, releases := process.counts()
	assert.Equal(t, 1, interrupts)
	assert.Equal(t, 0, kills)
	assert.Equal(t, 1, releases)

	// Stopping again is a no-op other than the release.
	StopProcess(process)

	interrupts, kills, releases = process.counts()
	assert.Equal(t, 1, interrupts)
	assert.Equal(t, 0, kills)
	assert.Equal(t, 2, releases)
}

func TestStopProcessForced(t *testing.T) {

	process := newTestProcess(101)
	process.ignoreInterrupt = true

	StopProcess(process)

	interrupts, kills, releases := process.counts()
	assert.Equal(t, 1, interrupts)
	assert.Equal(t, 1, kills)
	assert.Equal(t, 1, releases)
	assert.True(t, isClosed(process.Exited()))
}

func TestStopProcessExited(t *testing.T) {

	process := newTestProcess(102)
	process.exit(nil)

	StopProcess(process)

	interrupts, kills, releases := process.counts()
	assert.Equal(t, 0, interrupts)
	assert.Equal(t, 0, kills)
	assert.Equal(t, 1, releases)
}

func TestPollProcess(t *testing.T) {

	status, err := PollProcess(nil)
	assert.Equal(t, PROCESS_EXITED, status)
	assert.NoError(t, err)

	process := newTestProcess(103)
	status, err = PollProcess(process)
	assert.Equal(t, PROCESS_RUNNING, status)
	assert.NoError(t, err)

	process.exit(&exec.ExitError{})
	status, err = PollProcess(process)
	assert.Equal(t, PROCESS_EXITED, status)
	assert.NoError(t, err)

	waitErr := std_errors.New("wait failed")
	process = newTestProcess(104)
	process.exit(waitErr)
	status, err = PollProcess(process)
	assert.Equal(t, PROCESS_ERROR, status)
	assert.True(t, std_errors.Is(err, waitErr))
}

func TestStartProcessFailure(t *testing.T) {

	launchErr := std_errors.New("no such file")
	launcher := &testProcessLauncher{err: launchErr}

	process, err := StartProcess(launcher, "plonk", nil)
	assert.Nil(t, process)
	require.Error(t, err)
	assert.True(t, std_errors.Is(err, ErrLaunch))
	assert.True(t, std_errors.Is(err, launchErr))
}

func TestProcessStatusString(t *testing.T) {
	assert.Equal(t, "running", PROCESS_RUNNING.String())
	assert.Equal(t, "exited", PROCESS_EXITED.String())
	assert.Equal(t, "error", PROCESS_ERROR.String())
}
