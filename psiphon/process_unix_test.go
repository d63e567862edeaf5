//go:build !windows

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
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecProcessLifecycle(t *testing.T) {

	sleepPath := lookPathOrSkip(t, "sleep")

	launcher := NewProcessLauncher(&Config{})

	process, err := StartProcess(launcher, sleepPath, []string{"60"})
	require.NoError(t, err)
	assert.NotZero(t, process.Pid())

	status, err := PollProcess(process)
	require.NoError(t, err)
	assert.Equal(t, PROCESS_RUNNING, status)

	start := time.Now()
	StopProcess(process)
	assert.Less(t, time.Since(start), TERMINATE_PROCESS_WAIT+time.Second)

	assert.True(t, isClosed(process.Exited()))

	status, err = PollProcess(process)
	require.NoError(t, err)
	assert.Equal(t, PROCESS_EXITED, status)

	err = process.Interrupt()
	assert.True(t, std_errors.Is(err, errProcessReleased))

	// Repeated stops are harmless.
	StopProcess(process)
}

func TestExecProcessExitsOnItsOwn(t *testing.T) {

	truePath := lookPathOrSkip(t, "true")

	process, err := StartProcess(NewProcessLauncher(&Config{}), truePath, nil)
	require.NoError(t, err)
	defer StopProcess(process)

	select {
	case <-process.Exited():
	case <-time.After(5 * time.Second):
		t.Fatalf("process did not exit")
	}

	assert.NoError(t, process.ExitError())
}

func TestTerminateProcessByName(t *testing.T) {

	if runtime.GOOS != "linux" {
		t.Skip("linux only")
	}

	sleepPath := lookPathOrSkip(t, "sleep")

	sleepBinary, err := os.ReadFile(sleepPath)
	require.NoError(t, err)

	// Process names are truncated at 15 characters.
	executableName := "tplonksleep"
	executablePath := filepath.Join(t.TempDir(), executableName)
	err = os.WriteFile(executablePath, sleepBinary, 0700)
	require.NoError(t, err)

	cmd := exec.Command(executablePath, "60")
	err = cmd.Start()
	require.NoError(t, err)

	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()
	defer cmd.Process.Kill()

	// Allow the process name to be updated after exec.
	time.Sleep(100 * time.Millisecond)

	err = TerminateProcessByName(executableName)
	assert.NoError(t, err)

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatalf("process was not terminated")
	}
}
