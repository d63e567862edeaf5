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
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/errors"
	"golang.org/x/sys/windows"
)

var (
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")
	moduser32   = windows.NewLazySystemDLL("user32.dll")

	procAttachConsole    = modkernel32.NewProc("AttachConsole")
	procFreeConsole      = modkernel32.NewProc("FreeConsole")
	procWaitForInputIdle = moduser32.NewProc("WaitForInputIdle")
)

const waitFailed = 0xFFFFFFFF

// A process may be attached to at most one console, so attach/signal/free
// sequences are serialized.
var consoleMutex sync.Mutex

func configureProcessCommand(cmd *exec.Cmd, debug bool) {

	flags := uint32(windows.CREATE_NEW_PROCESS_GROUP)
	if !debug {
		flags |= windows.CREATE_NO_WINDOW
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: flags,
		HideWindow:    !debug,
	}
}

func waitForInputIdle(process Process, timeout time.Duration) error {

	handle, err := windows.OpenProcess(
		windows.PROCESS_QUERY_INFORMATION|windows.SYNCHRONIZE,
		false,
		uint32(process.Pid()))
	if err != nil {
		return errors.Trace(err)
	}
	defer windows.CloseHandle(handle)

	result, _, err := procWaitForInputIdle.Call(
		uintptr(handle), uintptr(timeout.Milliseconds()))
	if result == waitFailed {
		return errors.Trace(err)
	}
	if result == uintptr(windows.WAIT_TIMEOUT) {
		return errors.TraceNew("timeout")
	}
	return nil
}

func interruptProcessGroup(process *os.Process) error {

	consoleMutex.Lock()
	defer consoleMutex.Unlock()

	// A child started without a window has no console to attach to; the
	// control event is still sent to its process group.
	attached, _, _ := procAttachConsole.Call(uintptr(process.Pid))
	if attached != 0 {
		defer procFreeConsole.Call()
	}

	err := windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(process.Pid))
	if err != nil {
		return errors.Trace(err)
	}
	return nil
}

func killProcessGroup(process *os.Process) error {
	return process.Kill()
}
