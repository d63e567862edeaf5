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
	"os"
	"path/filepath"

	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/errors"
)

// Unix PuTTY builds keep the host key cache in ~/.putty/sshhostkeys.
func newDefaultKnownHostsStore() (KnownHostsStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return NewKnownHostsFile(filepath.Join(home, ".putty", "sshhostkeys")), nil
}
