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
	"github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon/common/errors"
	"golang.org/x/sys/windows/registry"
)

const PUTTY_HOST_KEYS_REGISTRY_KEY = `Software\SimonTatham\PuTTY\SshHostKeys`

// registryKnownHostsStore is the Windows PuTTY host key cache, string values
// under HKCU\Software\SimonTatham\PuTTY\SshHostKeys.
type registryKnownHostsStore struct{}

func newDefaultKnownHostsStore() (KnownHostsStore, error) {
	return &registryKnownHostsStore{}, nil
}

func (store *registryKnownHostsStore) SetHostKey(name, value string) error {

	key, _, err := registry.CreateKey(
		registry.CURRENT_USER, PUTTY_HOST_KEYS_REGISTRY_KEY, registry.SET_VALUE)
	if err != nil {
		return errors.Trace(err)
	}
	defer key.Close()

	err = key.SetStringValue(name, value)
	if err != nil {
		return errors.Trace(err)
	}
	return nil
}
