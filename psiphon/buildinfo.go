/*
 * Copyright (c) 2015, Psiphon Inc.
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
	"runtime"
	"runtime/debug"
	"strings"
)

/*
These values should be filled in at build time using the `-X` option[1] to the
Go linker (probably via `-ldflags` option to `go build` -- like `-ldflags "-X var1=abc -X var2=xyz"`).
[1]: http://golang.org/cmd/ld/
Without those build flags, the build info in the notice will fall back to
what the Go toolchain embeds in the binary.
Note that any passed value must contain no whitespace.
*/
// -X github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon.buildDate=`date --iso-8601=seconds`
var buildDate string

// -X github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon.buildRepo=`git config --get remote.origin.url`
var buildRepo string

// -X github.com/Psiphon-Labs/psiphon-ssh-transport/psiphon.buildRev=`git rev-parse --short HEAD`
var buildRev string

// BuildInfo is the build information reported in the BuildInfo notice.
type BuildInfo struct {
	BuildDate    string            `json:"buildDate"`
	BuildRepo    string            `json:"buildRepo"`
	BuildRev     string            `json:"buildRev"`
	GoVersion    string            `json:"goVersion"`
	Dependencies map[string]string `json:"dependencies"`
}

// GetBuildInfo returns the build information for this binary.
func GetBuildInfo() *BuildInfo {

	buildInfo := &BuildInfo{
		BuildDate:    strings.TrimSpace(buildDate),
		BuildRepo:    strings.TrimSpace(buildRepo),
		BuildRev:     strings.TrimSpace(buildRev),
		GoVersion:    runtime.Version(),
		Dependencies: make(map[string]string),
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return buildInfo
	}

	for _, dep := range info.Deps {
		buildInfo.Dependencies[dep.Path] = dep.Version
	}

	if buildInfo.BuildRev == "" {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				buildInfo.BuildRev = setting.Value
			}
		}
	}

	return buildInfo
}
