/*
Velociraptor - Dig Deeper
Copyright (C) 2019-2025 Rapid7 Inc.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/Velocidex/yaml/v2"
	"github.com/alecthomas/kingpin/v2"
	"www.velocidex.com/golang/dapreporter/constants"
	"www.velocidex.com/golang/dapreporter/utils"
)

var (
	version = app.Command("version", "Report the binary version and build information.")
)

type versionInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	UserAgent string `json:"user_agent"`
	Arch      string `json:"arch"`
	GoVersion string `json:"go_version"`
	BuildTime string `json:"build_time,omitempty"`
	Commit    string `json:"commit,omitempty"`
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		if command == version.FullCommand() {
			res, err := yaml.Marshal(&versionInfo{
				Name:      "dapreporter",
				Version:   constants.VERSION,
				UserAgent: constants.USER_AGENT,
				Arch:      utils.GetArch(),
				GoVersion: runtime.Version(),
				BuildTime: constants.BUILD_TIME,
				Commit:    constants.COMMIT_HASH,
			})
			if err != nil {
				kingpin.FatalIfError(err, "Unable to encode version.")
			}

			fmt.Printf("%v", string(res))

			if *verbose_flag {
				info, ok := debug.ReadBuildInfo()
				if ok {
					fmt.Printf("\n\nBuild Info:\n%v\n", info)
				}
			}

			return true
		}
		return false
	})
}
