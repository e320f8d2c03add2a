/*
   Velociraptor - Hunting Evil
   Copyright (C) 2019 Velocidex Innovations.

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
	"os"

	"github.com/alecthomas/kingpin/v2"
	"www.velocidex.com/golang/dapreporter/constants"
)

type CommandHandler func(command string) bool

var (
	app = kingpin.New("dapreporter",
		"A privacy preserving aggregate reporting client.")

	config_path = app.Flag("config", "The configuration file.").Short('c').
			String()

	verbose_flag = app.Flag(
		"verbose", "Enabled verbose logging.").Short('v').
		Default("false").Bool()

	ephemeral_flag = app.Flag(
		"ephemeral", "Keep all state in memory and forget it on exit.").Bool()

	command_handlers []CommandHandler
)

func main() {
	app.HelpFlag.Short('h')
	app.UsageTemplate(kingpin.CompactUsageTemplate)
	app.Version(constants.VERSION)

	args := os.Args[1:]
	command := kingpin.MustParse(app.Parse(args))

	for _, command_handler := range command_handlers {
		if command_handler(command) {
			break
		}
	}
}
