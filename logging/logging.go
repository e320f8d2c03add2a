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
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	rotatelogs "github.com/Velocidex/file-rotatelogs"
	"github.com/go-errors/errors"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	config_proto "www.velocidex.com/golang/dapreporter/config/proto"
)

var (
	GenericComponent = "DAPReporter"
	ClientComponent  = "DAPReporter client"
	ToolComponent    = "DAPReporter tool"

	// Set to turn off console output (e.g. when the tool prints
	// results to stdout).
	SuppressLogging = false

	mu      sync.Mutex
	manager *LogManager
)

type LogContext struct {
	*logrus.Logger
}

func (self *LogContext) Debug(format string, args ...interface{}) {
	self.Logger.Debug(fmt.Sprintf(format, args...))
}

func (self *LogContext) Info(format string, args ...interface{}) {
	self.Logger.Info(fmt.Sprintf(format, args...))
}

func (self *LogContext) Warn(format string, args ...interface{}) {
	self.Logger.Warn(fmt.Sprintf(format, args...))
}

func (self *LogContext) Error(format string, args ...interface{}) {
	self.Logger.Error(fmt.Sprintf(format, args...))
}

type LogManager struct {
	mu       sync.Mutex
	contexts map[*string]*LogContext
	level    logrus.Level
	hooks    []logrus.Hook
}

func (self *LogManager) GetLogger(component *string) *LogContext {
	self.mu.Lock()
	defer self.mu.Unlock()

	ctx, pres := self.contexts[component]
	if pres {
		return ctx
	}

	logger := logrus.New()
	logger.SetLevel(self.level)
	logger.SetFormatter(&Formatter{component: *component})
	if SuppressLogging {
		logger.SetOutput(io.Discard)
	} else {
		logger.SetOutput(os.Stderr)
	}

	logger.AddHook(memory_hook)
	for _, hook := range self.hooks {
		logger.AddHook(hook)
	}

	ctx = &LogContext{Logger: logger}
	self.contexts[component] = ctx
	return ctx
}

func (self *LogManager) AddHook(hook logrus.Hook) {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.hooks = append(self.hooks, hook)
	for _, ctx := range self.contexts {
		ctx.AddHook(hook)
	}
}

func newLogManager(level logrus.Level) *LogManager {
	return &LogManager{
		contexts: make(map[*string]*LogContext),
		level:    level,
	}
}

func getManager() *LogManager {
	mu.Lock()
	defer mu.Unlock()

	if manager == nil {
		manager = newLogManager(logrus.InfoLevel)
	}
	return manager
}

func GetLogger(config_obj *config_proto.Config, component *string) *LogContext {
	return getManager().GetLogger(component)
}

// Log before the config is loaded.
func Prelog(format string, args ...interface{}) {
	GetLogger(nil, &GenericComponent).Info(format, args...)
}

// Discard all loggers so they pick up new settings on next use.
func Reset() {
	mu.Lock()
	defer mu.Unlock()

	manager = nil
}

func InitLogging(config_obj *config_proto.Config) error {
	level := logrus.InfoLevel
	if config_obj.Verbose ||
		(config_obj.Logging != nil && config_obj.Logging.Debug) {
		level = logrus.DebugLevel
	}

	new_manager := newLogManager(level)

	if config_obj.Logging != nil && config_obj.Logging.OutputDirectory != "" {
		hook, err := fileHook(config_obj.Logging)
		if err != nil {
			return err
		}
		new_manager.hooks = append(new_manager.hooks, hook)
	}

	mu.Lock()
	manager = new_manager
	mu.Unlock()

	return nil
}

func fileHook(config_obj *config_proto.LoggingConfig) (logrus.Hook, error) {
	err := os.MkdirAll(config_obj.OutputDirectory, 0700)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	max_age := config_obj.MaxAgeDays
	if max_age == 0 {
		max_age = 30
	}

	writers := lfshook.WriterMap{}
	for _, level := range []logrus.Level{
		logrus.DebugLevel, logrus.InfoLevel,
		logrus.WarnLevel, logrus.ErrorLevel} {
		base := filepath.Join(config_obj.OutputDirectory,
			"dapreporter_"+level.String()+".log")

		writer, err := rotatelogs.New(
			base+".%Y%m%d",
			rotatelogs.WithLinkName(base),
			rotatelogs.WithRotationTime(24*time.Hour),
			rotatelogs.WithMaxAge(time.Duration(max_age)*24*time.Hour))
		if err != nil {
			return nil, errors.Wrap(err, 0)
		}
		writers[level] = writer
	}

	return lfshook.NewHook(writers, &logrus.JSONFormatter{
		DisableHTMLEscape: true,
	}), nil
}
