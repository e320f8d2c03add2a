package logging

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

const max_memory_logs = 1000

var memory_hook = &memoryHook{}

// Keeps the most recent log lines so tests can check what was
// logged.
type memoryHook struct {
	mu   sync.Mutex
	logs []string
}

func (self *memoryHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (self *memoryHook) Fire(entry *logrus.Entry) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	line := fmt.Sprintf("%s: %s", entry.Level, clearTag(entry.Message))
	self.logs = append(self.logs, line)
	if len(self.logs) > max_memory_logs {
		self.logs = self.logs[len(self.logs)-max_memory_logs:]
	}
	return nil
}

func GetMemoryLogs() []string {
	memory_hook.mu.Lock()
	defer memory_hook.mu.Unlock()

	return append([]string{}, memory_hook.logs...)
}

func ClearMemoryLogs() {
	memory_hook.mu.Lock()
	defer memory_hook.mu.Unlock()

	memory_hook.logs = nil
}
