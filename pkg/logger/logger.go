package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var logLevelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps a config string ("debug", "WARN", ...) to a LogLevel.
func ParseLevel(s string) (LogLevel, bool) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for level, name := range logLevelNames {
		if name == want {
			return level, true
		}
	}
	return INFO, false
}

var (
	mu           sync.Mutex
	currentLevel = INFO
	out          io.Writer = os.Stderr
	now                    = time.Now
)

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

func GetLevel() LogLevel {
	mu.Lock()
	defer mu.Unlock()
	return currentLevel
}

// SetOutput redirects log lines; nil restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	out = w
}

func logMessage(level LogLevel, component, message string, fields map[string]any) {
	mu.Lock()
	defer mu.Unlock()
	if level < currentLevel {
		return
	}

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(now().UTC().Format(time.RFC3339))
	b.WriteString("] [")
	b.WriteString(level.String())
	b.WriteString("]")
	if component != "" {
		b.WriteString(" ")
		b.WriteString(component)
		b.WriteString(":")
	}
	b.WriteString(" ")
	b.WriteString(message)
	if len(fields) > 0 {
		b.WriteString(" ")
		b.WriteString(formatFields(fields))
	}
	b.WriteString("\n")
	_, _ = io.WriteString(out, b.String())

	if level == FATAL {
		os.Exit(1)
	}
}

// formatFields renders fields as a JSON object with sorted keys so log lines
// stay diffable.
func formatFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := json.Marshal(fields[k])
		if err != nil {
			v, _ = json.Marshal(fmt.Sprint(fields[k]))
		}
		kb, _ := json.Marshal(k)
		parts = append(parts, string(kb)+":"+string(v))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func Debug(message string) { logMessage(DEBUG, "", message, nil) }
func Info(message string)  { logMessage(INFO, "", message, nil) }
func Warn(message string)  { logMessage(WARN, "", message, nil) }
func Error(message string) { logMessage(ERROR, "", message, nil) }

func DebugC(component, message string) { logMessage(DEBUG, component, message, nil) }
func InfoC(component, message string)  { logMessage(INFO, component, message, nil) }
func WarnC(component, message string)  { logMessage(WARN, component, message, nil) }
func ErrorC(component, message string) { logMessage(ERROR, component, message, nil) }

func DebugCF(component, message string, fields map[string]any) {
	logMessage(DEBUG, component, message, fields)
}

func InfoCF(component, message string, fields map[string]any) {
	logMessage(INFO, component, message, fields)
}

func WarnCF(component, message string, fields map[string]any) {
	logMessage(WARN, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]any) {
	logMessage(ERROR, component, message, fields)
}

func FatalCF(component, message string, fields map[string]any) {
	logMessage(FATAL, component, message, fields)
}
