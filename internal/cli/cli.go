// Package cli writes the engine's messages to the console
package cli

import (
	"fmt"
	"sync"

	"github.com/fatih/color"

	"github.com/biorand/livepatch"
)

// Message levels
const (
	INFO = iota
	NOTE
	WARN
	DEBUG
	SUCCESS
)

// Verbose turns on everything but DEBUG messages
var Verbose = false

// Debug turns on DEBUG messages
var Debug = false

// mutex keeps messages from different goroutines from interleaving
var mutex = &sync.Mutex{}

// Message prints message at the given level if that level is enabled
func Message(level int, message string) {
	mutex.Lock()
	defer mutex.Unlock()

	switch level {
	case INFO:
		if Verbose {
			color.Cyan("[i] %s", message)
		}
	case NOTE:
		if Verbose {
			color.Yellow("[-] %s", message)
		}
	case WARN:
		if Verbose {
			color.Red("[!] %s", message)
		}
	case DEBUG:
		if Debug {
			color.Red("[DEBUG] %s", message)
		}
	case SUCCESS:
		if Verbose {
			color.Green("[+] %s", message)
		}
	default:
		if Verbose {
			color.Red("[_-_] Invalid message level: %d\r\n%s", level, message)
		}
	}
}

// Logger sends engine diagnostics through Message
type Logger struct{}

// Logf implements livepatch.Logger
func (Logger) Logf(level livepatch.Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case livepatch.LevelDebug:
		Message(DEBUG, msg)
	case livepatch.LevelWarn:
		Message(WARN, msg)
	default:
		Message(INFO, msg)
	}
}
