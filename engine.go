package livepatch

import (
	"fmt"
	"sync"
	"time"
)

// Level is the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
)

// Logger receives the engine's diagnostics. The engine itself never prints.
type Logger interface {
	Logf(level Level, format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Logf(Level, string, ...any) {}

// Engine holds all process-wide patching state: the version of the last
// patch applied, the hooks installed and the relocated regions. It is
// created once at attach and lives as long as the host.
type Engine struct {
	Space AddressSpace

	// Alloc provides memory for relocated regions and emitted code. If nil
	// and Space implements Allocator, Space is used.
	Alloc Allocator

	Log Logger

	// mu serialises patch passes.
	mu      sync.Mutex
	version time.Time
	applier Applier

	hookMu      sync.RWMutex
	hooks       map[uintptr]Hook
	relocations map[string]Relocation
}

// New returns an engine patching space.
func New(space AddressSpace) *Engine {
	e := &Engine{
		Space:       space,
		hooks:       map[uintptr]Hook{},
		relocations: map[string]Relocation{},
	}
	e.applier.Space = space
	if alloc, ok := space.(Allocator); ok {
		e.Alloc = alloc
	}
	return e
}

// SetScratch replaces the allocator used to stage large payloads.
func (e *Engine) SetScratch(s Scratch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applier.Scratch = s
}

func (e *Engine) log() Logger {
	if e.Log == nil {
		return nopLogger{}
	}
	return e.Log
}

// Original returns the address the hooked call at site went to before it was
// hijacked. If site has not been hijacked ok is false.
func (e *Engine) Original(site uintptr) (addr uintptr, ok bool) {
	e.hookMu.RLock()
	defer e.hookMu.RUnlock()

	hook, ok := e.hooks[site]
	if !ok || hook.Original == 0 {
		return 0, false
	}
	return hook.Original, true
}

// Hooks returns every hook installed so far.
func (e *Engine) Hooks() []Hook {
	e.hookMu.RLock()
	defer e.hookMu.RUnlock()

	hooks := make([]Hook, 0, len(e.hooks))
	for _, h := range e.hooks {
		hooks = append(hooks, h)
	}
	return hooks
}

// Relocation returns the result of extending the named region.
func (e *Engine) Relocation(name string) (Relocation, bool) {
	e.hookMu.RLock()
	defer e.hookMu.RUnlock()

	r, ok := e.relocations[name]
	return r, ok
}

// claim reserves site for a new hook.
func (e *Engine) claim(site uintptr) error {
	if _, ok := e.hooks[site]; ok {
		return fmt.Errorf("0x%08x: %w", site, ErrSiteHooked)
	}
	return nil
}
