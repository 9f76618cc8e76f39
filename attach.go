package livepatch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultInterval is how often the patch file is checked.
	DefaultInterval = 5 * time.Second

	// DefaultDataPath is the patch file, relative to the host executable's
	// directory.
	DefaultDataPath = "mod_biorand/biorand.dat"
)

// Options configures Attach.
type Options struct {
	// Executable is the host executable. Defaults to os.Executable.
	Executable string

	// DataPath is the patch file relative to the executable's directory.
	DataPath string

	// Space is the memory to patch. Defaults to the current process.
	Space AddressSpace

	// Registry is installed once before the first patch is applied.
	Registry Registry

	Interval time.Duration

	// Notify wakes the poller on file system events as well as on the
	// interval.
	Notify bool

	Log Logger
}

// ResolvePath returns suffix relative to the directory holding exe.
func ResolvePath(exe, suffix string) string {
	return filepath.Join(filepath.Dir(exe), filepath.FromSlash(suffix))
}

// Attach sets the engine up inside the host: it installs the registry,
// applies the patch file once and starts polling it. A registry that doesn't
// match the host is logged and ignored; patching still runs.
//
// The returned stop func ends polling. The host never calls it.
func Attach(opts Options) (*Engine, func(), error) {
	exe := opts.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return nil, nil, fmt.Errorf("locating host executable: %w", err)
		}
	}

	dataPath := opts.DataPath
	if dataPath == "" {
		dataPath = DefaultDataPath
	}
	path := ResolvePath(exe, dataPath)

	space := opts.Space
	if space == nil {
		space = NewLive()
	}

	e := New(space)
	e.Log = opts.Log

	results, err := e.Install(opts.Registry)
	switch {
	case errors.Is(err, ErrHostMismatch):
	case err != nil:
		return nil, nil, err
	default:
		installed := 0
		for _, res := range results {
			if res.Err == nil {
				installed++
			}
		}
		e.log().Logf(LevelInfo, "installed %d of %d hooks", installed, len(results))
	}

	src := FileSource(path)
	e.CheckAndApply(src)

	p := &Poller{Source: src, Interval: opts.Interval}
	if opts.Notify {
		p.Watch = path
	}
	stop := e.StartPolling(p)

	e.log().Logf(LevelInfo, "watching %s", path)
	return e, stop, nil
}
