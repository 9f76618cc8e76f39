// biorandmod is loaded into the game process and keeps it patched from
// mod_biorand/biorand.dat.
//
// Build it as a DLL:
//
//	GOOS=windows GOARCH=386 go build -buildmode=c-shared -o biorandmod.dll ./cmd/biorandmod
//
// There is no command line, environment or config file. The variables below
// can be changed at link time, e.g. -ldflags "-X main.verbose=true".
package main

import (
	// Standard
	"fmt"

	// Internal
	"github.com/biorand/livepatch"
	"github.com/biorand/livepatch/internal/cli"
)

// dataPath is the patch file relative to the game executable
var dataPath = livepatch.DefaultDataPath

// verbose writes engine messages to STDOUT
var verbose = "false"

// debug writes detailed engine messages to STDOUT
var debug = "false"

// notify wakes the poller on file changes instead of only every 5 seconds
var notify = "true"

// unprotect makes pages writable before patching them
var unprotect = "false"

// init runs when the host loads the library
func init() {
	cli.Verbose = verbose == "true"
	cli.Debug = debug == "true"

	space := livepatch.NewLive()
	space.Unprotect = unprotect == "true"

	_, _, err := livepatch.Attach(livepatch.Options{
		DataPath: dataPath,
		Space:    space,
		Registry: hostRegistry(),
		Notify:   notify == "true",
		Log:      cli.Logger{},
	})
	if err != nil {
		cli.Message(cli.WARN, fmt.Sprintf("attach failed: %s", err))
		return
	}
	cli.Message(cli.SUCCESS, "biorandmod attached")
}

func main() {}
