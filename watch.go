package livepatch

import "time"

// CheckAndApply applies src if its version is newer than the last one
// applied. It reports whether a pass ran.
//
// A missing source, an unreadable version, or a version that isn't strictly
// newer all leave the engine untouched. Otherwise the stored version is
// advanced before any record is read, so a pass that ends early on a
// truncated stream is not retried until the source changes again.
func (e *Engine) CheckAndApply(src Source) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	stream, err := src.Open()
	if err != nil {
		return false
	}
	defer stream.Close()

	version, err := stream.Version()
	if err != nil {
		e.log().Logf(LevelDebug, "patch source version unavailable: %v", err)
		return false
	}
	if !version.After(e.version) {
		return false
	}
	e.version = version

	stats := e.applier.Apply(stream)
	e.log().Logf(LevelInfo, "applied patch %s: %d written, %d skipped, truncated=%v",
		version.Format(time.RFC3339Nano), stats.Applied, stats.Skipped, stats.Truncated)
	return true
}

// Version returns the version of the last patch applied.
func (e *Engine) Version() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}
