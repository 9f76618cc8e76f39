package livepatch

import (
	"io"
	"os"
	"time"
)

// Source is where patch streams come from.
type Source interface {
	Open() (Stream, error)
}

// Stream is an open patch stream. Version is a timestamp that moves forward
// whenever the content changes.
type Stream interface {
	io.ReadCloser
	Version() (time.Time, error)
}

// FileSource is a patch file on disk, versioned by its modification time.
type FileSource string

func (s FileSource) Open() (Stream, error) {
	f, err := os.Open(string(s))
	if err != nil {
		return nil, err
	}
	return fileStream{f}, nil
}

type fileStream struct {
	*os.File
}

func (f fileStream) Version() (time.Time, error) {
	fi, err := f.Stat()
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}
