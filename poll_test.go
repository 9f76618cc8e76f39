package livepatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_RunOnce(t *testing.T) {
	img := NewImage()
	mem := img.Map(0x1000, 0x10)
	e := New(img)

	p := &Poller{
		Engine: e,
		Source: &memSource{
			version: t0,
			data:    encodeRecords(t, Record{Addr: 0x1000, Payload: []byte{0x42}}),
		},
	}

	assert.True(t, p.RunOnce())
	assert.False(t, p.RunOnce())
	assert.Equal(t, byte(0x42), mem[0])
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	e := New(NewImage())
	p := &Poller{Engine: e, Source: &memSource{missing: true}, Interval: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- p.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStartPolling_Interval(t *testing.T) {
	img := NewImage()
	img.Map(0x1000, 0x10)
	e := New(img)

	stop := e.StartPolling(&Poller{
		Source: &memSource{
			version: t0,
			data:    encodeRecords(t, Record{Addr: 0x1000, Payload: []byte{0x42}}),
		},
		Interval: 10 * time.Millisecond,
	})
	defer stop()

	require.Eventually(t, func() bool {
		return e.Version().Equal(t0)
	}, 5*time.Second, 10*time.Millisecond)

	var got [1]byte
	require.NoError(t, img.Read(0x1000, got[:]))
	assert.Equal(t, byte(0x42), got[0])
}

func TestStartPolling_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "biorand.dat")

	img := NewImage()
	img.Map(0x1000, 0x10)
	e := New(img)

	// The interval is long enough that only a file event can wake the
	// poller.
	stop := e.StartPolling(&Poller{
		Source:   FileSource(path),
		Interval: time.Hour,
		Watch:    path,
		Settle:   20 * time.Millisecond,
	})
	defer stop()

	data := encodeRecords(t, Record{Addr: 0x1000, Payload: []byte{0x42}})

	require.Eventually(t, func() bool {
		var got [1]byte
		if err := img.Read(0x1000, got[:]); err == nil && got[0] == 0x42 {
			return true
		}

		// The watcher may not be running yet when the file is first
		// written. Writing again moves the modification time on.
		os.WriteFile(path, data, 0o644)
		return false
	}, 10*time.Second, 200*time.Millisecond)
}

func TestPoller_WatchWaitsForQuiet(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "biorand.dat")
	data := encodeRecords(t,
		Record{Addr: 0x1000, Payload: []byte{1, 2, 3, 4}},
		Record{Addr: 0x2000, Payload: []byte{5, 6, 7, 8}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &Poller{Engine: New(NewImage()), Watch: path, Settle: 300 * time.Millisecond}
	wake := p.watch(ctx)
	require.NotNil(wake)

	// The producer writes the file in two pieces.
	f, err := os.Create(path)
	require.NoError(err)
	_, err = f.Write(data[:9])
	require.NoError(err)
	time.Sleep(100 * time.Millisecond)
	_, err = f.Write(data[9:])
	require.NoError(err)
	require.NoError(f.Close())

	select {
	case <-wake:
		t.Fatal("woke while the file was still being written")
	case <-time.After(150 * time.Millisecond):
	}

	select {
	case <-wake:
	case <-time.After(5 * time.Second):
		t.Fatal("no wake after the file went quiet")
	}

	// One burst of writes is one wake.
	select {
	case <-wake:
		t.Fatal("woke twice for one write")
	case <-time.After(500 * time.Millisecond):
	}
}
