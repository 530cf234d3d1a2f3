package filemonitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatcher(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	watched := filepath.Join(dir, "network.yaml")
	other := filepath.Join(dir, "other.yaml")
	require.NoError(t, os.WriteFile(watched, []byte("a"), 0o600))

	logger, _ := test.NewNullLogger()
	events := make(chan string, 16)
	w, err := NewWatch(logger, []string{watched}, func(_ logrus.FieldLogger, e fsnotify.Event) {
		events <- e.Name
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Changes to files next to the watched one are ignored.
	require.NoError(t, os.WriteFile(other, []byte("b"), 0o600))
	require.NoError(t, os.WriteFile(watched, []byte("c"), 0o600))
	select {
	case name := <-events:
		assert.Equal(t, watched, name)
	case <-time.After(5 * time.Second):
		t.Fatal("no event for the watched file")
	}

	cancel()
	<-done
	for len(events) > 0 {
		assert.Equal(t, watched, <-events)
	}
}

func TestNewWatchMissingDirectory(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := NewWatch(logger, []string{filepath.Join(t.TempDir(), "missing", "network.yaml")}, nil)
	assert.Error(t, err)
}
