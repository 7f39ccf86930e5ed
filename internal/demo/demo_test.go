package demo

import (
	"bytes"
	"log/slog"
	"sync"

	"github.com/comalice/hsmx/internal/logging"
)

// lockedBuffer collects log output written from several loops.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *lockedBuffer) {
	out := &lockedBuffer{}
	return logging.NewWriter(out, slog.LevelDebug, logging.FormatText), out
}
