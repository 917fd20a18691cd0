// Package wavfile writes PCM to a WAV file that stays playable while it grows.
//
// The header is written with a zero data length on Open and patched in place
// as data accumulates, so a concurrent reader (a live transcriber, a media
// player) can decode the file at any time. Every append is data-synced; the
// header patch is rate limited by both a byte count and a wall-clock interval.
package wavfile

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chaz8081/gostt-capture/internal/audio"
)

const (
	// DefaultHeaderUpdateBytes is one second of 16 kHz mono 16-bit audio.
	DefaultHeaderUpdateBytes = 32000
	// DefaultHeaderUpdateInterval bounds how stale the header can get.
	DefaultHeaderUpdateInterval = time.Second
)

// State is a snapshot of a Writer.
type State struct {
	IsOpen         bool
	BytesWritten   int64
	SamplesWritten int64
	Path           string
	// LastHeaderUpdate is when the header was last patched (or written by Open).
	LastHeaderUpdate time.Time
	HeaderUpdates    int
}

// Option configures a Writer.
type Option func(*Writer)

// WithHeaderInterval sets the thresholds that must both be crossed before
// Write patches the header.
func WithHeaderInterval(bytes int64, every time.Duration) Option {
	return func(w *Writer) {
		if bytes > 0 {
			w.headerBytes = bytes
		}
		if every >= 0 {
			w.headerEvery = every
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// WriteFunc appends audio data to the open file at off. It has the
// semantics of (*os.File).WriteAt.
type WriteFunc func(f *os.File, p []byte, off int64) (int, error)

// WithWriteFunc replaces the audio data write, for injecting I/O failures in
// tests. Header writes are not affected.
func WithWriteFunc(fn WriteFunc) Option {
	return func(w *Writer) {
		if fn != nil {
			w.writeAt = fn
		}
	}
}

// Writer appends PCM to a WAV file. Calls are serialized; it is safe for
// concurrent use.
type Writer struct {
	path        string
	format      audio.Format
	headerBytes int64
	headerEvery time.Duration
	now         func() time.Time
	writeAt     WriteFunc

	mu           sync.Mutex
	file         *os.File
	bytesWritten int64
	patchedAt    int64 // bytesWritten at the last header patch
	lastPatch    time.Time
	patches      int
}

// NewWriter returns a closed writer for path. Call Open before Write.
func NewWriter(path string, f audio.Format, opts ...Option) *Writer {
	w := &Writer{
		path:        path,
		format:      f,
		headerBytes: DefaultHeaderUpdateBytes,
		headerEvery: DefaultHeaderUpdateInterval,
		now:         time.Now,
		writeAt:     (*os.File).WriteAt,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Path returns the output file path.
func (w *Writer) Path() string {
	return w.path
}

// Format returns the PCM format declared in the header.
func (w *Writer) Format() audio.Format {
	return w.format
}

// Open creates parent directories, truncates the file and writes an empty
// header. The header is on stable storage when Open returns.
func (w *Writer) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return fmt.Errorf("wavfile: %s already open", w.path)
	}
	if err := w.format.Validate(); err != nil {
		return fmt.Errorf("wavfile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return classify("create directory", err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return classify("open", err)
	}
	if _, err := f.WriteAt(EncodeHeader(w.format, 0), 0); err != nil {
		f.Close()
		return classify("write header", err)
	}
	if err := dataSync(f); err != nil {
		f.Close()
		return classify("sync", err)
	}

	w.file = f
	w.bytesWritten = 0
	w.patchedAt = 0
	w.patches = 0
	w.lastPatch = w.now()
	return nil
}

// Write appends p after the data already written and data-syncs it. A
// payload that is not a whole number of frames is logged and written anyway.
// On error the writer stays open and the counters are unchanged.
func (w *Writer) Write(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrNotOpen
	}
	if len(p) == 0 {
		return nil
	}
	if frame := w.format.FrameSize(); len(p)%frame != 0 {
		slog.Warn("[wavfile] write is not frame aligned", "bytes", len(p), "frame", frame, "path", w.path)
	}

	if _, err := w.writeAt(w.file, p, HeaderSize+w.bytesWritten); err != nil {
		w.discardTail()
		return classify("write", err)
	}
	if err := dataSync(w.file); err != nil {
		w.discardTail()
		return classify("sync", err)
	}
	w.bytesWritten += int64(len(p))

	now := w.now()
	if w.bytesWritten-w.patchedAt >= w.headerBytes && now.Sub(w.lastPatch) >= w.headerEvery {
		if err := w.patchHeader(now); err != nil {
			return err
		}
	}
	return nil
}

// Close patches the header with the final length, fully syncs and closes
// the file. Closing a closed writer is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil

	var errs []error
	if err := w.patchHeaderOn(f, w.now()); err != nil {
		errs = append(errs, err)
	}
	// A failed write may have left part of its payload past the data chunk.
	if err := f.Truncate(HeaderSize + w.bytesWritten); err != nil {
		errs = append(errs, classify("truncate", err))
	}
	if err := f.Sync(); err != nil {
		errs = append(errs, classify("sync", err))
	}
	if err := f.Close(); err != nil {
		errs = append(errs, classify("close", err))
	}
	return errors.Join(errs...)
}

// State returns a snapshot of the writer counters.
func (w *Writer) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	var samples int64
	if frame := int64(w.format.FrameSize()); frame > 0 {
		samples = w.bytesWritten / frame
	}
	return State{
		IsOpen:           w.file != nil,
		BytesWritten:     w.bytesWritten,
		SamplesWritten:   samples,
		Path:             w.path,
		LastHeaderUpdate: w.lastPatch,
		HeaderUpdates:    w.patches,
	}
}

// discardTail drops whatever a failed write left after the counted data
// (caller holds mu).
func (w *Writer) discardTail() {
	if err := w.file.Truncate(HeaderSize + w.bytesWritten); err != nil {
		slog.Warn("[wavfile] discarding partial write", "path", w.path, "error", err)
	}
}

// patchHeader rewrites the header in place (caller holds mu).
func (w *Writer) patchHeader(now time.Time) error {
	return w.patchHeaderOn(w.file, now)
}

func (w *Writer) patchHeaderOn(f *os.File, now time.Time) error {
	if _, err := f.WriteAt(EncodeHeader(w.format, dataSize(w.bytesWritten)), 0); err != nil {
		return classify("patch header", err)
	}
	if err := dataSync(f); err != nil {
		return classify("sync", err)
	}
	w.patchedAt = w.bytesWritten
	w.lastPatch = now
	w.patches++
	return nil
}

// dataSize saturates n to what the 32-bit RIFF size fields can hold.
func dataSize(n int64) uint32 {
	const limit = math.MaxUint32 - 36
	if n > limit {
		return limit
	}
	return uint32(n)
}
