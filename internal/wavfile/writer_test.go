package wavfile

import (
	"encoding/binary"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/go-audio/wav"

	"github.com/chaz8081/gostt-capture/internal/audio"
)

var mono16k = audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// headerDataSize reads the data length field straight from the file.
func headerDataSize(t *testing.T, path string) uint32 {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if len(data) < HeaderSize {
		t.Fatalf("file is %d bytes, shorter than the header", len(data))
	}
	_, size, err := DecodeHeader(data[:HeaderSize])
	if err != nil {
		t.Fatalf("DecodeHeader() error = %v", err)
	}
	if riff := binary.LittleEndian.Uint32(data[4:8]); riff != 36+size {
		t.Errorf("RIFF chunk size = %d, want %d", riff, 36+size)
	}
	return size
}

func TestEncodeHeaderLayout(t *testing.T) {
	h := EncodeHeader(audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}, 9600)

	if len(h) != HeaderSize {
		t.Fatalf("header is %d bytes, want %d", len(h), HeaderSize)
	}
	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"chunk size", binary.LittleEndian.Uint32(h[4:8]), 9636},
		{"fmt size", binary.LittleEndian.Uint32(h[16:20]), 16},
		{"audio format", uint32(binary.LittleEndian.Uint16(h[20:22])), 1},
		{"channels", uint32(binary.LittleEndian.Uint16(h[22:24])), 1},
		{"sample rate", binary.LittleEndian.Uint32(h[24:28]), 16000},
		{"byte rate", binary.LittleEndian.Uint32(h[28:32]), 32000},
		{"block align", uint32(binary.LittleEndian.Uint16(h[32:34])), 2},
		{"bits", uint32(binary.LittleEndian.Uint16(h[34:36])), 16},
		{"data size", binary.LittleEndian.Uint32(h[40:44]), 9600},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	for _, tag := range []struct {
		off int
		s   string
	}{{0, "RIFF"}, {8, "WAVE"}, {12, "fmt "}, {36, "data"}} {
		if got := string(h[tag.off : tag.off+4]); got != tag.s {
			t.Errorf("tag at %d = %q, want %q", tag.off, got, tag.s)
		}
	}
}

func TestDecodeHeaderRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeHeader(make([]byte, 10)); err == nil {
		t.Error("DecodeHeader() should reject a short buffer")
	}
	if _, _, err := DecodeHeader(make([]byte, HeaderSize)); err == nil {
		t.Error("DecodeHeader() should reject a zeroed buffer")
	}
}

func TestWriteBeforeOpen(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "out.wav"), mono16k)
	if err := w.Write([]byte{0, 0}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Write() before Open error = %v, want ErrNotOpen", err)
	}
}

func TestOpenCreatesDirsAndEmptyHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "out.wav")
	w := NewWriter(path, mono16k)
	if err := w.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer w.Close()

	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Size() != HeaderSize {
		t.Errorf("file size after Open = %d, want %d", st.Size(), HeaderSize)
	}
	if got := headerDataSize(t, path); got != 0 {
		t.Errorf("data size after Open = %d, want 0", got)
	}
	if !w.State().IsOpen {
		t.Error("State().IsOpen = false after Open")
	}
}

func TestOpenTwiceFails(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "out.wav"), mono16k)
	if err := w.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer w.Close()
	if err := w.Open(); err == nil {
		t.Error("second Open() should fail")
	}
}

func TestHeaderPatchedWhenBothThresholdsCrossed(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	path := filepath.Join(t.TempDir(), "out.wav")
	w := NewWriter(path, mono16k, WithHeaderInterval(1000, time.Second), WithClock(clock.Now))
	if err := w.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer w.Close()

	// enough bytes, not enough time
	if err := w.Write(make([]byte, 2000)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := headerDataSize(t, path); got != 0 {
		t.Errorf("header patched before the interval elapsed: data size %d", got)
	}

	// enough time, now the next write patches
	clock.Advance(1500 * time.Millisecond)
	if err := w.Write(make([]byte, 200)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got, want := headerDataSize(t, path), uint32(w.State().BytesWritten); got != want {
		t.Errorf("header data size = %d, want %d", got, want)
	}

	// time passes but too few bytes since the last patch
	clock.Advance(5 * time.Second)
	if err := w.Write(make([]byte, 100)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := headerDataSize(t, path); got != 2200 {
		t.Errorf("header data size = %d, want 2200 (no patch below byte threshold)", got)
	}
	if w.State().HeaderUpdates != 1 {
		t.Errorf("HeaderUpdates = %d, want 1", w.State().HeaderUpdates)
	}
}

func TestHeaderValidAtEveryPatch(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	path := filepath.Join(t.TempDir(), "out.wav")
	w := NewWriter(path, mono16k, WithHeaderInterval(3200, 100*time.Millisecond), WithClock(clock.Now))
	if err := w.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer w.Close()

	chunk := audio.Int16ToBytes(make([]int16, 1600))
	lastPatches := 0
	for i := 0; i < 20; i++ {
		clock.Advance(50 * time.Millisecond)
		if err := w.Write(chunk); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		st := w.State()
		if st.HeaderUpdates == lastPatches {
			continue
		}
		lastPatches = st.HeaderUpdates

		if got := headerDataSize(t, path); int64(got) != st.BytesWritten {
			t.Fatalf("after patch %d: header says %d, written %d", st.HeaderUpdates, got, st.BytesWritten)
		}
		info, err := Inspect(path)
		if err != nil {
			t.Fatalf("Inspect() mid-recording error = %v", err)
		}
		if info.DataSize != st.BytesWritten || !info.Complete() {
			t.Fatalf("Inspect() = %+v, want data size %d and complete", info, st.BytesWritten)
		}
	}
	if lastPatches == 0 {
		t.Fatal("header was never patched")
	}
}

func TestCloseFinalizesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	// thresholds never reached during the writes
	w := NewWriter(path, mono16k, WithHeaderInterval(1<<30, time.Hour))
	if err := w.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	samples := make([]int16, 4800)
	for i := range samples {
		samples[i] = int16(i%200 - 100)
	}
	data := audio.Int16ToBytes(samples)
	for off := 0; off < len(data); off += 1000 {
		end := off + 1000
		if end > len(data) {
			end = len(data)
		}
		if err := w.Write(data[off:end]); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := headerDataSize(t, path); got != 9600 {
		t.Errorf("data size = %d, want 9600", got)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if st.Size() != 9644 {
		t.Errorf("file size = %d, want 9644", st.Size())
	}
	if w.State().IsOpen {
		t.Error("State().IsOpen = true after Close")
	}
	if w.State().SamplesWritten != 4800 {
		t.Errorf("SamplesWritten = %d, want 4800", w.State().SamplesWritten)
	}

	// a standard decoder reads back exactly what was written
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(samples))
	}
	for i := range samples {
		if buf.Data[i] != int(samples[i]) {
			t.Fatalf("sample %d = %d, want %d", i, buf.Data[i], samples[i])
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "out.wav"), mono16k)
	if err := w.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := w.Write([]byte{0, 0}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Write() after Close error = %v, want ErrNotOpen", err)
	}
}

func TestMisalignedWriteStillWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	w := NewWriter(path, mono16k)
	if err := w.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := w.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Write() misaligned error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := headerDataSize(t, path); got != 3 {
		t.Errorf("data size = %d, want 3", got)
	}
}

func TestOpenFailsInReadOnlyDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(dir, 0o700)

	w := NewWriter(filepath.Join(dir, "out.wav"), mono16k)
	err := w.Open()
	if !errors.Is(err, ErrPermission) {
		t.Errorf("Open() error = %v, want ErrPermission", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"enospc", &fs.PathError{Op: "write", Path: "x", Err: syscall.ENOSPC}, ErrDiskFull},
		{"edquot", &fs.PathError{Op: "write", Path: "x", Err: syscall.EDQUOT}, ErrDiskFull},
		{"message", errors.New("write x: no space left on device"), ErrDiskFull},
		{"eacces", &fs.PathError{Op: "open", Path: "x", Err: syscall.EACCES}, ErrPermission},
		{"erofs", &fs.PathError{Op: "open", Path: "x", Err: syscall.EROFS}, ErrPermission},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("write", tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("classify() = %v, want %v", got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classify() lost the cause: %v", got)
			}
		})
	}

	other := classify("write", syscall.EIO)
	if errors.Is(other, ErrDiskFull) || errors.Is(other, ErrPermission) {
		t.Errorf("classify(EIO) = %v, want a generic error", other)
	}
	if classify("write", nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}

// failAfter returns a WriteFunc that performs n writes normally, then writes
// half of each payload and fails with ENOSPC.
func failAfter(n int) WriteFunc {
	calls := 0
	return func(f *os.File, p []byte, off int64) (int, error) {
		calls++
		if calls <= n {
			return f.WriteAt(p, off)
		}
		written, _ := f.WriteAt(p[:len(p)/2], off)
		return written, &fs.PathError{Op: "write", Path: f.Name(), Err: syscall.ENOSPC}
	}
}

func TestPartialWriteIsDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	w := NewWriter(path, mono16k, WithWriteFunc(failAfter(1)))
	if err := w.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := w.Write(make([]byte, 1000)); err != nil {
		t.Fatalf("first Write() error = %v", err)
	}

	err := w.Write(make([]byte, 400))
	if !errors.Is(err, ErrDiskFull) {
		t.Fatalf("second Write() error = %v, want ErrDiskFull", err)
	}
	st := w.State()
	if !st.IsOpen || st.BytesWritten != 1000 {
		t.Errorf("State() after failed write = %+v, want open with 1000 bytes", st)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != HeaderSize+1000 {
		t.Errorf("file size after failed write = %d, want %d", fi.Size(), HeaderSize+1000)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if info.DataSize != 1000 || !info.Complete() {
		t.Errorf("Inspect() = %+v, want 1000 data bytes and complete", info)
	}
}

func TestCloseTrimsBytesPastData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	w := NewWriter(path, mono16k)
	if err := w.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := w.Write(make([]byte, 640)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// Bytes the writer never counted, as left by an interrupted append.
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt(make([]byte, 52), HeaderSize+640); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != HeaderSize+640 {
		t.Errorf("file size = %d, want %d", fi.Size(), HeaderSize+640)
	}
	if got := headerDataSize(t, path); got != 640 {
		t.Errorf("data size = %d, want 640", got)
	}
}
