// Package mixer fuses a microphone stream and a system-audio stream into one
// mono recording.
//
// Each source runs in its own goroutine and only forwards raw chunks to the
// mixer's inbox. A single session goroutine owns everything else: it
// downmixes and resamples each chunk to the output format, buffers it until
// the other source has audio for the same span, mixes the paired samples and
// appends them to a wavfile.Writer. When one source ends first, the rest of
// the other source is written unmixed, so no audio is dropped.
package mixer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/gostt-capture/internal/audio"
	"github.com/chaz8081/gostt-capture/internal/metrics"
	"github.com/chaz8081/gostt-capture/internal/resample"
	"github.com/chaz8081/gostt-capture/internal/wavfile"
)

// DefaultQueueSize is the inbox capacity in messages.
const DefaultQueueSize = 1024

var (
	// ErrAlreadyMixing is returned by Start when a session is running.
	ErrAlreadyMixing = errors.New("mixer: already mixing")
	// ErrNotMixing is returned by Stop when no session is running.
	ErrNotMixing = errors.New("mixer: not mixing")
)

// Phase is the lifecycle phase of a Mixer.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseMixing
	PhaseStopping
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseMixing:
		return "mixing"
	case PhaseStopping:
		return "stopping"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// ChunkFunc receives PCM and the format it is in. It runs on the session
// goroutine and must not block. The chunk must not be modified.
type ChunkFunc func(chunk []byte, f audio.Format)

// Callbacks are optional live consumers of the session's audio.
type Callbacks struct {
	// OnMixed receives every block written to the output file.
	OnMixed ChunkFunc
	// OnMicrophone and OnSystem receive each source's audio after downmix
	// and resampling, before it is paired.
	OnMicrophone ChunkFunc
	OnSystem     ChunkFunc
}

// Options configures a Mixer. The zero value uses the package defaults.
type Options struct {
	Callbacks

	// OnError is called once, from its own goroutine, when writing the
	// output fails. The session stops accepting audio; Stop returns the
	// same error.
	OnError func(error)

	SilenceThreshold float64
	HeadroomGain     float64
	QueueSize        int

	WriterOptions []wavfile.Option
	Metrics       *metrics.Metrics
}

// State is a snapshot of a Mixer.
type State struct {
	IsMixing bool
	Phase    Phase
	// SamplesProcessed counts samples written to the output.
	SamplesProcessed int64
	// MicBuffered and SysBuffered count samples waiting to be paired.
	MicBuffered       int64
	SysBuffered       int64
	ResamplingEnabled bool
}

// Mixer records two streams into one WAV file. Start and Stop may be called
// from any goroutine; only one session runs at a time.
type Mixer struct {
	out  audio.Format
	path string
	opts Options

	mu      sync.Mutex // serializes Start and Stop
	session *session

	phase            atomic.Int32
	samplesProcessed atomic.Int64
	micBuffered      atomic.Int64
	sysBuffered      atomic.Int64
	resampling       atomic.Bool
}

// New returns an idle mixer that records to path in format out.
func New(out audio.Format, path string, opts Options) *Mixer {
	if opts.SilenceThreshold <= 0 {
		opts.SilenceThreshold = SilenceThreshold
	}
	if opts.HeadroomGain <= 0 {
		opts.HeadroomGain = HeadroomGain
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &Mixer{out: out, path: path, opts: opts}
}

// Path returns the output file path.
func (m *Mixer) Path() string {
	return m.path
}

// State returns a snapshot of the mixer counters.
func (m *Mixer) State() State {
	p := Phase(m.phase.Load())
	return State{
		IsMixing:          p == PhaseMixing,
		Phase:             p,
		SamplesProcessed:  m.samplesProcessed.Load(),
		MicBuffered:       m.micBuffered.Load(),
		SysBuffered:       m.sysBuffered.Load(),
		ResamplingEnabled: m.resampling.Load(),
	}
}

// Start opens the output file and starts pulling from mic and sys. If the
// file cannot be opened the mixer stays idle. Cancelling ctx ends both
// sources; the session keeps running until Stop.
func (m *Mixer) Start(ctx context.Context, mic, sys audio.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if Phase(m.phase.Load()) != PhaseIdle {
		return ErrAlreadyMixing
	}
	if err := m.checkFormats(mic.Format(), sys.Format()); err != nil {
		return err
	}

	w := wavfile.NewWriter(m.path, m.out, m.opts.WriterOptions...)
	if err := w.Open(); err != nil {
		return fmt.Errorf("mixer: open output: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &session{
		m:      m,
		writer: w,
		inbox:  make(chan message, m.opts.QueueSize),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	s.inputs[sourceMic] = m.newInput(sourceMic, mic.Format(), m.opts.OnMicrophone)
	s.inputs[sourceSystem] = m.newInput(sourceSystem, sys.Format(), m.opts.OnSystem)

	m.samplesProcessed.Store(0)
	m.micBuffered.Store(0)
	m.sysBuffered.Store(0)
	m.resampling.Store(s.inputs[sourceMic].resampler != nil || s.inputs[sourceSystem].resampler != nil)
	m.phase.Store(int32(PhaseMixing))
	m.session = s
	m.opts.Metrics.SessionStarted()

	slog.Info("[mixer] session started",
		"path", m.path,
		"output", m.out,
		"mic", mic.Format(),
		"system", sys.Format(),
		"resampling", m.resampling.Load())

	go s.run()
	s.producers.Add(2)
	go s.produce(runCtx, sourceMic, mic)
	go s.produce(runCtx, sourceSystem, sys)
	return nil
}

// Stop ends both sources, writes out whatever is still buffered and closes
// the output file. It returns the output path, and the first write error of
// the session if there was one. If ctx expires first Stop returns early and
// the session finishes closing in the background.
func (m *Mixer) Stop(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if Phase(m.phase.Load()) != PhaseMixing {
		return "", ErrNotMixing
	}
	s := m.session
	m.phase.Store(int32(PhaseStopping))
	s.cancel()

	reply := make(chan error, 1)
	go func() {
		s.producers.Wait()
		s.inbox <- message{kind: msgStop, reply: reply}
	}()

	select {
	case err := <-reply:
		return m.path, err
	case <-ctx.Done():
		return m.path, fmt.Errorf("mixer: stop: %w", ctx.Err())
	}
}

func (m *Mixer) checkFormats(mic, sys audio.Format) error {
	if err := m.out.Validate(); err != nil {
		return fmt.Errorf("mixer: output: %w", err)
	}
	if m.out.Channels != 1 {
		return fmt.Errorf("mixer: output must be mono, got %d channels", m.out.Channels)
	}
	for _, in := range []struct {
		name string
		f    audio.Format
	}{{"mic", mic}, {"system", sys}} {
		if err := in.f.Validate(); err != nil {
			return fmt.Errorf("mixer: %s: %w", in.name, err)
		}
		if in.f.BitDepth != m.out.BitDepth {
			return fmt.Errorf("mixer: %s bit depth %d does not match output %d", in.name, in.f.BitDepth, m.out.BitDepth)
		}
		if in.f.SampleRate != m.out.SampleRate && in.f.BitDepth != 16 {
			return fmt.Errorf("mixer: %s: resampling requires 16-bit audio", in.name)
		}
	}
	return nil
}

func (m *Mixer) newInput(src source, f audio.Format, cb ChunkFunc) *input {
	in := &input{
		src:      src,
		format:   f,
		callback: cb,
		// Audio is queued in the output's channel count and rate.
		queued: audio.Format{SampleRate: f.SampleRate, Channels: m.out.Channels, BitDepth: f.BitDepth},
	}
	if f.SampleRate != m.out.SampleRate {
		in.resampler = resample.New(f.SampleRate, m.out.SampleRate)
		in.queued.SampleRate = m.out.SampleRate
	}
	return in
}

type source int

const (
	sourceMic source = iota
	sourceSystem
)

func (s source) String() string {
	if s == sourceMic {
		return "mic"
	}
	return "system"
}

type msgKind int

const (
	msgChunk msgKind = iota
	msgEnd
	msgStop
)

type message struct {
	kind  msgKind
	src   source
	data  []byte
	err   error
	reply chan error
}

type input struct {
	src       source
	format    audio.Format // as delivered by the stream
	queued    audio.Format // after downmix and resampling
	resampler *resample.Resampler
	queue     pendingQueue
	callback  ChunkFunc
	ended     bool
}

// session is the state of one recording. Everything below producers is
// owned by the run goroutine.
type session struct {
	m         *Mixer
	inbox     chan message
	done      chan struct{}
	cancel    context.CancelFunc
	producers sync.WaitGroup
	inboxFull atomic.Bool

	writer *wavfile.Writer
	inputs [2]*input
	failed error
}

// produce runs one stream and forwards its chunks to the inbox.
func (s *session) produce(ctx context.Context, src source, stream audio.Stream) {
	defer s.producers.Done()

	err := stream.Run(ctx, func(chunk []byte) {
		s.send(message{kind: msgChunk, src: src, data: chunk})
	})
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.send(message{kind: msgEnd, src: src, err: err})
}

// send enqueues msg, blocking while the inbox is full. The first wait of a
// session is logged. Messages sent after the session has ended are discarded.
func (s *session) send(msg message) {
	select {
	case s.inbox <- msg:
		return
	case <-s.done:
		return
	default:
	}
	if s.inboxFull.CompareAndSwap(false, true) {
		slog.Warn("[mixer] inbox full, capture is waiting on the writer",
			"source", msg.src, "queue_size", cap(s.inbox))
	}
	select {
	case s.inbox <- msg:
	case <-s.done:
	}
}

func (s *session) run() {
	defer close(s.done)

	for msg := range s.inbox {
		switch msg.kind {
		case msgChunk:
			s.ingest(s.inputs[msg.src], msg.data)
			s.drain(false)
		case msgEnd:
			s.end(s.inputs[msg.src], msg.err)
			s.drain(false)
		case msgStop:
			s.drain(true)
			err := s.close()
			s.m.phase.Store(int32(PhaseIdle))
			msg.reply <- err
			return
		}
	}
}

// ingest converts a raw chunk to the output layout and queues it.
func (s *session) ingest(in *input, chunk []byte) {
	if s.failed != nil || len(chunk) == 0 {
		return
	}
	s.m.opts.Metrics.ObserveChunk(in.src.String(), len(chunk))

	p := chunk
	if in.format.Channels == 2 && s.m.out.Channels == 1 {
		p = audio.Downmix(p, in.format)
	}
	if in.resampler != nil {
		p = in.resampler.Resample(p)
	}
	if len(p) == 0 {
		return
	}

	in.queue.push(p)
	s.updateBuffered(in)
	if in.callback != nil {
		in.callback(p, in.queued)
	}
}

func (s *session) end(in *input, err error) {
	in.ended = true
	if err != nil {
		s.m.opts.Metrics.ObserveSourceError(in.src.String())
		slog.Warn("[mixer] source ended with error", "source", in.src, "error", err)
		return
	}
	slog.Debug("[mixer] source ended", "source", in.src, "pending_bytes", in.queue.len())
}

// drain mixes and writes every paired sample. A source whose queue is empty
// and that will deliver nothing more (it ended, or the session is stopping)
// releases the other source's remainder, which is written unmixed.
func (s *session) drain(stopping bool) {
	if s.failed != nil {
		return
	}
	start := time.Now()
	defer func() { s.m.opts.Metrics.ObserveDrain(time.Since(start)) }()

	mic, sys := s.inputs[sourceMic], s.inputs[sourceSystem]
	bps := s.m.out.BytesPerSample()

	for {
		n := min(mic.queue.len(), sys.queue.len()) / bps
		if n == 0 {
			break
		}
		a := mic.queue.take(n * bps)
		b := sys.queue.take(n * bps)
		s.updateBuffered(mic)
		s.updateBuffered(sys)

		var mixed []byte
		if s.m.out.BitDepth == 8 {
			mixed = Mix8(a, b, s.m.opts.SilenceThreshold, s.m.opts.HeadroomGain)
		} else {
			mixed = Mix16(a, b, s.m.opts.SilenceThreshold, s.m.opts.HeadroomGain)
		}
		if !s.emit(mixed, true) {
			return
		}
	}

	for _, pair := range [][2]*input{{mic, sys}, {sys, mic}} {
		rest, other := pair[0], pair[1]
		if rest.queue.len() == 0 || other.queue.len() > 0 {
			continue
		}
		if !stopping && !other.ended {
			continue
		}
		tail := rest.queue.takeAll()
		s.updateBuffered(rest)
		slog.Debug("[mixer] flushing unpaired audio", "source", rest.src, "bytes", len(tail))
		if !s.emit(tail, false) {
			return
		}
	}
}

// emit writes a block to the output and hands it to OnMixed.
func (s *session) emit(block []byte, mixed bool) bool {
	if err := s.writer.Write(block); err != nil {
		s.fail(err)
		return false
	}
	samples := len(block) / s.m.out.BytesPerSample()
	s.m.samplesProcessed.Add(int64(samples))
	s.m.opts.Metrics.ObserveWrite(len(block), samples, mixed)
	if s.m.opts.OnMixed != nil {
		s.m.opts.OnMixed(block, s.m.out)
	}
	return true
}

// fail records the first output error and stops both sources. Buffered
// audio is discarded from here on; the file stays valid up to the last
// successful write.
func (s *session) fail(err error) {
	if s.failed != nil {
		return
	}
	s.failed = fmt.Errorf("mixer: %w", err)
	slog.Error("[mixer] output write failed, stopping capture", "path", s.writer.Path(), "error", err)
	s.m.opts.Metrics.ObserveWriteError(err)
	s.cancel()
	if s.m.opts.OnError != nil {
		go s.m.opts.OnError(s.failed)
	}
}

// close finalizes the writer and reports the session outcome.
func (s *session) close() error {
	err := s.writer.Close()
	if err != nil {
		s.m.opts.Metrics.ObserveWriteError(err)
		err = fmt.Errorf("mixer: close output: %w", err)
	}
	st := s.writer.State()
	s.m.opts.Metrics.SessionStopped()
	slog.Info("[mixer] session stopped",
		"path", st.Path,
		"bytes", st.BytesWritten,
		"samples", s.m.samplesProcessed.Load())
	return errors.Join(s.failed, err)
}

func (s *session) updateBuffered(in *input) {
	samples := int64(in.queue.len() / s.m.out.BytesPerSample())
	if in.src == sourceMic {
		s.m.micBuffered.Store(samples)
	} else {
		s.m.sysBuffered.Store(samples)
	}
	s.m.opts.Metrics.SetPending(in.src.String(), samples)
}
