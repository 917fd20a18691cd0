package audio

import (
	"context"
	"fmt"
	"time"

	"github.com/jfreymuth/pulse"
)

// PulseStream records 16-bit PCM through a PulseAudio (or PipeWire-pulse)
// server. In monitor mode it records the monitor source of the default sink,
// which carries everything the machine is playing.
type PulseStream struct {
	format  Format
	source  string
	monitor bool
}

// NewPulseSource records from the named source, or the default source when
// source is empty.
func NewPulseSource(f Format, source string) *PulseStream {
	return &PulseStream{format: f, source: source}
}

// NewPulseMonitor records the monitor of the default sink.
func NewPulseMonitor(f Format) *PulseStream {
	return &PulseStream{format: f, monitor: true}
}

// Format returns the record format requested from the server.
func (p *PulseStream) Format() Format {
	return p.format
}

// Run connects to the server and streams until ctx is cancelled or the
// record stream fails.
func (p *PulseStream) Run(ctx context.Context, emit func([]byte)) error {
	if p.format.BitDepth != 16 {
		return fmt.Errorf("pulse: only 16-bit capture is supported, got %d", p.format.BitDepth)
	}

	c, err := pulse.NewClient(pulse.ClientApplicationName("gostt-capture"))
	if err != nil {
		return fmt.Errorf("pulse: connect: %w", err)
	}
	defer c.Close()

	opts := []pulse.RecordOption{
		pulse.RecordSampleRate(p.format.SampleRate),
		pulse.RecordMediaName("gostt-capture"),
	}
	if p.format.Channels == 2 {
		opts = append(opts, pulse.RecordStereo)
	} else {
		opts = append(opts, pulse.RecordMono)
	}

	switch {
	case p.monitor:
		sink, err := c.DefaultSink()
		if err != nil {
			return fmt.Errorf("pulse: default sink: %w", err)
		}
		opts = append(opts, pulse.RecordMonitor(sink))
	case p.source != "":
		src, err := c.SourceByID(p.source)
		if err != nil {
			return fmt.Errorf("pulse: source %q: %w", p.source, err)
		}
		opts = append(opts, pulse.RecordSource(src))
	}

	writer := pulse.Int16Writer(func(samples []int16) (int, error) {
		if len(samples) > 0 {
			emit(Int16ToBytes(samples))
		}
		return len(samples), nil
	})

	stream, err := c.NewRecord(writer, opts...)
	if err != nil {
		return fmt.Errorf("pulse: create record stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	defer stream.Stop()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := stream.Error(); err != nil {
				return fmt.Errorf("pulse: record stream: %w", err)
			}
		}
	}
}
