package audio

import "context"

// Stream is a push source of PCM chunks in a fixed Format.
//
// Run delivers chunks to emit until the source is exhausted (nil error), fails
// (non-nil error) or ctx is cancelled. Each chunk passed to emit is owned by the
// receiver and holds whole frames. emit may block briefly when the consumer's
// queue is full.
type Stream interface {
	Format() Format
	Run(ctx context.Context, emit func(chunk []byte)) error
}
