package coincidences

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultBufferSize is 160 MiB, ten million records.
const DefaultBufferSize = 16 * 10 * 1024 * 1024

// Batch is a bounded slice of the raw event stream. Batches are processed
// independently: coincidences that straddle two batches are not found.
type Batch struct {
	Index int
	Data  []byte
}

type BatchSource interface {
	Next(ctx context.Context) (Batch, error)
}

// FileSource reads fixed-size chunks from a stream of records.
type FileSource struct {
	reader     io.Reader
	bufferSize int
	count      int
	done       bool
}

// NewFileSource rounds bufferSize down to a whole number of records.
func NewFileSource(reader io.Reader, bufferSize int) *FileSource {
	bufferSize -= bufferSize % EventSize
	if bufferSize < EventSize {
		bufferSize = EventSize
	}
	return &FileSource{reader: reader, bufferSize: bufferSize}
}

func (f *FileSource) BufferSize() int {
	return f.bufferSize
}

func (f *FileSource) Next(ctx context.Context) (Batch, error) {
	if f.done {
		return Batch{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}

	data := make([]byte, f.bufferSize)
	nRead, err := io.ReadFull(f.reader, data)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		// A truncated trailing record is the normal end of a file.
		f.done = true
		if nRead%EventSize != 0 {
			trailing := nRead % EventSize
			message := fmt.Sprintf("dropping %d trailing bytes of a truncated record", trailing)
			logger.Info(message, "reader")
			nRead -= trailing
		}
		if nRead == 0 {
			return Batch{}, io.EOF
		}
	default:
		return Batch{}, fmt.Errorf("error reading batch %d: %w", f.count, err)
	}

	batch := Batch{Index: f.count, Data: data[:nRead]}
	f.count++
	return batch, nil
}

// SliceSource serves pre-framed buffers, one batch each, as received from a
// message socket.
type SliceSource struct {
	buffers [][]byte
	next    int
}

func NewSliceSource(buffers ...[]byte) *SliceSource {
	return &SliceSource{buffers: buffers}
}

func (s *SliceSource) Next(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	if s.next >= len(s.buffers) {
		return Batch{}, io.EOF
	}
	batch := Batch{Index: s.next, Data: s.buffers[s.next]}
	s.next++
	return batch, nil
}

type prefetched struct {
	batch Batch
	err   error
}

type prefetchSource struct {
	results <-chan prefetched
	last    error
}

// Prefetch reads up to depth batches ahead on a separate goroutine. Batches
// are delivered in stream order; only reading happens off the caller's
// goroutine.
func Prefetch(ctx context.Context, source BatchSource, depth int) BatchSource {
	if depth < 1 {
		depth = 1
	}
	results := make(chan prefetched, depth)
	go sendBatches(ctx, source, results)
	return &prefetchSource{results: results}
}

func sendBatches(ctx context.Context, source BatchSource, results chan<- prefetched) {
	defer close(results)
	for {
		batch, err := source.Next(ctx)
		select {
		case results <- prefetched{batch: batch, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil && !isMalformed(err) {
			return
		}
	}
}

func (p *prefetchSource) Next(ctx context.Context) (Batch, error) {
	if p.last != nil {
		return Batch{}, p.last
	}
	select {
	case result, ok := <-p.results:
		if !ok {
			p.last = io.EOF
			if err := ctx.Err(); err != nil {
				p.last = err
			}
			return Batch{}, p.last
		}
		if result.err != nil && !isMalformed(result.err) {
			p.last = result.err
		}
		return result.batch, result.err
	case <-ctx.Done():
		return Batch{}, ctx.Err()
	}
}

func isMalformed(err error) bool {
	var malformed *ErrMalformedBatch
	return errors.As(err, &malformed)
}
