package coincidences

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialEvents(n int) []Event {
	events := make([]Event, n)
	for i := range events {
		events[i] = Event{Timestamp: uint64(i * 10), Qlong: uint16(i), Channel: uint8(i % 2)}
	}
	return events
}

func readAll(t *testing.T, source BatchSource) []Batch {
	t.Helper()
	var batches []Batch
	for {
		batch, err := source.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return batches
		}
		require.NoError(t, err)
		batches = append(batches, batch)
	}
}

func TestFileSourceRoundsBufferSize(t *testing.T) {
	source := NewFileSource(bytes.NewReader(nil), 3*EventSize+5)
	assert.Equal(t, 3*EventSize, source.BufferSize())

	tiny := NewFileSource(bytes.NewReader(nil), 3)
	assert.Equal(t, EventSize, tiny.BufferSize())
}

func TestFileSourceBatches(t *testing.T) {
	events := sequentialEvents(10)
	source := NewFileSource(bytes.NewReader(EncodeBatch(events)), 4*EventSize)

	batches := readAll(t, source)

	require.Len(t, batches, 3)
	sizes := []int{len(batches[0].Data), len(batches[1].Data), len(batches[2].Data)}
	assert.Equal(t, []int{4 * EventSize, 4 * EventSize, 2 * EventSize}, sizes)
	for i, batch := range batches {
		assert.Equal(t, i, batch.Index)
	}

	last, err := DecodeBatch(batches[2].Data)
	require.NoError(t, err)
	assert.Equal(t, events[8:], last)
}

func TestFileSourceTruncatedTrailingRecord(t *testing.T) {
	events := sequentialEvents(5)
	data := append(EncodeBatch(events), 1, 2, 3, 4, 5, 6, 7)
	source := NewFileSource(bytes.NewReader(data), 4*EventSize)

	batches := readAll(t, source)

	require.Len(t, batches, 2)
	assert.Len(t, batches[1].Data, EventSize)
	decoded, err := DecodeBatch(batches[1].Data)
	require.NoError(t, err)
	assert.Equal(t, events[4:], decoded)
}

func TestFileSourceOnlyTruncatedRecord(t *testing.T) {
	source := NewFileSource(bytes.NewReader([]byte{1, 2, 3}), EventSize)

	_, err := source.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("device gone")
}

func TestFileSourceReadError(t *testing.T) {
	source := NewFileSource(failingReader{}, EventSize)

	_, err := source.Next(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "device gone")
}

func TestFileSourceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	source := NewFileSource(bytes.NewReader(EncodeBatch(sequentialEvents(2))), EventSize)

	_, err := source.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrefetchKeepsOrder(t *testing.T) {
	events := sequentialEvents(50)
	source := NewFileSource(bytes.NewReader(EncodeBatch(events)), 7*EventSize)

	batches := readAll(t, Prefetch(context.Background(), source, 3))

	var decoded []Event
	for i, batch := range batches {
		assert.Equal(t, i, batch.Index)
		chunk, err := DecodeBatch(batch.Data)
		require.NoError(t, err)
		decoded = append(decoded, chunk...)
	}
	assert.Equal(t, events, decoded)
}

type malformedSource struct {
	calls int
}

func (m *malformedSource) Next(ctx context.Context) (Batch, error) {
	m.calls++
	switch m.calls {
	case 1:
		return Batch{Index: 0}, &ErrMalformedBatch{Batch: 0, Size: 3}
	case 2:
		return Batch{Index: 1, Data: EncodeBatch(sequentialEvents(1))}, nil
	default:
		return Batch{}, io.EOF
	}
}

func TestPrefetchPassesMalformedBatches(t *testing.T) {
	source := Prefetch(context.Background(), &malformedSource{}, 1)

	_, err := source.Next(context.Background())
	var malformed *ErrMalformedBatch
	require.ErrorAs(t, err, &malformed)

	batch, err := source.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Index)

	_, err = source.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	_, err = source.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestSliceSource(t *testing.T) {
	first := EncodeBatch(sequentialEvents(2))
	second := EncodeBatch(sequentialEvents(3))

	batches := readAll(t, NewSliceSource(first, second))

	require.Len(t, batches, 2)
	assert.Equal(t, first, batches[0].Data)
	assert.Equal(t, 1, batches[1].Index)
}
