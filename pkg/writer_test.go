package coincidences

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmbenlloch/go-hdf5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readDataset(t *testing.T, file *hdf5.File, name string, size int) []float64 {
	t.Helper()
	dataset, err := file.OpenDataset(name)
	require.NoError(t, err)
	defer dataset.Close()
	data := make([]float64, size)
	require.NoError(t, dataset.Read(&data))
	return data
}

func rows(t *testing.T, file *hdf5.File, name string) uint {
	t.Helper()
	dataset, err := file.OpenDataset(name)
	require.NoError(t, err)
	defer dataset.Close()
	space := dataset.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	require.NoError(t, err)
	return dims[0]
}

func TestWriterRoundTrip(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "run.h5")
	writer, err := NewWriter(filename, 4)
	require.NoError(t, err)

	config := testConfiguration()
	config.Normalize = true
	config.Rates.Enabled = true
	pipeline, err := NewPipeline(config)
	require.NoError(t, err)
	pipeline.Sink = writer

	batch := EncodeBatch(append(scenarioEvents(), Event{Timestamp: 100, Channel: channelA, Qlong: 100},
		Event{Timestamp: 103, Channel: channelB, Qlong: 100}))
	report, err := pipeline.Run(context.Background(), NewSliceSource(batch, batch))
	require.NoError(t, err)

	require.NoError(t, writer.WriteReport(report, 17))
	require.NoError(t, writer.Close())
	assert.NoError(t, writer.Close(), "closing twice is a no-op")

	file, err := hdf5.OpenFile(filename, hdf5.F_ACC_RDONLY)
	require.NoError(t, err)
	defer file.Close()

	tof := readDataset(t, file, "/Coincidences/ab/ToF", 10)
	assert.Equal(t, 2.0, tof[5])
	assert.Equal(t, 2.0, tof[3])
	edges := readDataset(t, file, "/Coincidences/ab/ToF_edges", 11)
	assert.Equal(t, 10.0, edges[10])
	perNs := readDataset(t, file, "/Coincidences/ab/ToF_per_ns", 10)
	assert.InDelta(t, 2.0/report.LiveTime, perNs[5], 1e-15)

	assert.Equal(t, uint(4), rows(t, file, "/Records/ab"))
	assert.Equal(t, uint(1), rows(t, file, "/Run/info"))
	assert.Equal(t, uint(2), rows(t, file, "/Run/channels"))
	assert.Equal(t, uint(1), rows(t, file, "/Coincidences/info"))
	assert.Equal(t, uint(DefaultDeltaBins), uint(len(readDataset(t, file, "/Rates/ch1_deltas", DefaultDeltaBins))))
}

func TestNewWriterOpenError(t *testing.T) {
	_, err := NewWriter(filepath.Join(t.TempDir(), "missing", "run.h5"), 4)

	var openErr *ErrOpenFile
	assert.ErrorAs(t, err, &openErr)
}
