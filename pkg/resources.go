package coincidences

import (
	"fmt"

	"github.com/shirou/gopsutil/mem"
)

// BatchMemoryWarning is the share of available memory above which a batch
// size is reported as too large.
const BatchMemoryWarning = 0.25

type BatchBudget struct {
	BufferSize int
	// Bytes held per batch: the raw buffer plus the decoded events.
	BatchBytes uint64
	Available  uint64
	Share      float64
}

func (b BatchBudget) TooLarge() bool {
	return b.Share > BatchMemoryWarning
}

func (b BatchBudget) String() string {
	return fmt.Sprintf("batch of %d bytes (%d records) needs %d bytes, %.1f%% of %d available",
		b.BufferSize, b.BufferSize/EventSize, b.BatchBytes, 100*b.Share, b.Available)
}

// CheckBatchBudget estimates the memory one batch takes relative to the
// memory available on the host. With prefetching one more batch is held
// while the current one is processed.
func CheckBatchBudget(bufferSize int, prefetch bool) (BatchBudget, error) {
	memory, err := mem.VirtualMemory()
	if err != nil {
		return BatchBudget{}, fmt.Errorf("reading available memory: %w", err)
	}
	return batchBudget(bufferSize, prefetch, memory.Available), nil
}

func batchBudget(bufferSize int, prefetch bool, available uint64) BatchBudget {
	batches := uint64(1)
	if prefetch {
		batches = 2
	}
	// Raw bytes, the decoded copy and the channel selection of an analysis.
	perBatch := 3 * uint64(bufferSize)
	budget := BatchBudget{
		BufferSize: bufferSize,
		BatchBytes: batches * perBatch,
		Available:  available,
	}
	if available > 0 {
		budget.Share = float64(budget.BatchBytes) / float64(available)
	}
	return budget
}
