package coincidences

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchBudget(t *testing.T) {
	budget := batchBudget(1000*EventSize, false, 1<<30)

	assert.Equal(t, uint64(3*1000*EventSize), budget.BatchBytes)
	assert.InDelta(t, 48000.0/(1<<30), budget.Share, 1e-12)
	assert.False(t, budget.TooLarge())
	assert.Contains(t, budget.String(), "(1000 records)")
}

func TestBatchBudgetWithPrefetch(t *testing.T) {
	budget := batchBudget(DefaultBufferSize, true, 2<<30)

	assert.Equal(t, uint64(6*DefaultBufferSize), budget.BatchBytes)
	assert.True(t, budget.TooLarge())
}

func TestBatchBudgetUnknownMemory(t *testing.T) {
	budget := batchBudget(DefaultBufferSize, false, 0)

	assert.Zero(t, budget.Share)
	assert.False(t, budget.TooLarge())
}

func TestCheckBatchBudget(t *testing.T) {
	budget, err := CheckBatchBudget(EventSize, false)

	require.NoError(t, err)
	assert.NotZero(t, budget.Available)
	assert.Equal(t, uint64(3*EventSize), budget.BatchBytes)
}
