package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsagent/internal/contract"
)

func position(symbol, underlying string, entry float64, qty int) Position {
	return Position{
		OptionSymbol: symbol,
		Underlying:   underlying,
		Type:         contract.Call,
		Strike:       100,
		EntryPrice:   entry,
		Quantity:     qty,
		EntryTime:    time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC),
	}
}

func TestDeployedIsDerivedFromPositions(t *testing.T) {
	book := NewBook()
	assert.Zero(t, book.Deployed())

	book.Add(position("A1", "A", 1.00, 1)) // 100
	book.Add(position("B1", "B", 0.50, 2)) // 100
	assert.InDelta(t, 200.0, book.Deployed(), 0.001)
	assert.Equal(t, 2, book.OpenCount())

	require.True(t, book.Transition("A1", Closing))
	require.True(t, book.Transition("A1", Closed))
	assert.InDelta(t, 100.0, book.Deployed(), 0.001)
	assert.Equal(t, 1, book.OpenCount())
}

func TestTransitionLegality(t *testing.T) {
	book := NewBook()
	book.Add(position("A1", "A", 1.00, 1))

	assert.False(t, book.Transition("A1", Closed), "open cannot close without a closing order in flight")
	require.True(t, book.Transition("A1", Closing))
	assert.False(t, book.Transition("A1", Closing), "only one close order in flight")
	require.True(t, book.Transition("A1", Open), "failed close reverts for retry")
	require.True(t, book.Transition("A1", Closing))
	require.True(t, book.Transition("A1", Closed))
	assert.False(t, book.Transition("A1", Closing), "closed positions are archived")
}

func TestDropRemovesRegardlessOfStatus(t *testing.T) {
	book := NewBook()
	book.Add(position("A1", "A", 1.00, 1))
	require.True(t, book.Transition("A1", Closing))

	book.Drop("A1")
	assert.Zero(t, book.OpenCount())
	assert.Zero(t, book.Deployed())

	book.Drop("missing") // no-op
	assert.Zero(t, book.OpenCount())
}

func TestHasUnderlyingAndCooldown(t *testing.T) {
	book := NewBook()
	book.Add(position("A1", "TSLA", 1.00, 1))

	assert.True(t, book.HasUnderlying("TSLA"))
	assert.False(t, book.HasUnderlying("NVDA"))

	now := time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)
	book.SetCooldown("NVDA", now.Add(400*time.Second))
	assert.True(t, book.InCooldown("NVDA", now))
	assert.False(t, book.InCooldown("NVDA", now.Add(401*time.Second)))
	assert.False(t, book.InCooldown("TSLA", now))
}

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")

	book := NewBook()
	book.Add(position("A1", "A", 1.25, 2))
	book.Add(position("B1", "B", 0.80, 1))
	require.True(t, book.Transition("B1", Closing))
	book.SetCooldown("C", time.Date(2026, 1, 6, 16, 0, 0, 0, time.UTC))
	require.NoError(t, book.Save(path))

	restored := NewBook()
	require.NoError(t, restored.Load(path))
	assert.Equal(t, 2, restored.OpenCount())
	assert.InDelta(t, book.Deployed(), restored.Deployed(), 0.001)

	// In-flight closes are reopened so the next cycle retries them.
	for _, p := range restored.Open() {
		assert.Equal(t, Open, p.Status)
	}
	assert.True(t, restored.InCooldown("C", time.Date(2026, 1, 6, 15, 59, 0, 0, time.UTC)))
}
