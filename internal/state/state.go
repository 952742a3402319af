package state

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"optionsagent/internal/contract"
)

type Status string

const (
	Open    Status = "open"
	Closing Status = "closing"
	Closed  Status = "closed"
)

// Position is one open option trade. Created on successful order
// execution, mutated only by the monitor's status transitions, archived
// on close.
type Position struct {
	OptionSymbol string        `json:"option_symbol"`
	Underlying   string        `json:"underlying"`
	Type         contract.Type `json:"type"`
	Strike       float64       `json:"strike"`
	Expiry       time.Time     `json:"expiry"`
	EntryPrice   float64       `json:"entry_price"`
	Quantity     int           `json:"quantity"`
	EntryTime    time.Time     `json:"entry_time"`
	Status       Status        `json:"status"`
	Score        int           `json:"score"`
}

// CostBasis is the capital the position ties up.
func (p Position) CostBasis() float64 {
	return p.EntryPrice * float64(p.Quantity) * 100
}

// Return is the unrealized fractional return at price.
func (p Position) Return(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice
}

// Book owns the open position set. It is written only by the cycle
// loop; the mutex guards against a checkpoint save racing a shutdown.
type Book struct {
	mu        sync.RWMutex
	positions map[string]Position
	cooldowns map[string]time.Time // underlying -> no re-entry before
}

func NewBook() *Book {
	return &Book{
		positions: map[string]Position{},
		cooldowns: map[string]time.Time{},
	}
}

func (b *Book) Add(p Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p.Status = Open
	b.positions[p.OptionSymbol] = p
}

// Transition moves a position to status, reporting whether the move is
// legal: Open->Closing, Closing->Open (order failure), Closing->Closed.
func (b *Book) Transition(optionSymbol string, status Status) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.positions[optionSymbol]
	if !ok {
		return false
	}
	legal := (p.Status == Open && status == Closing) ||
		(p.Status == Closing && status == Open) ||
		(p.Status == Closing && status == Closed)
	if !legal {
		return false
	}
	if status == Closed {
		delete(b.positions, optionSymbol)
		return true
	}
	p.Status = status
	b.positions[optionSymbol] = p
	return true
}

// Drop removes a position regardless of status. Used by reconciliation
// when the brokerage no longer holds the contract.
func (b *Book) Drop(optionSymbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.positions, optionSymbol)
}

// Open returns the open and closing positions, ordered by symbol.
func (b *Book) Open() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OptionSymbol < out[j].OptionSymbol })
	return out
}

// Deployed is the sum of open cost bases. Derived on demand so it can
// never drift from the position set.
func (b *Book) Deployed() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var sum float64
	for _, p := range b.positions {
		sum += p.CostBasis()
	}
	return sum
}

func (b *Book) OpenCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// HasUnderlying reports whether any position is open on symbol.
func (b *Book) HasUnderlying(symbol string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.positions {
		if p.Underlying == symbol {
			return true
		}
	}
	return false
}

// SetCooldown blocks re-entry on an underlying until t.
func (b *Book) SetCooldown(symbol string, until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cooldowns[symbol] = until
}

func (b *Book) InCooldown(symbol string, now time.Time) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	until, ok := b.cooldowns[symbol]
	return ok && now.Before(until)
}

type checkpoint struct {
	Positions map[string]Position  `json:"positions"`
	Cooldowns map[string]time.Time `json:"cooldowns"`
}

// Save writes the book to a JSON checkpoint so entry prices survive a
// restart.
func (b *Book) Save(path string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, err := json.MarshalIndent(checkpoint{Positions: b.positions, Cooldowns: b.cooldowns}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (b *Book) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return err
	}
	if cp.Positions == nil {
		cp.Positions = map[string]Position{}
	}
	if cp.Cooldowns == nil {
		cp.Cooldowns = map[string]time.Time{}
	}
	// A close order in flight when the process stopped is retried as a
	// fresh Open position next cycle.
	for k, p := range cp.Positions {
		if p.Status == Closing {
			p.Status = Open
			cp.Positions[k] = p
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = cp.Positions
	b.cooldowns = cp.Cooldowns
	return nil
}
