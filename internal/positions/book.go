// Package positions maintains the engine's view of open positions and recent
// entry activity per account, rebuilt from the normalized event stream. It is
// read-only input for policies; only the engine writes to it.
package positions

import (
	"context"
	"sync"
	"time"

	"github.com/flatguard/flatguard/internal/events"
)

// Position is one open position.
type Position struct {
	Account    string
	Instrument string
	Side       events.Side
	Size       float64
	EntryPrice float64
	OpenedAt   time.Time
}

// Book tracks open positions, latest quotes, and a rolling log of entry fills
// per account. All access is mutex-guarded; the engine's single consumption
// goroutine writes, policies and background loops read.
type Book struct {
	mu         sync.Mutex
	open       map[string]map[string]Position // account -> instrument -> position
	quotes     map[string]float64             // instrument -> latest price
	entries    map[string][]time.Time         // account -> entry fill times
	protective map[string]map[string]bool     // account -> instrument -> covered
}

// NewBook creates an empty position book.
func NewBook() *Book {
	return &Book{
		open:       make(map[string]map[string]Position),
		quotes:     make(map[string]float64),
		entries:    make(map[string][]time.Time),
		protective: make(map[string]map[string]bool),
	}
}

// Apply updates the book from a normalized event. Unknown kinds are ignored.
func (b *Book) Apply(ev events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch ev.Kind {
	case events.KindPositionOpened, events.KindPositionUpdated:
		if ev.Position == nil {
			return
		}
		if b.open[ev.Account] == nil {
			b.open[ev.Account] = make(map[string]Position)
		}
		p := Position{
			Account:    ev.Account,
			Instrument: ev.Instrument,
			Side:       ev.Position.Side,
			Size:       ev.Position.Size,
			EntryPrice: ev.Position.EntryPrice,
			OpenedAt:   ev.Timestamp,
		}
		if prev, ok := b.open[ev.Account][ev.Instrument]; ok {
			p.OpenedAt = prev.OpenedAt
		}
		b.open[ev.Account][ev.Instrument] = p

	case events.KindPositionClosed:
		delete(b.open[ev.Account], ev.Instrument)
		delete(b.protective[ev.Account], ev.Instrument)

	case events.KindOrderPlaced:
		if ev.Order != nil && ev.Order.Protective {
			if b.protective[ev.Account] == nil {
				b.protective[ev.Account] = make(map[string]bool)
			}
			b.protective[ev.Account][ev.Instrument] = true
		}

	case events.KindOrderFilled:
		if ev.Fill != nil && ev.Fill.Entry {
			// Retain at most a day of entry history; frequency windows are
			// always shorter.
			cutoff := ev.Timestamp.Add(-24 * time.Hour)
			kept := b.entries[ev.Account][:0]
			for _, t := range b.entries[ev.Account] {
				if !t.Before(cutoff) {
					kept = append(kept, t)
				}
			}
			b.entries[ev.Account] = append(kept, ev.Timestamp)
		}

	case events.KindQuote:
		if ev.Quote != nil {
			b.quotes[ev.Instrument] = ev.Quote.Price
		}
	}
}

// Open returns the account's open positions.
func (b *Book) Open(account string) []Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Position, 0, len(b.open[account]))
	for _, p := range b.open[account] {
		out = append(out, p)
	}
	return out
}

// Get returns the open position for an instrument, if any.
func (b *Book) Get(account, instrument string) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.open[account][instrument]
	return p, ok
}

// TotalSize sums open position sizes for the account across instruments.
func (b *Book) TotalSize(account string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var total float64
	for _, p := range b.open[account] {
		total += p.Size
	}
	return total
}

// Quote returns the latest known price for an instrument.
func (b *Book) Quote(instrument string) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.quotes[instrument]
	return q, ok
}

// EntriesSince counts entry fills for the account at or after since.
func (b *Book) EntriesSince(account string, since time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, t := range b.entries[account] {
		if !t.Before(since) {
			n++
		}
	}
	return n
}

// ResetCounters clears the account's entry-fill log. Invoked by the daily
// reset so frequency windows do not straddle sessions.
func (b *Book) ResetCounters(account string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[account] = nil
}

// HasProtectiveOrder answers from stream-observed protective orders. The Book
// satisfies the grace policy's query when no broker-side synchronous lookup is
// wired; a connectivity-layer implementation can replace it.
func (b *Book) HasProtectiveOrder(_ context.Context, account, instrument string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.protective[account][instrument], nil
}

// Accounts returns every account with an open position or entry history.
func (b *Book) Accounts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]bool)
	for acct := range b.open {
		seen[acct] = true
	}
	for acct := range b.entries {
		seen[acct] = true
	}
	out := make([]string, 0, len(seen))
	for acct := range seen {
		out = append(out, acct)
	}
	return out
}
