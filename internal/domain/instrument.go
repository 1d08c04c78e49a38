package domain

import (
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// AssetClass identifies the venue asset class of an instrument.
type AssetClass string

const (
	AssetEquity AssetClass = "us_equity"
	AssetCrypto AssetClass = "crypto"
)

// InstrumentRef describes one tradable instrument. Immutable once loaded;
// the cache replaces the whole set atomically on reload.
type InstrumentRef struct {
	VenueSymbol string          // venue-native symbol, e.g. "AAPL", "BTC/USD"
	Symbol      string          // normalized identifier
	Class       AssetClass
	TickSize    decimal.Decimal // minimum price increment
	LotSize     decimal.Decimal // minimum order quantity
	Tradable    bool
}

// InstrumentCache holds the process-wide instrument set. Lookups are
// lock-free; Replace swaps the entire map, entries are never mutated in place.
type InstrumentCache struct {
	byVenue atomic.Pointer[map[string]InstrumentRef]
}

// NewInstrumentCache creates an empty cache.
func NewInstrumentCache() *InstrumentCache {
	c := &InstrumentCache{}
	empty := make(map[string]InstrumentRef)
	c.byVenue.Store(&empty)
	return c
}

// Lookup resolves a venue-native symbol. A miss is a recoverable decode
// failure for the caller, not fatal.
func (c *InstrumentCache) Lookup(venueSymbol string) (InstrumentRef, bool) {
	m := *c.byVenue.Load()
	ref, ok := m[venueSymbol]
	return ref, ok
}

// Replace installs a new instrument set, discarding the old one.
func (c *InstrumentCache) Replace(refs []InstrumentRef) {
	m := make(map[string]InstrumentRef, len(refs))
	for _, ref := range refs {
		m[ref.VenueSymbol] = ref
	}
	c.byVenue.Store(&m)
}

// Len returns the number of cached instruments.
func (c *InstrumentCache) Len() int {
	return len(*c.byVenue.Load())
}
