package pool

import (
	"sort"
	"time"
)

// CurrencyRegistry lists the accepted off-chain currencies
type CurrencyRegistry interface {
	Accepted(symbol string) bool
	SettlementWindow(symbol string) (time.Duration, bool)
}

// Currency describes one accepted off-chain currency
type Currency struct {
	Symbol           string
	Name             string
	SettlementWindow time.Duration
}

// StaticRegistry is a fixed registry built from configuration
type StaticRegistry struct {
	currencies map[string]Currency
}

// NewStaticRegistry creates a registry from the given currencies
func NewStaticRegistry(currencies ...Currency) *StaticRegistry {
	r := &StaticRegistry{currencies: make(map[string]Currency, len(currencies))}
	for _, c := range currencies {
		r.currencies[c.Symbol] = c
	}
	return r
}

// Accepted reports whether the symbol is registered
func (r *StaticRegistry) Accepted(symbol string) bool {
	_, ok := r.currencies[symbol]
	return ok
}

// SettlementWindow returns the time allowed to deliver a swap in the currency
func (r *StaticRegistry) SettlementWindow(symbol string) (time.Duration, bool) {
	c, ok := r.currencies[symbol]
	if !ok {
		return 0, false
	}
	return c.SettlementWindow, true
}

// Currencies returns the registered currencies sorted by symbol
func (r *StaticRegistry) Currencies() []Currency {
	out := make([]Currency, 0, len(r.currencies))
	for _, c := range r.currencies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
