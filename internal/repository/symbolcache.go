package repository

import (
	"strings"
	"sync"

	"xts-terminal/internal/models"
)

// SymbolCache is a lazy projection of the repositories into UI-oriented
// search lists, keyed by "EXCHANGE_SEGMENT_SERIES". Lists build on first
// request and live until ClearCache; a reload must clear the cache or the
// UI keeps serving the pre-reload catalog.
type SymbolCache struct {
	manager *Manager
	mu      sync.Mutex
	lists   map[string][]models.ContractRecord
}

// NewSymbolCache creates an empty cache over a repository manager.
func NewSymbolCache(manager *Manager) *SymbolCache {
	return &SymbolCache{
		manager: manager,
		lists:   make(map[string][]models.ContractRecord),
	}
}

// Initialize pre-warms the common equity search list.
func (c *SymbolCache) Initialize() {
	c.GetSymbols("NSE", "CM", "EQ")
}

// GetSymbols returns the cached search list for one (exchange, segment,
// series) scope, building it under the mutex if missing. The returned
// slice is shared; callers must not mutate it.
func (c *SymbolCache) GetSymbols(exchange, segment, series string) []models.ContractRecord {
	key := exchange + "_" + segment + "_" + series

	c.mu.Lock()
	defer c.mu.Unlock()
	if list, ok := c.lists[key]; ok {
		return list
	}
	list := c.build(exchange, segment, series)
	c.lists[key] = list
	return list
}

// ClearCache invalidates every projection.
func (c *SymbolCache) ClearCache() {
	c.mu.Lock()
	c.lists = make(map[string][]models.ContractRecord)
	c.mu.Unlock()
}

// build filters out spread contracts and placeholder listings that the
// exchanges ship in the master but nobody trades.
func (c *SymbolCache) build(exchange, segment, series string) []models.ContractRecord {
	scrips := c.manager.GetScrips(exchange, segment, series)
	out := make([]models.ContractRecord, 0, len(scrips))
	for _, rec := range scrips {
		if rec.InstrumentType == models.InstrumentSpread {
			continue
		}
		if isPlaceholder(rec.Name) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func isPlaceholder(name string) bool {
	upper := strings.ToUpper(name)
	return strings.Contains(upper, "DUMMY") ||
		strings.Contains(upper, "TEST") ||
		strings.HasPrefix(upper, "ZZZ")
}
