package livestore

import (
	"strings"
	"sync"
)

// IndexRegistry resolves broadcast index names ("Nifty 50") to their
// NSECM tokens in the 26000 band. Lookups are case-insensitive because
// the feed and the master file disagree on capitalization.
type IndexRegistry struct {
	mu     sync.RWMutex
	byName map[string]int64
}

// Well-known NSE index tokens seeded into every registry.
var defaultIndexTokens = map[string]int64{
	"NIFTY 50":          26000,
	"NIFTY BANK":        26009,
	"NIFTY NEXT 50":     26013,
	"INDIA VIX":         26017,
	"NIFTY FIN SERVICE": 26037,
}

// NewIndexRegistry creates a registry pre-seeded with the common indices.
func NewIndexRegistry() *IndexRegistry {
	r := &IndexRegistry{byName: make(map[string]int64, len(defaultIndexTokens))}
	for name, token := range defaultIndexTokens {
		r.byName[name] = token
	}
	return r
}

// Register maps an index name to its token, overwriting any previous
// mapping.
func (r *IndexRegistry) Register(name string, token int64) {
	r.mu.Lock()
	r.byName[strings.ToUpper(strings.TrimSpace(name))] = token
	r.mu.Unlock()
}

// Token resolves an index name, returning 0 when unknown.
func (r *IndexRegistry) Token(name string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[strings.ToUpper(strings.TrimSpace(name))]
}

// GenericLTP is the single price accessor for stocks and indices alike:
// the caller passes either a scrip token or an index token and reads the
// cash-segment store.
func GenericLTP(store *Store, token int64) float64 {
	return store.GetLTP(token)
}
