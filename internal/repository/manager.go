package repository

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"xts-terminal/internal/errors"
	"xts-terminal/internal/masterfile"
	"xts-terminal/internal/models"
)

// Master cache layout inside the masters directory.
const (
	CombinedMasterName = "master_contracts_latest.txt"
	ProcessedCSVDir    = "processed_csv"
)

var processedNames = map[models.Segment]string{
	models.SegmentNSECM: "nsecm_processed.csv",
	models.SegmentNSEFO: "nsefo_processed.csv",
	models.SegmentBSECM: "bsecm_processed.csv",
	models.SegmentBSEFO: "bsefo_processed.csv",
}

// Manager is the facade over the four segment repositories. Callers
// identify instruments by a (segment id, token) pair or by symbol text and
// never see the storage variant behind a segment.
type Manager struct {
	nsecm *SparseRepo
	nsefo *NSEFORepo
	bsecm *SparseRepo
	bsefo *SparseRepo

	internMu sync.Mutex
	interned map[string]string

	log zerolog.Logger
}

// NewManager creates the four empty segment repositories.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		nsecm:    NewSparseRepo(models.SegmentNSECM),
		nsefo:    NewNSEFORepo(),
		bsecm:    NewSparseRepo(models.SegmentBSECM),
		bsefo:    NewSparseRepo(models.SegmentBSEFO),
		interned: make(map[string]string),
		log:      log.With().Str("component", "repository").Logger(),
	}
}

// Repo returns the repository for a segment tag.
func (m *Manager) Repo(seg models.Segment) SegmentRepo {
	switch seg {
	case models.SegmentNSECM:
		return m.nsecm
	case models.SegmentNSEFO:
		return m.nsefo
	case models.SegmentBSECM:
		return m.bsecm
	case models.SegmentBSEFO:
		return m.bsefo
	}
	return nil
}

// RepoByID returns the repository for an XTS numeric segment id.
func (m *Manager) RepoByID(segmentID int) SegmentRepo {
	seg, ok := models.SegmentFromID(segmentID)
	if !ok {
		return nil
	}
	return m.Repo(seg)
}

// NSEFO returns the F&O repository with its extended query surface.
func (m *Manager) NSEFO() *NSEFORepo { return m.nsefo }

// Segments lists the four repositories.
func (m *Manager) Segments() []SegmentRepo {
	return []SegmentRepo{m.nsecm, m.nsefo, m.bsecm, m.bsefo}
}

// intern returns the canonical instance of s, deduplicating the symbol,
// series and expiry columns across ~100k contracts during a load.
func (m *Manager) intern(s string) string {
	if s == "" {
		return ""
	}
	m.internMu.Lock()
	defer m.internMu.Unlock()
	if canon, ok := m.interned[s]; ok {
		return canon
	}
	m.interned[s] = s
	return s
}

func (m *Manager) resetIntern() {
	m.internMu.Lock()
	m.interned = make(map[string]string)
	m.internMu.Unlock()
}

// LoadAll loads every segment from the masters directory, preferring the
// processed CSV cache and falling back to the combined raw master file.
// Segments load in parallel. It succeeds if at least one segment loaded.
func (m *Manager) LoadAll(mastersDir string) (int, error) {
	m.resetIntern()

	counts := make([]int, 4)
	repos := m.Segments()
	var wg conc.WaitGroup
	for i := range repos {
		i := i
		wg.Go(func() {
			repo := repos[i]
			csvPath := filepath.Join(mastersDir, ProcessedCSVDir, processedNames[repo.Segment()])
			if n, err := loadProcessedCSV(repo, csvPath, m.intern); err == nil && n > 0 {
				counts[i] = n
				m.log.Info().Str("segment", string(repo.Segment())).Int("contracts", n).
					Msg("loaded segment from processed cache")
				return
			}
		})
	}
	wg.Wait()

	total := 0
	for _, n := range counts {
		total += n
	}
	if total > 0 {
		return total, nil
	}

	// No caches; fall back to the combined raw master.
	combined := filepath.Join(mastersDir, CombinedMasterName)
	n, err := m.LoadCombinedMasterFile(combined)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// LoadCombinedMasterFile single-pass parses a combined master file,
// dispatching each row to its segment's repository by the row's own
// segment tag.
func (m *Manager) LoadCombinedMasterFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open combined master: %w", err)
	}
	defer f.Close()
	return m.loadFromReader(bufio.NewScanner(f))
}

// LoadFromMemory parses combined master bytes without any file I/O. This
// is the download path: the transport hands over the response body and the
// caller decides separately whether to cache it.
func (m *Manager) LoadFromMemory(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, errors.ErrEmptyMaster
	}
	return m.loadFromReader(bufio.NewScanner(bytes.NewReader(data)))
}

func (m *Manager) loadFromReader(scanner *bufio.Scanner) (int, error) {
	m.resetIntern()
	for _, repo := range m.Segments() {
		repo.PrepareForLoad()
	}

	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	added := 0
	for scanner.Scan() {
		rc, ok := masterfile.ParseLine(scanner.Text(), "")
		if !ok {
			continue
		}
		if repo := m.Repo(rc.Segment); repo != nil {
			repo.AddContract(rc, m.intern)
			added++
		}
	}

	for _, repo := range m.Segments() {
		repo.FinalizeLoad()
	}
	if err := scanner.Err(); err != nil {
		return added, fmt.Errorf("failed to read combined master: %w", err)
	}
	if added == 0 {
		return 0, errors.ErrEmptyMaster
	}
	m.log.Info().Int("contracts", added).Msg("combined master load complete")
	return added, nil
}

// SaveProcessedCSVs writes the per-segment processed caches for a faster
// next cold start.
func (m *Manager) SaveProcessedCSVs(mastersDir string) error {
	dir := filepath.Join(mastersDir, ProcessedCSVDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create processed csv dir: %w", err)
	}
	for _, repo := range m.Segments() {
		if !repo.IsLoaded() {
			continue
		}
		path := filepath.Join(dir, processedNames[repo.Segment()])
		if err := repo.SaveProcessedCSV(path); err != nil {
			return err
		}
	}
	return nil
}

// TotalCount returns the contract count across all segments.
func (m *Manager) TotalCount() int {
	total := 0
	for _, repo := range m.Segments() {
		total += repo.GetTotalCount()
	}
	return total
}

// AnyLoaded reports whether at least one segment is loaded.
func (m *Manager) AnyLoaded() bool {
	for _, repo := range m.Segments() {
		if repo.IsLoaded() {
			return true
		}
	}
	return false
}

// SearchScrips prefix-matches contract names and substring-matches display
// names within one (exchange, segment, series) scope, capped at
// maxResults. An empty series matches all series.
func (m *Manager) SearchScrips(exchange, segment, series, prefix string, maxResults int) []models.ContractRecord {
	seg, ok := models.SegmentFor(exchange, segment)
	if !ok {
		return nil
	}
	repo := m.Repo(seg)
	if repo == nil || maxResults <= 0 {
		return nil
	}
	needle := strings.ToUpper(prefix)
	var out []models.ContractRecord
	repo.ForEachContract(func(rec models.ContractRecord) bool {
		if series != "" && rec.Series != series {
			return true
		}
		if strings.HasPrefix(strings.ToUpper(rec.Name), needle) ||
			strings.Contains(strings.ToUpper(rec.DisplayName), needle) {
			out = append(out, rec)
		}
		return len(out) < maxResults
	})
	return out
}

// GetScrips returns every contract in one (exchange, segment, series)
// scope.
func (m *Manager) GetScrips(exchange, segment, series string) []models.ContractRecord {
	seg, ok := models.SegmentFor(exchange, segment)
	if !ok {
		return nil
	}
	repo := m.Repo(seg)
	if repo == nil {
		return nil
	}
	if series == "" {
		return repo.GetAllContracts()
	}
	return repo.GetContractsBySeries(series)
}

// GetOptionChain returns all F&O contracts for an underlying on the given
// exchange, in pre-sorted (expiry, type, strike) order.
func (m *Manager) GetOptionChain(exchange, symbol string) []models.ContractRecord {
	switch exchange {
	case "NSE":
		return m.nsefo.GetContractsBySymbol(symbol)
	case "BSE":
		return m.bsefo.GetContractsBySymbol(symbol)
	}
	return nil
}

// GetContractByToken resolves a contract by XTS segment id and token.
func (m *Manager) GetContractByToken(segmentID int, token int64) (models.ContractRecord, bool) {
	repo := m.RepoByID(segmentID)
	if repo == nil {
		return models.ContractRecord{}, false
	}
	return repo.GetContract(token)
}

// UpdateLiveData dispatches a price update to the owning segment.
func (m *Manager) UpdateLiveData(segmentID int, token int64, ltp float64, volume int64) {
	if repo := m.RepoByID(segmentID); repo != nil {
		repo.UpdateLiveData(token, ltp, volume)
	}
}

// UpdateOHLC dispatches a session OHLC update to the owning segment.
func (m *Manager) UpdateOHLC(segmentID int, token int64, open, high, low, closePx, prevClose float64) {
	if repo := m.RepoByID(segmentID); repo != nil {
		repo.UpdateOHLC(token, open, high, low, closePx, prevClose)
	}
}

// UpdateBidAsk dispatches a best-quote update to the owning segment.
func (m *Manager) UpdateBidAsk(segmentID int, token int64, bid, ask float64) {
	if repo := m.RepoByID(segmentID); repo != nil {
		repo.UpdateBidAsk(token, bid, ask)
	}
}

// UpdateGreeks probes the derivative segments in priority order (NSEFO
// first, then BSEFO); Greeks feeds do not carry a segment id.
func (m *Manager) UpdateGreeks(token int64, g models.Greeks) bool {
	if m.nsefo.UpdateGreeks(token, g) {
		return true
	}
	return m.bsefo.UpdateGreeks(token, g)
}

// ClearAll drops every segment's catalog; the next load rebuilds from
// scratch.
func (m *Manager) ClearAll() {
	for _, repo := range m.Segments() {
		repo.Clear()
	}
	m.resetIntern()
}
