package repository

import (
	"bufio"
	"fmt"
	"os"

	"github.com/gocarina/gocsv"

	"xts-terminal/internal/masterfile"
	"xts-terminal/internal/models"
)

// maxLineBytes bounds one master-file row; real rows are well under 1 KiB.
const maxLineBytes = 64 * 1024

// loadMasterFile streams a raw pipe-delimited master file into a repo.
// Bad rows are dropped silently and the load continues.
func loadMasterFile(r SegmentRepo, path string, intern InternFunc) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open master file: %w", err)
	}
	defer f.Close()

	r.PrepareForLoad()
	added := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for scanner.Scan() {
		rc, ok := masterfile.ParseLine(scanner.Text(), r.Segment())
		if !ok {
			continue
		}
		r.AddContract(rc, intern)
		added++
	}
	r.FinalizeLoad()
	if err := scanner.Err(); err != nil {
		return added, fmt.Errorf("failed to read master file: %w", err)
	}
	return added, nil
}

// loadFromContracts streams already-parsed contracts into a repo.
func loadFromContracts(r SegmentRepo, contracts []models.RawContract, intern InternFunc) int {
	r.PrepareForLoad()
	for _, rc := range contracts {
		r.AddContract(rc, intern)
	}
	r.FinalizeLoad()
	return len(contracts)
}

// saveProcessedCSV writes the repo's static catalog as the per-segment
// processed cache. Live fields and Greeks are not serialized, keeping the
// file idempotent across sessions.
func saveProcessedCSV(r SegmentRepo, path string) error {
	var rows []models.RawContract
	r.ForEachContract(func(rec models.ContractRecord) bool {
		rows = append(rows, recordToRaw(rec))
		return true
	})

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create processed csv: %w", err)
	}
	defer f.Close()
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return fmt.Errorf("failed to write processed csv: %w", err)
	}
	return nil
}

// loadProcessedCSV reloads a repo from a processed cache file.
func loadProcessedCSV(r SegmentRepo, path string, intern InternFunc) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open processed csv: %w", err)
	}
	defer f.Close()

	var rows []models.RawContract
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return 0, fmt.Errorf("failed to parse processed csv: %w", err)
	}
	for i := range rows {
		rows[i].Segment = r.Segment()
	}
	return loadFromContracts(r, rows, intern), nil
}

func recordToRaw(rec models.ContractRecord) models.RawContract {
	return models.RawContract{
		Segment:        rec.Segment,
		InstrumentID:   rec.InstrumentID,
		InstrumentType: rec.InstrumentType,
		Name:           rec.Name,
		Description:    rec.Description,
		Series:         rec.Series,
		DisplayName:    rec.DisplayName,
		ISIN:           rec.ISIN,
		PriceBandHigh:  rec.PriceBandHigh,
		PriceBandLow:   rec.PriceBandLow,
		FreezeQty:      rec.FreezeQty,
		TickSize:       rec.TickSize,
		LotSize:        rec.LotSize,
		Multiplier:     rec.Multiplier,
		AssetToken:     rec.AssetToken,
		ExpiryDate:     rec.ExpiryDate,
		StrikePrice:    rec.StrikePrice,
		OptionType:     rec.OptionType,
	}
}

// Bulk convenience methods, shared shape across the repo variants.

// LoadMasterFile loads a raw master file for this segment.
func (r *SparseRepo) LoadMasterFile(path string) (int, error) {
	return loadMasterFile(r, path, nil)
}

// LoadProcessedCSV loads the processed cache for this segment.
func (r *SparseRepo) LoadProcessedCSV(path string) (int, error) {
	return loadProcessedCSV(r, path, nil)
}

// SaveProcessedCSV writes the processed cache for this segment.
func (r *SparseRepo) SaveProcessedCSV(path string) error {
	return saveProcessedCSV(r, path)
}

// LoadFromContracts loads already-parsed contracts.
func (r *SparseRepo) LoadFromContracts(contracts []models.RawContract) int {
	return loadFromContracts(r, contracts, nil)
}

// LoadMasterFile loads a raw master file for the F&O segment.
func (r *NSEFORepo) LoadMasterFile(path string) (int, error) {
	return loadMasterFile(r, path, nil)
}

// LoadProcessedCSV loads the processed cache for the F&O segment.
func (r *NSEFORepo) LoadProcessedCSV(path string) (int, error) {
	return loadProcessedCSV(r, path, nil)
}

// SaveProcessedCSV writes the processed cache for the F&O segment.
func (r *NSEFORepo) SaveProcessedCSV(path string) error {
	return saveProcessedCSV(r, path)
}

// LoadFromContracts loads already-parsed contracts.
func (r *NSEFORepo) LoadFromContracts(contracts []models.RawContract) int {
	return loadFromContracts(r, contracts, nil)
}
