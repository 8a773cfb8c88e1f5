package cli

import (
	"testing"

	"xts-terminal/internal/models"
)

func TestExactEquityMatch(t *testing.T) {
	recs := []models.ContractRecord{
		{Name: "HDFCBANK", InstrumentID: 1333, Series: "EQ"},
	}

	rec, ok := exactEquityMatch(recs, "HDFCBANK")
	if !ok {
		t.Fatal("exact symbol should match")
	}
	if rec.Name != "HDFCBANK" || rec.InstrumentID != 1333 {
		t.Errorf("got %s/%d, want HDFCBANK/1333", rec.Name, rec.InstrumentID)
	}

	if _, ok := exactEquityMatch(recs, "HDFC"); ok {
		t.Error("prefix-only result should not match")
	}
	if _, ok := exactEquityMatch(nil, "HDFCBANK"); ok {
		t.Error("empty result should not match")
	}
}
