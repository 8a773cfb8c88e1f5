// Package masterfile parses exchange master contract files. The format is
// pipe-delimited with a common 14-field prefix across segments; F&O rows
// carry five extra derivative fields before the display name. The parser
// is pure: it never touches storage or I/O, so the same code serves the
// file-streaming and in-memory load paths.
package masterfile

import (
	"strconv"
	"strings"

	"xts-terminal/internal/models"
)

// Field positions shared by all segment layouts.
const (
	posSegment = 0
	posToken   = 1
	posInstQty = 2
	posName    = 3
	posDesc    = 4
	posSeries  = 5
	posNameSer = 6
	posBandHi  = 8
	posBandLo  = 9
	posFreeze  = 10
	posTick    = 11
	posLot     = 12
	posMult    = 13

	// Cash-market tail.
	cmPosDisplay = 14
	cmPosISIN    = 15

	// F&O tail.
	foPosAsset   = 14
	foPosExpiry  = 16
	foPosStrike  = 17
	foPosOptType = 18
	foPosDisplay = 19

	cmMinFields = 14
	foMinFields = 19
)

var monthNames = [12]string{
	"JAN", "FEB", "MAR", "APR", "MAY", "JUN",
	"JUL", "AUG", "SEP", "OCT", "NOV", "DEC",
}

// ParseLine parses one master row for the given segment. A zero-value
// segment makes the parser derive it from the row's first field, which is
// how combined master files are dispatched. ok is false for rows with too
// few fields, an unparseable instrument id, or an unknown segment.
func ParseLine(line string, segment models.Segment) (models.RawContract, bool) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return models.RawContract{}, false
	}
	fields := strings.Split(line, "|")

	if segment == "" {
		var ok bool
		if segment, ok = segmentTag(trimQuotes(fields[posSegment])); !ok {
			return models.RawContract{}, false
		}
	}

	fo := segment == models.SegmentNSEFO || segment == models.SegmentBSEFO
	min := cmMinFields
	if fo {
		min = foMinFields
	}
	if len(fields) < min {
		return models.RawContract{}, false
	}

	token, err := strconv.ParseInt(trimQuotes(fields[posToken]), 10, 64)
	if err != nil {
		return models.RawContract{}, false
	}

	rc := models.RawContract{
		Segment:        segment,
		InstrumentID:   token,
		InstrumentType: int(parseInt(fields[posInstQty])),
		Name:           trimQuotes(fields[posName]),
		Description:    trimQuotes(fields[posDesc]),
		Series:         trimQuotes(fields[posSeries]),
		PriceBandHigh:  parseFloat(fields[posBandHi]),
		PriceBandLow:   parseFloat(fields[posBandLo]),
		FreezeQty:      parseInt(fields[posFreeze]),
		TickSize:       parseFloat(fields[posTick]),
		LotSize:        parseInt(fields[posLot]),
		Multiplier:     parseFloat(fields[posMult]),
		OptionType:     "XX",
	}
	if rc.LotSize == 0 {
		rc.LotSize = 1
	}

	if fo {
		rc.AssetToken = parseInt(fields[foPosAsset])
		rc.ExpiryDate = NormalizeExpiry(trimQuotes(fields[foPosExpiry]))
		rc.StrikePrice = parseFloat(fields[foPosStrike])
		rc.OptionType = optionType(trimQuotes(fields[foPosOptType]))
		if len(fields) > foPosDisplay {
			rc.DisplayName = trimQuotes(fields[foPosDisplay])
		}
		if len(fields) > foPosDisplay+1 {
			rc.ISIN = trimQuotes(fields[foPosDisplay+1])
		}
	} else {
		if len(fields) > cmPosDisplay {
			rc.DisplayName = trimQuotes(fields[cmPosDisplay])
		}
		if len(fields) > cmPosISIN {
			rc.ISIN = trimQuotes(fields[cmPosISIN])
		}
	}
	if rc.DisplayName == "" {
		rc.DisplayName = trimQuotes(fields[posNameSer])
	}
	return rc, true
}

// NormalizeExpiry converts a YYYYMMDD expiry into the canonical uppercase
// DDMMMYYYY form. Inputs already in canonical form pass through; anything
// unrecognizable is returned uppercased as-is.
func NormalizeExpiry(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 8 {
		return s
	}
	if _, err := strconv.Atoi(s); err != nil {
		// Already DDMMMYYYY or junk.
		return s
	}
	month, err := strconv.Atoi(s[4:6])
	if err != nil || month < 1 || month > 12 {
		return s
	}
	return s[6:8] + monthNames[month-1] + s[0:4]
}

// ExpiryKey packs a canonical DDMMMYYYY expiry into a sortable integer
// (year*10000 + month*100 + day). Unparseable strings sort first as 0.
func ExpiryKey(expiry string) int32 {
	if len(expiry) != 9 {
		return 0
	}
	day, err := strconv.Atoi(expiry[0:2])
	if err != nil {
		return 0
	}
	year, err := strconv.Atoi(expiry[5:9])
	if err != nil {
		return 0
	}
	mon := expiry[2:5]
	for i, name := range monthNames {
		if mon == name {
			return int32(year*10000 + (i+1)*100 + day)
		}
	}
	return 0
}

// optionType maps the master file's integer option-type code to its string
// form: 3 is a call, 4 is a put, anything else is XX.
func optionType(s string) string {
	switch s {
	case "3", "CE":
		return "CE"
	case "4", "PE":
		return "PE"
	}
	return "XX"
}

// segmentTag resolves a master row's leading segment field, which appears
// either as the segment name or the XTS numeric id.
func segmentTag(s string) (models.Segment, bool) {
	switch s {
	case "NSECM", "1":
		return models.SegmentNSECM, true
	case "NSEFO", "2":
		return models.SegmentNSEFO, true
	case "BSECM", "11":
		return models.SegmentBSECM, true
	case "BSEFO", "12":
		return models.SegmentBSEFO, true
	}
	return "", false
}

// trimQuotes strips one matching pair of surrounding double quotes.
func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func parseFloat(s string) float64 {
	s = trimQuotes(strings.TrimSpace(s))
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int64 {
	s = trimQuotes(strings.TrimSpace(s))
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Some fields carry float-formatted integers.
		if f, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			return int64(f)
		}
		return 0
	}
	return v
}
