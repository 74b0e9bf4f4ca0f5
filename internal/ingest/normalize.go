package ingest

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/veridia-health/psur-cli/internal/model"
)

// Mapping describes how one export's columns become evidence atoms of a
// single type. Column names are matched against the header
// case-insensitively after trimming.
type Mapping struct {
	Type model.EvidenceType `yaml:"type" mapstructure:"type"`
	// Columns lists the header names to carry into the normalized payload.
	// Empty means every column is carried.
	Columns []string `yaml:"columns" mapstructure:"columns"`
	// DateColumn names the column holding the event date (complaint date,
	// incident date, period close). Empty means the atoms carry no event
	// date and are treated as always in-period.
	DateColumn string `yaml:"date_column" mapstructure:"date_column"`
	// DateFormats lists accepted layouts, tried in order. Defaults to
	// ISO dates plus the formats complaint systems commonly emit.
	DateFormats []string `yaml:"date_formats" mapstructure:"date_formats"`
	// DeviceRefColumn names the column holding the device identifier.
	DeviceRefColumn string `yaml:"device_ref_column" mapstructure:"device_ref_column"`
}

var defaultDateFormats = []string{
	"2006-01-02",
	"02.01.2006",
	"01/02/2006",
	"2 Jan 2006",
	time.RFC3339,
}

// Result summarizes one normalization pass.
type Result struct {
	Atoms   []model.EvidenceAtom
	Skipped int // blank rows and in-batch duplicates
}

// Normalize converts export rows into evidence atoms. Atom IDs derive from
// the evidence type and the canonical payload, so rows that normalize to
// identical content collapse to one atom within the batch and dedupe
// against the store on insert.
func Normalize(caseID string, header []string, rows [][]string, m Mapping) (*Result, error) {
	if !m.Type.Valid() {
		return nil, eris.Errorf("ingest: unknown evidence type %q", m.Type)
	}
	if len(header) == 0 {
		return nil, eris.New("ingest: export has no header row")
	}

	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}

	carry, err := resolveColumns(colIdx, header, m.Columns)
	if err != nil {
		return nil, err
	}

	dateIdx := -1
	if m.DateColumn != "" {
		idx, ok := colIdx[strings.ToLower(strings.TrimSpace(m.DateColumn))]
		if !ok {
			return nil, eris.Errorf("ingest: date column %q not in header", m.DateColumn)
		}
		dateIdx = idx
	}
	deviceIdx := -1
	if m.DeviceRefColumn != "" {
		idx, ok := colIdx[strings.ToLower(strings.TrimSpace(m.DeviceRefColumn))]
		if !ok {
			return nil, eris.Errorf("ingest: device ref column %q not in header", m.DeviceRefColumn)
		}
		deviceIdx = idx
	}

	formats := m.DateFormats
	if len(formats) == 0 {
		formats = defaultDateFormats
	}

	now := time.Now().UTC()
	result := &Result{}
	seen := make(map[string]bool)
	for rowNum, row := range rows {
		if blankRow(row) {
			result.Skipped++
			continue
		}

		data := make(map[string]any, len(carry))
		for name, idx := range carry {
			if idx < len(row) {
				data[name] = row[idx]
			}
		}

		atom := model.EvidenceAtom{
			CaseID:     caseID,
			Type:       m.Type,
			Data:       data,
			IngestedAt: now,
		}
		if deviceIdx >= 0 && deviceIdx < len(row) {
			atom.DeviceRef = strings.TrimSpace(row[deviceIdx])
		}
		if dateIdx >= 0 && dateIdx < len(row) && strings.TrimSpace(row[dateIdx]) != "" {
			occurred, err := parseDate(row[dateIdx], formats)
			if err != nil {
				return nil, eris.Wrapf(err, "ingest: row %d", rowNum+1)
			}
			atom.OccurredAt = &occurred
		}

		atom.AtomID, err = model.DeriveAtomID(m.Type, data)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: row %d", rowNum+1)
		}
		atom.ContentHash, err = model.DeriveContentHash(data)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: row %d", rowNum+1)
		}

		if seen[atom.AtomID] {
			result.Skipped++
			continue
		}
		seen[atom.AtomID] = true
		result.Atoms = append(result.Atoms, atom)
	}

	zap.L().Info("export normalized",
		zap.String("case", caseID),
		zap.String("type", string(m.Type)),
		zap.Int("atoms", len(result.Atoms)),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// resolveColumns maps the carried payload keys to header indices. Keys in
// the payload use the lowercased header name, so the atom ID is stable
// across exports that only differ in header casing.
func resolveColumns(colIdx map[string]int, header, want []string) (map[string]int, error) {
	carry := make(map[string]int)
	if len(want) == 0 {
		for name, idx := range colIdx {
			if name != "" {
				carry[name] = idx
			}
		}
		return carry, nil
	}
	for _, w := range want {
		key := strings.ToLower(strings.TrimSpace(w))
		idx, ok := colIdx[key]
		if !ok {
			return nil, eris.Errorf("ingest: column %q not in header %v", w, header)
		}
		carry[key] = idx
	}
	return carry, nil
}

func parseDate(s string, formats []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range formats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("ingest: unparseable date %q", s)
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
