package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Reserved roster columns; every other column is a placeholder field
const (
	ColumnIssuanceID = "issuance_id"
	ColumnTemplateID = "template_id"
)

var ErrInvalidRoster = errors.New("invalid roster")

// Row is one recipient. Line is the 1-based line of the source file.
type Row struct {
	Line       int
	IssuanceID string
	TemplateID string
	Fields     map[string]any
}

// Roster is a parsed recipient list
type Roster struct {
	Columns []string
	Rows    []Row
}

// ReadRoster reads a .xlsx or .csv roster. For workbooks sheet selects the
// sheet; empty means the first one.
func ReadRoster(path, sheet string) (*Roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open roster: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(f, sheet)
	case ".csv":
		return ReadCSV(f)
	}
	return nil, fmt.Errorf("%w: unsupported file type %q", ErrInvalidRoster, filepath.Ext(path))
}

// ReadXLSX parses the first row of the sheet as the header
func ReadXLSX(r io.Reader, sheet string) (*Roster, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoster, err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: sheet %q: %v", ErrInvalidRoster, sheet, err)
	}
	return parse(rows)
}

// ReadCSV parses the first record as the header
func ReadCSV(r io.Reader) (*Roster, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoster, err)
	}
	return parse(records)
}

func parse(records [][]string) (*Roster, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: missing header row", ErrInvalidRoster)
	}

	header := make([]string, len(records[0]))
	seen := make(map[string]bool)
	for i, name := range records[0] {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if name == "" {
			return nil, fmt.Errorf("%w: column %d has no name", ErrInvalidRoster, i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrInvalidRoster, name)
		}
		seen[name] = true
		header[i] = name
	}

	roster := &Roster{Columns: header}
	for i, record := range records[1:] {
		if blank(record) {
			continue
		}
		if len(record) > len(header) {
			return nil, fmt.Errorf("%w: line %d has %d cells for %d columns", ErrInvalidRoster, i+2, len(record), len(header))
		}

		row := Row{Line: i + 2, Fields: make(map[string]any)}
		for col, cell := range record {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			switch header[col] {
			case ColumnIssuanceID:
				row.IssuanceID = cell
			case ColumnTemplateID:
				row.TemplateID = cell
			default:
				row.Fields[header[col]] = cell
			}
		}
		roster.Rows = append(roster.Rows, row)
	}
	return roster, nil
}

func blank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
