package batch

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const reportSheet = "Issuances"

var reportColumns = []string{"line", "issuance_id", "template_id", "status", "content_id", "verification_code", "kind", "error"}

func (r Result) cells() []string {
	errText := ""
	if r.Err != nil {
		errText = r.Err.Error()
	}
	return []string{
		strconv.Itoa(r.Line), r.IssuanceID, r.TemplateID, r.Status,
		r.ContentID, r.VerificationCode, string(r.Kind), errText,
	}
}

// WriteReport writes results as .xlsx or .csv depending on the extension
func WriteReport(path string, results []Result) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return writeXLSX(path, results)
	case ".csv":
		return writeCSV(path, results)
	}
	return fmt.Errorf("unsupported report type %q", filepath.Ext(path))
}

func writeXLSX(path string, results []Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, col := range reportColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(reportSheet, cell, col); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(reportColumns), 1)
	if err := f.SetCellStyle(reportSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for rowIdx, result := range results {
		for colIdx, value := range result.cells() {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err := f.SetCellValue(reportSheet, cell, value); err != nil {
				return fmt.Errorf("failed to set cell value: %w", err)
			}
		}
	}

	if err := f.SetPanes(reportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}
	if err := f.SetColWidth(reportSheet, "B", "F", 38); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

func writeCSV(path string, results []Result) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if err := w.Write(reportColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, result := range results {
		if err := w.Write(result.cells()); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return out.Close()
}
