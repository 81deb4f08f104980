// Package report writes slide search results to an Excel workbook.
package report

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet holding the results.
const SheetName = "Slides"

// excelCellLimit is the maximum number of characters a cell may hold.
const excelCellLimit = 32767

var ErrNoRows = errors.New("report: no rows")

// Row is one search result.
type Row struct {
	DeckName     string
	DeckModified string
	SlideNumber  int
	Text         string
	Notes        string
	SlideHash    string
	ImagePath    string
}

var header = []any{"Deck", "Modified", "Slide", "Text", "Notes", "Slide ID", "Preview"}

var widths = map[string]float64{"A": 32, "B": 12, "C": 8, "D": 60, "E": 40, "F": 34, "G": 50}

// Build lays rows out in a new workbook. The caller must Close it.
func Build(rows []Row) (*excelize.File, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("renaming sheet: %w", err)
	}
	if err := fill(f, rows); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func fill(f *excelize.File, rows []Row) error {
	bold, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDDDDD"}},
	})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	wrap, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return fmt.Errorf("creating cell style: %w", err)
	}

	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if err := f.SetCellStyle(SheetName, "A1", "G1", bold); err != nil {
		return fmt.Errorf("styling header: %w", err)
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{
			r.DeckName,
			r.DeckModified,
			r.SlideNumber,
			clip(r.Text),
			clip(r.Notes),
			r.SlideHash,
			r.ImagePath,
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}

	last, err := excelize.CoordinatesToCellName(len(header), len(rows)+1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A2", last, wrap); err != nil {
		return fmt.Errorf("styling rows: %w", err)
	}
	for col, w := range widths {
		if err := f.SetColWidth(SheetName, col, col, w); err != nil {
			return fmt.Errorf("setting column width: %w", err)
		}
	}
	return f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// Save writes rows to an .xlsx file at path.
func Save(rows []Row, path string) error {
	f, err := Build(rows)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

// Write streams the workbook to w.
func Write(rows []Row, w io.Writer) error {
	f, err := Build(rows)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= excelCellLimit {
		return s
	}
	return string(r[:excelCellLimit])
}
