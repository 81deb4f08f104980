package report

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func sampleRows() []Row {
	return []Row{
		{DeckName: "budget.pptx", DeckModified: "2024-03-01", SlideNumber: 1, Text: "2024 Budget\nOverview", Notes: "intro", SlideHash: "aaa", ImagePath: "data/h1/슬라이드1.PNG"},
		{DeckName: "budget.pptx", DeckModified: "2024-03-01", SlideNumber: 2, Text: "Costs", SlideHash: "bbb", ImagePath: "data/h1/슬라이드2.PNG"},
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.xlsx")
	if err := Save(sampleRows(), path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer f.Close()

	if got := f.GetSheetList(); len(got) != 1 || got[0] != SheetName {
		t.Fatalf("sheets: %v", got)
	}
	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "Deck" || rows[0][6] != "Preview" {
		t.Errorf("header: %v", rows[0])
	}
	if rows[1][2] != "1" || rows[1][3] != "2024 Budget\nOverview" || rows[1][6] != "data/h1/슬라이드1.PNG" {
		t.Errorf("first row: %q", rows[1])
	}
	if rows[2][5] != "bbb" {
		t.Errorf("second row hash: %q", rows[2])
	}
}

func TestWriteStream(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(sampleRows(), &buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()
	v, err := f.GetCellValue(SheetName, "A3")
	if err != nil || v != "budget.pptx" {
		t.Errorf("A3 = %q, %v", v, err)
	}
}

func TestNoRows(t *testing.T) {
	if err := Save(nil, filepath.Join(t.TempDir(), "x.xlsx")); !errors.Is(err, ErrNoRows) {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

func TestClip(t *testing.T) {
	long := strings.Repeat("가", excelCellLimit+10)
	if got := []rune(clip(long)); len(got) != excelCellLimit {
		t.Errorf("clip length %d", len(got))
	}
	if clip("short") != "short" {
		t.Error("short text changed")
	}
}
