package export

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	sheetName      = "Trips"
	headerColor    = "E89448"
	maxColumnWidth = 50
)

// XLSXSink renders rows into a single-sheet workbook. Column widths follow
// the longest value in each column, capped at 50 characters.
type XLSXSink struct {
	f      *excelize.File
	row    int
	widths []int
}

// NewXLSXSink returns an empty workbook with a "Trips" sheet.
func NewXLSXSink() (*XLSXSink, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("name sheet: %w", err)
	}
	return &XLSXSink{f: f}, nil
}

func (s *XLSXSink) WriteHeader(headers []string) error {
	values := make([]any, len(headers))
	for i, h := range headers {
		values[i] = h
	}
	if err := s.setRow(values); err != nil {
		return err
	}

	style, err := s.f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{headerColor}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	return s.f.SetCellStyle(sheetName, "A1", last, style)
}

func (s *XLSXSink) WriteRow(values []any) error {
	cells := make([]any, len(values))
	for i, v := range values {
		if d, ok := v.(decimal.Decimal); ok {
			cells[i] = d.InexactFloat64()
			continue
		}
		cells[i] = v
	}
	return s.setRow(cells)
}

func (s *XLSXSink) setRow(values []any) error {
	s.row++
	cell, err := excelize.CoordinatesToCellName(1, s.row)
	if err != nil {
		return err
	}
	if err := s.f.SetSheetRow(sheetName, cell, &values); err != nil {
		return fmt.Errorf("set row %d: %w", s.row, err)
	}
	s.measure(values)
	return nil
}

func (s *XLSXSink) measure(values []any) {
	for len(s.widths) < len(values) {
		s.widths = append(s.widths, 0)
	}
	for i, v := range values {
		if v == nil {
			continue
		}
		if n := utf8.RuneCountInString(fmt.Sprint(v)); n > s.widths[i] {
			s.widths[i] = n
		}
	}
}

// WriteTo applies the column widths and writes the workbook to w.
func (s *XLSXSink) WriteTo(w io.Writer) (int64, error) {
	for i, width := range s.widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return 0, err
		}
		if err := s.f.SetColWidth(sheetName, col, col, float64(min(width+2, maxColumnWidth))); err != nil {
			return 0, fmt.Errorf("set width of %s: %w", col, err)
		}
	}
	return s.f.WriteTo(w)
}

// Close releases the workbook.
func (s *XLSXSink) Close() error {
	return s.f.Close()
}
