// Package export renders trip rows into a spreadsheet.
package export

import (
	"fmt"
	"iter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ukydev/freight-ledger/internal/models"
)

// ContentType is the media type of the rendered workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Column is one exported trip attribute.
type Column struct {
	Header string
	Value  func(t *models.Trip) any
}

// Columns are the exported attributes, in sheet order.
var Columns = []Column{
	{"Trip ID", func(t *models.Trip) any { return t.TripID }},
	{"Loading Date", func(t *models.Trip) any { return t.LoadingDate }},
	{"Unloading Date", func(t *models.Trip) any { return text(t.UnloadingDate) }},
	{"Vehicle No", func(t *models.Trip) any { return t.VehicleNumber }},
	{"Driver No", func(t *models.Trip) any { return t.DriverMobile }},
	{"Motor Owner Name", func(t *models.Trip) any { return text(t.MotorOwnerName) }},
	{"Motor Owner Mobile", func(t *models.Trip) any { return text(t.MotorOwnerMobile) }},
	{"Gadi Bhada", func(t *models.Trip) any { return amount(t.GadiBhada) }},
	{"Gadi Advance", func(t *models.Trip) any { return amount(t.GadiAdvance) }},
	{"Gadi Balance", func(t *models.Trip) any { return amount(t.GadiBalance) }},
	{"Party Name", func(t *models.Trip) any { return t.PartyName }},
	{"Party Mobile", func(t *models.Trip) any { return t.PartyMobile }},
	{"Party Freight", func(t *models.Trip) any { return amount(t.PartyFreight) }},
	{"Party Advance", func(t *models.Trip) any { return amount(t.PartyAdvance) }},
	{"Party Balance", func(t *models.Trip) any { return amount(t.PartyBalance) }},
	{"TDS", func(t *models.Trip) any { return amount(t.TDS) }},
	{"From", func(t *models.Trip) any { return t.FromLocation }},
	{"To", func(t *models.Trip) any { return t.ToLocation }},
	{"Weight", func(t *models.Trip) any { return text(t.Weight) }},
	{"Himmali", func(t *models.Trip) any { return text(t.Himmali) }},
	{"Remarks", func(t *models.Trip) any { return text(t.Remarks) }},
	{"Status", func(t *models.Trip) any { return t.Status }},
}

// text and amount return nil for missing values so sinks leave the cell empty.
func text(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func amount(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return *d
}

// RowSink receives the header once and then one row per trip.
type RowSink interface {
	WriteHeader(headers []string) error
	WriteRow(values []any) error
}

// Write feeds every trip in trips to sink and returns the number of rows
// written.
func Write(sink RowSink, trips iter.Seq2[models.Trip, error]) (int, error) {
	headers := make([]string, len(Columns))
	for i, c := range Columns {
		headers[i] = c.Header
	}
	if err := sink.WriteHeader(headers); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	n := 0
	for t, err := range trips {
		if err != nil {
			return n, fmt.Errorf("read trips: %w", err)
		}
		values := make([]any, len(Columns))
		for i, c := range Columns {
			values[i] = c.Value(&t)
		}
		if err := sink.WriteRow(values); err != nil {
			return n, fmt.Errorf("write row %s: %w", t.TripID, err)
		}
		n++
	}
	return n, nil
}

// Filename names an export produced at now.
func Filename(now time.Time) string {
	return "trips_export_" + now.Format("20060102_150405") + ".xlsx"
}
