package export

import (
	"bytes"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/freight-ledger/internal/models"
	"github.com/xuri/excelize/v2"
)

func amt(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func str(s string) *string { return &s }

func seqOf(trips ...models.Trip) iter.Seq2[models.Trip, error] {
	return func(yield func(models.Trip, error) bool) {
		for _, t := range trips {
			if !yield(t, nil) {
				return
			}
		}
	}
}

func sampleTrip() models.Trip {
	return models.Trip{
		TripID:           "2026_1",
		LoadingDate:      "2026-03-14",
		VehicleNumber:    "MH12AB1234",
		DriverMobile:     "9000000001",
		MotorOwnerName:   str("Ramesh"),
		MotorOwnerMobile: str("9876543210"),
		GadiBhada:        amt("50000"),
		GadiAdvance:      amt("20000"),
		GadiBalance:      amt("30000"),
		PartyName:        "Shree Traders",
		PartyMobile:      "9111111111",
		PartyFreight:     amt("75000.50"),
		PartyAdvance:     amt("25000"),
		PartyBalance:     amt("50000.50"),
		FromLocation:     "Pune",
		ToLocation:       "Nagpur",
		Remarks:          str(strings.Repeat("x", 80)),
		Status:           "Loaded",
	}
}

type recordingSink struct {
	headers []string
	rows    [][]any
}

func (s *recordingSink) WriteHeader(h []string) error { s.headers = h; return nil }
func (s *recordingSink) WriteRow(v []any) error       { s.rows = append(s.rows, v); return nil }

func TestColumns(t *testing.T) {
	require.Len(t, Columns, 22)
	assert.Equal(t, "Trip ID", Columns[0].Header)
	assert.Equal(t, "Status", Columns[21].Header)
}

func TestWrite_RowValues(t *testing.T) {
	sink := &recordingSink{}
	n, err := Write(sink, seqOf(sampleTrip()))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sink.rows, 1)

	row := sink.rows[0]
	assert.Equal(t, "2026_1", row[0])
	assert.Nil(t, row[2], "missing unloading date")
	assert.Equal(t, "Ramesh", row[5])
	assert.Equal(t, decimal.RequireFromString("75000.50"), row[12])
	assert.Nil(t, row[15], "missing tds")
}

func TestWrite_StopsOnError(t *testing.T) {
	boom := errors.New("cursor died")
	n, err := Write(&recordingSink{}, func(yield func(models.Trip, error) bool) {
		if !yield(sampleTrip(), nil) {
			return
		}
		yield(models.Trip{}, boom)
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
}

func TestXLSXSink(t *testing.T) {
	sink, err := NewXLSXSink()
	require.NoError(t, err)
	defer sink.Close()

	_, err = Write(sink, seqOf(sampleTrip()))
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = sink.WriteTo(&buf)
	require.NoError(t, err)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Trips")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Trip ID", rows[0][0])
	assert.Len(t, rows[0], 22)
	assert.Equal(t, "2026_1", rows[1][0])
	assert.Equal(t, "", rows[1][2])
	assert.Equal(t, "75000.5", rows[1][12])

	styleID, err := f.GetCellStyle("Trips", "A1")
	require.NoError(t, err)
	style, err := f.GetStyle(styleID)
	require.NoError(t, err)
	require.NotNil(t, style.Font)
	assert.True(t, style.Font.Bold)
	require.Len(t, style.Fill.Color, 1)
	assert.True(t, strings.HasSuffix(strings.ToUpper(style.Fill.Color[0]), "E89448"))

	width, err := f.GetColWidth("Trips", "A")
	require.NoError(t, err)
	assert.Equal(t, float64(len("Trip ID")+2), width)

	width, err = f.GetColWidth("Trips", "U")
	require.NoError(t, err)
	assert.Equal(t, float64(50), width, "remarks column is capped")
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "trips_export_20260314_093005.xlsx", Filename(time.Date(2026, 3, 14, 9, 30, 5, 0, time.UTC)))
}
