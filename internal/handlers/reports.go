package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/freight-ledger/internal/analytics"
	"github.com/ukydev/freight-ledger/internal/apperr"
	"github.com/ukydev/freight-ledger/internal/export"
	"github.com/ukydev/freight-ledger/internal/models"
	"github.com/ukydev/freight-ledger/internal/trips"
)

// ReportHandler serves the analytics rollups and the spreadsheet export.
type ReportHandler struct {
	query *trips.Query
	now   func() time.Time
}

// NewReportHandler creates a report handler over query.
func NewReportHandler(query *trips.Query) *ReportHandler {
	return &ReportHandler{query: query, now: time.Now}
}

// Parties returns the outstanding balance of every receiving party.
// GET /api/analytics/parties
func (h *ReportHandler) Parties(w http.ResponseWriter, r *http.Request) {
	rows, err := analytics.ByParty(h.query.All(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// MotorOwners returns the outstanding balance of every hired vehicle owner.
// GET /api/analytics/motor-owners
func (h *ReportHandler) MotorOwners(w http.ResponseWriter, r *http.Request) {
	rows, err := analytics.ByMotorOwner(h.query.All(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// ExportTrips renders the trips loaded in the requested period as a
// spreadsheet. Without a period every trip is exported.
// GET /api/export/trips?month=&year= or ?from=&to=
func (h *ReportHandler) ExportTrips(w http.ResponseWriter, r *http.Request) {
	period, err := exportRange(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	sink, err := export.NewXLSXSink()
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer sink.Close()

	// The workbook is built completely before any header goes out so a
	// failed read still produces an error status.
	n, err := export.Write(sink, h.query.StreamForExport(r.Context(), period))
	if err != nil {
		respondError(w, r, err)
		return
	}

	filename := export.Filename(h.now())
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := sink.WriteTo(w); err != nil {
		log.WithError(err).Warn("Export download interrupted")
		return
	}
	log.WithFields(log.Fields{
		"rows":     n,
		"from":     period.From,
		"to":       period.To,
		"filename": filename,
	}).Info("Trips exported")
}

func exportRange(r *http.Request) (models.DateRange, error) {
	q := r.URL.Query()
	month, year := q.Get("month"), q.Get("year")
	from, to := q.Get("from"), q.Get("to")

	switch {
	case month != "" || year != "":
		if from != "" || to != "" {
			return models.DateRange{}, apperr.Invalid("period", "use either month and year or from and to")
		}
		if month == "" || year == "" {
			return models.DateRange{}, apperr.Invalid("period", "month and year go together")
		}
		m, err := strconv.Atoi(month)
		if err != nil || m < 1 || m > 12 {
			return models.DateRange{}, apperr.Invalid("month", "must be 1-12")
		}
		y, err := strconv.Atoi(year)
		if err != nil || y < 1 || y > 9999 {
			return models.DateRange{}, apperr.Invalid("year", "must be a four digit year")
		}
		return models.MonthRange(y, time.Month(m)), nil
	case from != "" || to != "":
		for field, v := range map[string]string{"from": from, "to": to} {
			if v == "" {
				continue
			}
			if _, err := time.Parse(models.DateLayout, v); err != nil {
				return models.DateRange{}, apperr.Invalid(field, "must be a YYYY-MM-DD date")
			}
		}
		if from != "" && to != "" && to <= from {
			return models.DateRange{}, apperr.Invalid("to", "must be after from")
		}
		return models.DateRange{From: from, To: to}, nil
	default:
		return models.DateRange{}, nil
	}
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the trip store answers.
// GET /health
func Health(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			log.WithError(err).Warn("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
