package trips

import (
	"context"
	"fmt"
	"io"
	"iter"

	"github.com/ukydev/freight-ledger/internal/access"
	"github.com/ukydev/freight-ledger/internal/apperr"
	"github.com/ukydev/freight-ledger/internal/db"
	"github.com/ukydev/freight-ledger/internal/models"
	"github.com/ukydev/freight-ledger/internal/pod"
)

// Query serves the read paths. Every record it returns to a caller has been
// through the row predicate and the field projection of that caller.
type Query struct {
	store db.TripStore
	pods  pod.Store
}

// NewQuery returns the read side over store and pods.
func NewQuery(store db.TripStore, pods pod.Store) *Query {
	return &Query{store: store, pods: pods}
}

// Get returns the trip as caller may see it. A trip the caller may not see
// is reported as missing.
func (q *Query) Get(ctx context.Context, tripID string, caller models.Caller) (*models.Trip, error) {
	trip, err := q.store.FindTripByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	view, ok := access.Filter(caller, trip)
	if !ok {
		return nil, fmt.Errorf("trip %s: %w", tripID, apperr.ErrNotFound)
	}
	return &view, nil
}

// List returns every trip caller may see, newest first.
func (q *Query) List(ctx context.Context, caller models.Caller) ([]models.Trip, error) {
	var filter db.TripFilter
	if mobile, scoped := access.OwnerScope(caller); scoped {
		filter.MotorOwnerMobile = &mobile
	}

	out := []models.Trip{}
	for trip, err := range db.Iterate(ctx, q.store, filter) {
		if err != nil {
			return nil, fmt.Errorf("list trips: %w", err)
		}
		if view, ok := access.Filter(caller, &trip); ok {
			out = append(out, view)
		}
	}
	return out, nil
}

// StreamForExport yields the trips loaded within r, newest first. It applies
// no role filtering; callers gate who may export.
func (q *Query) StreamForExport(ctx context.Context, r models.DateRange) iter.Seq2[models.Trip, error] {
	return db.Iterate(ctx, q.store, db.TripFilter{Loading: r})
}

// All yields every stored trip, newest first, without role filtering. It
// feeds the admin-only analytics rollups.
func (q *Query) All(ctx context.Context) iter.Seq2[models.Trip, error] {
	return db.Iterate(ctx, q.store, db.TripFilter{})
}

// OpenPOD opens the proof of delivery of a trip caller may see. It returns
// the storage key along with the content.
func (q *Query) OpenPOD(ctx context.Context, tripID string, caller models.Caller) (io.ReadCloser, string, error) {
	trip, err := q.store.FindTripByID(ctx, tripID)
	if err != nil {
		return nil, "", err
	}
	if !access.Visible(caller, trip) {
		return nil, "", fmt.Errorf("trip %s: %w", tripID, apperr.ErrNotFound)
	}
	if trip.PODFilename == nil || *trip.PODFilename == "" {
		return nil, "", fmt.Errorf("pod for trip %s: %w", tripID, apperr.ErrNotFound)
	}
	rc, err := q.pods.Get(ctx, *trip.PODFilename)
	if err != nil {
		return nil, "", err
	}
	return rc, *trip.PODFilename, nil
}
