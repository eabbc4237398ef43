package db

import (
	"context"
	"fmt"
	"iter"

	"github.com/ukydev/freight-ledger/internal/apperr"
	"github.com/ukydev/freight-ledger/internal/models"
	"go.mongodb.org/mongo-driver/bson"
)

// ErrDuplicateTripID is returned by InsertTrip when the identifier is taken.
var ErrDuplicateTripID = fmt.Errorf("%w: duplicate trip id", apperr.ErrConflict)

// maxUpdateAttempts bounds the compare-and-set loop of ApplyTripUpdate.
const maxUpdateAttempts = 5

// TripMutation edits a trip in place and returns the changed fields keyed by
// stored field name. It runs against the same read the write is conditioned
// on, so it may be invoked more than once.
type TripMutation func(current *models.Trip) (bson.M, error)

// TripFilter narrows FindTrips. Zero values do not filter.
type TripFilter struct {
	MotorOwnerMobile *string
	Loading          models.DateRange
}

// TripStore defines the interface for trip persistence.
type TripStore interface {
	InsertTrip(ctx context.Context, trip models.Trip) error
	FindTripByID(ctx context.Context, tripID string) (*models.Trip, error)
	// FindTrips returns matching trips, newest created_at first.
	FindTrips(ctx context.Context, filter TripFilter) (TripCursor, error)
	ApplyTripUpdate(ctx context.Context, tripID string, mutate TripMutation) (*models.Trip, error)
	SetTripPOD(ctx context.Context, tripID, key string) error
	DeleteTrip(ctx context.Context, tripID string) error
	// MaxTripSequence returns the highest sequence allocated for year, 0 if none.
	MaxTripSequence(ctx context.Context, year int) (int, error)
	Ping(ctx context.Context) error
}

// TripCursor iterates over FindTrips results.
type TripCursor interface {
	Next(ctx context.Context) bool
	Decode(trip *models.Trip) error
	Err() error
	Close(ctx context.Context) error
}

// UserCollection defines the interface for user database operations
type UserCollection interface {
	InsertUser(ctx context.Context, user models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
}

func notFound(tripID string) error {
	return fmt.Errorf("trip %s: %w", tripID, apperr.ErrNotFound)
}

// Iterate returns a sequence over the trips matching filter. Each range over
// it issues a fresh query, so the sequence can be consumed more than once.
// Iteration stops after the first error, which is yielded with a zero trip.
func Iterate(ctx context.Context, store TripStore, filter TripFilter) iter.Seq2[models.Trip, error] {
	return func(yield func(models.Trip, error) bool) {
		cur, err := store.FindTrips(ctx, filter)
		if err != nil {
			yield(models.Trip{}, err)
			return
		}
		defer cur.Close(ctx)
		for cur.Next(ctx) {
			var t models.Trip
			if err := cur.Decode(&t); err != nil {
				yield(models.Trip{}, err)
				return
			}
			if !yield(t, nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(models.Trip{}, err)
		} else if err := ctx.Err(); err != nil {
			yield(models.Trip{}, err)
		}
	}
}
