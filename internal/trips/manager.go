// Package trips owns the trip lifecycle: the only writer of trip records and
// the read paths that apply role visibility to them.
package trips

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/freight-ledger/internal/access"
	"github.com/ukydev/freight-ledger/internal/allocator"
	"github.com/ukydev/freight-ledger/internal/apperr"
	"github.com/ukydev/freight-ledger/internal/balance"
	"github.com/ukydev/freight-ledger/internal/db"
	"github.com/ukydev/freight-ledger/internal/models"
	"github.com/ukydev/freight-ledger/internal/notify"
	"github.com/ukydev/freight-ledger/internal/pod"
	"go.mongodb.org/mongo-driver/bson"
)

// maxAllocAttempts bounds how many identifiers Create tries before giving up.
const maxAllocAttempts = 5

// Manager creates, updates and deletes trips.
type Manager struct {
	store  db.TripStore
	alloc  allocator.Allocator
	pods   pod.Store
	events notify.Publisher
	now    func() time.Time
}

// NewManager wires a manager. A nil publisher disables events.
func NewManager(store db.TripStore, alloc allocator.Allocator, pods pod.Store, events notify.Publisher) *Manager {
	if events == nil {
		events = notify.Noop{}
	}
	return &Manager{
		store:  store,
		alloc:  alloc,
		pods:   pods,
		events: events,
		now:    time.Now,
	}
}

// Create validates in, assigns the next identifier of the current year and
// stores the trip with both balances derived.
func (m *Manager) Create(ctx context.Context, in models.TripCreate, caller models.Caller) (*models.Trip, error) {
	if err := access.Require(caller.Role, access.ActionCreateTrip); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := m.now().UTC().Truncate(time.Millisecond)
	trip := newTrip(in, caller, now)
	balance.Apply(&trip)

	year := now.Year()
	for attempt := 1; attempt <= maxAllocAttempts; attempt++ {
		seq, err := m.alloc.Next(ctx, year)
		if err != nil {
			return nil, fmt.Errorf("allocate trip id: %w", err)
		}
		trip.TripID = models.FormatTripID(year, seq)

		err = m.store.InsertTrip(ctx, trip)
		if err == nil {
			log.WithFields(log.Fields{
				"trip_id":    trip.TripID,
				"created_by": trip.CreatedBy,
				"attempt":    attempt,
			}).Info("Trip created")
			m.publish(ctx, models.EventTripCreated, trip.TripID, caller)
			return &trip, nil
		}
		if !errors.Is(err, db.ErrDuplicateTripID) {
			return nil, fmt.Errorf("insert trip: %w", err)
		}

		log.WithFields(log.Fields{
			"trip_id": trip.TripID,
			"attempt": attempt,
		}).Warn("Trip id already taken, resyncing allocator")
		if err := m.alloc.Resync(ctx, year); err != nil {
			return nil, fmt.Errorf("resync allocator: %w", err)
		}
	}

	log.WithField("year", year).Error("Trip id allocation exhausted")
	return nil, &apperr.AllocationExhaustedError{Year: year, Attempts: maxAllocAttempts}
}

func newTrip(in models.TripCreate, caller models.Caller, now time.Time) models.Trip {
	status := in.Status
	if status == "" {
		status = models.StatusLoaded
	}
	return models.Trip{
		LoadingDate:      in.LoadingDate,
		UnloadingDate:    in.UnloadingDate,
		VehicleNumber:    in.VehicleNumber,
		DriverMobile:     in.DriverMobile,
		IsOwnVehicle:     *in.IsOwnVehicle,
		MotorOwnerName:   in.MotorOwnerName,
		MotorOwnerMobile: in.MotorOwnerMobile,
		GadiBhada:        in.GadiBhada,
		GadiAdvance:      in.GadiAdvance,
		PartyName:        in.PartyName,
		PartyMobile:      in.PartyMobile,
		PartyFreight:     in.PartyFreight,
		PartyAdvance:     in.PartyAdvance,
		TDS:              in.TDS,
		FromLocation:     in.FromLocation,
		ToLocation:       in.ToLocation,
		Weight:           in.Weight,
		Himmali:          in.Himmali,
		Remarks:          in.Remarks,
		Status:           status,
		SettlementStatus: models.SettlementPending,
		CreatedBy:        caller.Identity,
		CreatedAt:        now,
	}
}

// Update merges the fields present in in into the stored trip. The completed
// lock and the balance derivation both run against the read the write is
// conditioned on.
func (m *Manager) Update(ctx context.Context, tripID string, in models.TripUpdate, caller models.Caller) (*models.Trip, error) {
	if err := access.Require(caller.Role, access.ActionUpdateTrip); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var changed []string
	updated, err := m.store.ApplyTripUpdate(ctx, tripID, func(t *models.Trip) (bson.M, error) {
		if err := access.CheckEdit(caller.Role, t.Status); err != nil {
			return nil, err
		}
		changes := in.Apply(t)
		if len(changes) == 0 {
			changed = nil
			return changes, nil
		}
		balance.Apply(t)
		if in.TouchesParty() {
			changes["party_balance"] = t.PartyBalance
		}
		if in.TouchesGadi() {
			changes["gadi_balance"] = t.GadiBalance
		}
		changed = changedKeys(changes)
		return changes, nil
	})
	if err != nil {
		return nil, err
	}

	if len(changed) > 0 {
		log.WithFields(log.Fields{
			"trip_id": tripID,
			"by":      caller.Identity,
			"fields":  changed,
		}).Info("Trip updated")
		m.publish(ctx, models.EventTripUpdated, tripID, caller)
	}
	return updated, nil
}

func changedKeys(changes bson.M) []string {
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	return keys
}

// Delete removes a trip for good. Only admins may delete.
func (m *Manager) Delete(ctx context.Context, tripID string, caller models.Caller) error {
	if err := access.Require(caller.Role, access.ActionDeleteTrip); err != nil {
		return err
	}
	if err := m.store.DeleteTrip(ctx, tripID); err != nil {
		return err
	}
	log.WithFields(log.Fields{"trip_id": tripID, "by": caller.Identity}).Info("Trip deleted")
	m.publish(ctx, models.EventTripDeleted, tripID, caller)
	return nil
}

// AttachPOD stores the uploaded proof of delivery and points the trip at it,
// replacing any earlier attachment. It returns the storage key.
func (m *Manager) AttachPOD(ctx context.Context, tripID, filename string, r io.Reader, caller models.Caller) (string, error) {
	if err := access.Require(caller.Role, access.ActionAttachPOD); err != nil {
		return "", err
	}
	trip, err := m.store.FindTripByID(ctx, tripID)
	if err != nil {
		return "", err
	}
	if !access.Visible(caller, trip) {
		return "", fmt.Errorf("trip %s: %w", tripID, apperr.ErrNotFound)
	}

	key := pod.Key(tripID, filename)
	if err := m.pods.Put(ctx, key, r); err != nil {
		return "", fmt.Errorf("store pod: %w", err)
	}
	if err := m.store.SetTripPOD(ctx, tripID, key); err != nil {
		return "", err
	}
	log.WithFields(log.Fields{"trip_id": tripID, "key": key, "by": caller.Identity}).Info("POD attached")
	m.publish(ctx, models.EventTripPODAttached, tripID, caller)
	return key, nil
}

// publish never fails the write that triggered it.
func (m *Manager) publish(ctx context.Context, typ models.EventType, tripID string, caller models.Caller) {
	event := models.TripEvent{Type: typ, TripID: tripID, Actor: caller.Identity, At: m.now().UTC()}
	if err := m.events.Publish(ctx, event); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"event":   typ,
			"trip_id": tripID,
		}).Warn("Failed to publish trip event")
	}
}
