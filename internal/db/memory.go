package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ukydev/freight-ledger/internal/apperr"
	"github.com/ukydev/freight-ledger/internal/models"
)

// MemoryTripStore is a process-local TripStore. It backs STORAGE=memory and
// the tests; writes are serialized by one lock and reads share it.
type MemoryTripStore struct {
	mu    sync.RWMutex
	trips map[string]*memoryTrip
	seq   int64
}

type memoryTrip struct {
	trip  models.Trip
	order int64
}

// NewMemoryTripStore returns an empty store.
func NewMemoryTripStore() *MemoryTripStore {
	return &MemoryTripStore{trips: make(map[string]*memoryTrip)}
}

func (s *MemoryTripStore) InsertTrip(_ context.Context, trip models.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.trips[trip.TripID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTripID, trip.TripID)
	}
	s.seq++
	s.trips[trip.TripID] = &memoryTrip{trip: cloneTrip(trip), order: s.seq}
	return nil
}

func (s *MemoryTripStore) FindTripByID(_ context.Context, tripID string) (*models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mt, ok := s.trips[tripID]
	if !ok {
		return nil, notFound(tripID)
	}
	t := cloneTrip(mt.trip)
	return &t, nil
}

// FindTrips snapshots the matching trips at call time.
func (s *MemoryTripStore) FindTrips(_ context.Context, filter TripFilter) (TripCursor, error) {
	s.mu.RLock()
	matched := make([]*memoryTrip, 0, len(s.trips))
	for _, mt := range s.trips {
		if matches(filter, &mt.trip) {
			matched = append(matched, mt)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.trip.CreatedAt.Equal(b.trip.CreatedAt) {
			return a.trip.CreatedAt.After(b.trip.CreatedAt)
		}
		return a.order > b.order
	})
	out := make([]models.Trip, len(matched))
	for i, mt := range matched {
		out[i] = cloneTrip(mt.trip)
	}
	s.mu.RUnlock()
	return &sliceCursor{trips: out, pos: -1}, nil
}

func matches(f TripFilter, t *models.Trip) bool {
	if f.MotorOwnerMobile != nil {
		if t.MotorOwnerMobile == nil || *t.MotorOwnerMobile != *f.MotorOwnerMobile {
			return false
		}
	}
	return f.Loading.Contains(t.LoadingDate)
}

// ApplyTripUpdate runs mutate under the write lock.
func (s *MemoryTripStore) ApplyTripUpdate(_ context.Context, tripID string, mutate TripMutation) (*models.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mt, ok := s.trips[tripID]
	if !ok {
		return nil, notFound(tripID)
	}
	next := cloneTrip(mt.trip)
	changes, err := mutate(&next)
	if err != nil {
		return nil, err
	}
	if len(changes) > 0 {
		next.Revision++
		mt.trip = cloneTrip(next)
	}
	return &next, nil
}

func (s *MemoryTripStore) SetTripPOD(_ context.Context, tripID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mt, ok := s.trips[tripID]
	if !ok {
		return notFound(tripID)
	}
	mt.trip.PODFilename = &key
	mt.trip.Revision++
	return nil
}

func (s *MemoryTripStore) DeleteTrip(_ context.Context, tripID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trips[tripID]; !ok {
		return notFound(tripID)
	}
	delete(s.trips, tripID)
	return nil
}

func (s *MemoryTripStore) MaxTripSequence(_ context.Context, year int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	highest := 0
	for id := range s.trips {
		y, seq, err := models.ParseTripID(id)
		if err == nil && y == year && seq > highest {
			highest = seq
		}
	}
	return highest, nil
}

func (s *MemoryTripStore) Ping(context.Context) error { return nil }

type sliceCursor struct {
	trips []models.Trip
	pos   int
}

func (c *sliceCursor) Next(ctx context.Context) bool {
	if ctx.Err() != nil || c.pos+1 >= len(c.trips) {
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Decode(trip *models.Trip) error {
	if c.pos < 0 || c.pos >= len(c.trips) {
		return fmt.Errorf("cursor not positioned on a trip")
	}
	*trip = c.trips[c.pos]
	return nil
}

func (c *sliceCursor) Err() error                  { return nil }
func (c *sliceCursor) Close(context.Context) error { return nil }

// cloneTrip copies t so stored trips share no pointers with callers.
func cloneTrip(t models.Trip) models.Trip {
	t.UnloadingDate = cloneString(t.UnloadingDate)
	t.MotorOwnerName = cloneString(t.MotorOwnerName)
	t.MotorOwnerMobile = cloneString(t.MotorOwnerMobile)
	t.Weight = cloneString(t.Weight)
	t.Himmali = cloneString(t.Himmali)
	t.Remarks = cloneString(t.Remarks)
	t.PODFilename = cloneString(t.PODFilename)
	t.GadiBhada = cloneAmount(t.GadiBhada)
	t.GadiAdvance = cloneAmount(t.GadiAdvance)
	t.GadiBalance = cloneAmount(t.GadiBalance)
	t.PartyFreight = cloneAmount(t.PartyFreight)
	t.PartyAdvance = cloneAmount(t.PartyAdvance)
	t.PartyBalance = cloneAmount(t.PartyBalance)
	t.TDS = cloneAmount(t.TDS)
	return t
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneAmount(p *decimal.Decimal) *decimal.Decimal {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// MemoryUserCollection is a process-local UserCollection.
type MemoryUserCollection struct {
	mu    sync.RWMutex
	users map[string]models.User
}

// NewMemoryUserCollection returns an empty user store.
func NewMemoryUserCollection() *MemoryUserCollection {
	return &MemoryUserCollection{users: make(map[string]models.User)}
}

func (c *MemoryUserCollection) InsertUser(_ context.Context, user models.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	user.Email = normalizeEmail(user.Email)
	if _, exists := c.users[user.Email]; exists {
		return fmt.Errorf("%w: email already registered", apperr.ErrConflict)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	c.users[user.Email] = user
	return nil
}

func (c *MemoryUserCollection) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[normalizeEmail(email)]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", email, apperr.ErrNotFound)
	}
	return &u, nil
}
