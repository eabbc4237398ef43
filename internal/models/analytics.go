package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PartyAnalytics is the outstanding-balance rollup for one receiving party.
type PartyAnalytics struct {
	PartyName          string          `json:"party_name"`
	PartyMobile        string          `json:"party_mobile"`
	TotalTrips         int             `json:"total_trips"`
	TotalFreight       decimal.Decimal `json:"total_freight"`
	TotalPaid          decimal.Decimal `json:"total_paid"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
}

// MotorOwnerAnalytics is the outstanding-balance rollup for one hired
// vehicle owner.
type MotorOwnerAnalytics struct {
	MotorOwnerName     string          `json:"motor_owner_name"`
	MotorOwnerMobile   string          `json:"motor_owner_mobile"`
	TotalTrips         int             `json:"total_trips"`
	TotalBhada         decimal.Decimal `json:"total_bhada"`
	TotalPaid          decimal.Decimal `json:"total_paid"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
}

// EventType names a trip lifecycle event.
type EventType string

const (
	EventTripCreated     EventType = "trip.created"
	EventTripUpdated     EventType = "trip.updated"
	EventTripDeleted     EventType = "trip.deleted"
	EventTripPODAttached EventType = "trip.pod_attached"
)

// TripEvent is published after a committed trip write.
type TripEvent struct {
	Type   EventType `json:"type"`
	TripID string    `json:"trip_id"`
	Actor  string    `json:"actor"`
	At     time.Time `json:"at"`
}
