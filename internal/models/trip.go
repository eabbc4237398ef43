package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ukydev/freight-ledger/internal/apperr"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	// StatusLoaded is the status given to a trip created without one.
	StatusLoaded = "Loaded"
	// StatusCompleted locks a trip against edits by non-admin roles.
	StatusCompleted = "Completed"

	SettlementPending = "Pending"
	SettlementSettled = "Settled"

	// DateLayout is the wire and storage format of loading/unloading dates.
	DateLayout = "2006-01-02"
)

// Trip is one shipment record: a vehicle, its owner when hired, a receiving
// party, and the two money ledgers between them.
type Trip struct {
	ID primitive.ObjectID `json:"-" bson:"_id,omitempty"`

	TripID        string  `json:"trip_id" bson:"trip_id"`
	LoadingDate   string  `json:"loading_date" bson:"loading_date"`
	UnloadingDate *string `json:"unloading_date" bson:"unloading_date"`
	VehicleNumber string  `json:"vehicle_number" bson:"vehicle_number"`
	DriverMobile  string  `json:"driver_mobile" bson:"driver_mobile"`

	IsOwnVehicle     bool             `json:"is_own_vehicle" bson:"is_own_vehicle"`
	MotorOwnerName   *string          `json:"motor_owner_name" bson:"motor_owner_name"`
	MotorOwnerMobile *string          `json:"motor_owner_mobile" bson:"motor_owner_mobile"`
	GadiBhada        *decimal.Decimal `json:"gadi_bhada" bson:"gadi_bhada"`
	GadiAdvance      *decimal.Decimal `json:"gadi_advance" bson:"gadi_advance"`
	GadiBalance      *decimal.Decimal `json:"gadi_balance" bson:"gadi_balance"`

	PartyName    string           `json:"party_name" bson:"party_name"`
	PartyMobile  string           `json:"party_mobile" bson:"party_mobile"`
	PartyFreight *decimal.Decimal `json:"party_freight,omitempty" bson:"party_freight"`
	PartyAdvance *decimal.Decimal `json:"party_advance" bson:"party_advance"`
	PartyBalance *decimal.Decimal `json:"party_balance,omitempty" bson:"party_balance"`
	TDS          *decimal.Decimal `json:"tds" bson:"tds"` // withheld tax, informational

	FromLocation string  `json:"from_location" bson:"from_location"`
	ToLocation   string  `json:"to_location" bson:"to_location"`
	Weight       *string `json:"weight" bson:"weight"`
	Himmali      *string `json:"himmali" bson:"himmali"`
	Remarks      *string `json:"remarks" bson:"remarks"`

	Status           string  `json:"status" bson:"status"`
	SettlementStatus string  `json:"settlement_status" bson:"settlement_status"`
	PODFilename      *string `json:"pod_filename" bson:"pod_filename"`

	CreatedBy string    `json:"created_by" bson:"created_by"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`

	// Revision is bumped on every update and used for compare-and-set writes.
	Revision int64 `json:"-" bson:"revision"`
}

// FormatTripID renders the identifier of the seq-th trip of year.
func FormatTripID(year, seq int) string {
	return fmt.Sprintf("%d_%d", year, seq)
}

// ParseTripID splits an identifier of the form "<year>_<sequence>".
func ParseTripID(id string) (year, seq int, err error) {
	y, s, ok := strings.Cut(id, "_")
	if !ok {
		return 0, 0, fmt.Errorf("malformed trip id %q", id)
	}
	if year, err = strconv.Atoi(y); err != nil {
		return 0, 0, fmt.Errorf("malformed trip id %q: %w", id, err)
	}
	if seq, err = strconv.Atoi(s); err != nil || seq < 1 {
		return 0, 0, fmt.Errorf("malformed trip id %q", id)
	}
	return year, seq, nil
}

// TripCreate is the payload accepted when a trip is created.
type TripCreate struct {
	LoadingDate      string           `json:"loading_date"`
	UnloadingDate    *string          `json:"unloading_date"`
	VehicleNumber    string           `json:"vehicle_number"`
	DriverMobile     string           `json:"driver_mobile"`
	IsOwnVehicle     *bool            `json:"is_own_vehicle"`
	MotorOwnerName   *string          `json:"motor_owner_name"`
	MotorOwnerMobile *string          `json:"motor_owner_mobile"`
	GadiBhada        *decimal.Decimal `json:"gadi_bhada"`
	GadiAdvance      *decimal.Decimal `json:"gadi_advance"`
	PartyName        string           `json:"party_name"`
	PartyMobile      string           `json:"party_mobile"`
	PartyFreight     *decimal.Decimal `json:"party_freight"`
	PartyAdvance     *decimal.Decimal `json:"party_advance"`
	TDS              *decimal.Decimal `json:"tds"`
	FromLocation     string           `json:"from_location"`
	ToLocation       string           `json:"to_location"`
	Weight           *string          `json:"weight"`
	Himmali          *string          `json:"himmali"`
	Remarks          *string          `json:"remarks"`
	Status           string           `json:"status"`
}

// Validate checks required fields, date formats and amount signs.
func (c *TripCreate) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"vehicle_number", c.VehicleNumber},
		{"driver_mobile", c.DriverMobile},
		{"party_name", c.PartyName},
		{"party_mobile", c.PartyMobile},
		{"from_location", c.FromLocation},
		{"to_location", c.ToLocation},
		{"loading_date", c.LoadingDate},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return apperr.Invalid(r.field, "is required")
		}
	}
	if c.IsOwnVehicle == nil {
		return apperr.Invalid("is_own_vehicle", "is required")
	}
	if c.PartyFreight == nil {
		return apperr.Invalid("party_freight", "is required")
	}
	if err := validateDate("loading_date", c.LoadingDate); err != nil {
		return err
	}
	if c.UnloadingDate != nil {
		if err := validateDate("unloading_date", *c.UnloadingDate); err != nil {
			return err
		}
	}
	amounts := map[string]*decimal.Decimal{
		"gadi_bhada":    c.GadiBhada,
		"gadi_advance":  c.GadiAdvance,
		"party_freight": c.PartyFreight,
		"party_advance": c.PartyAdvance,
		"tds":           c.TDS,
	}
	for field, v := range amounts {
		if err := validateAmount(field, v); err != nil {
			return err
		}
	}
	return nil
}

// TripUpdate is a partial update. Absent fields are left unchanged; a field
// present with null is cleared.
type TripUpdate struct {
	LoadingDate      Optional[string]          `json:"loading_date"`
	UnloadingDate    Optional[string]          `json:"unloading_date"`
	VehicleNumber    Optional[string]          `json:"vehicle_number"`
	DriverMobile     Optional[string]          `json:"driver_mobile"`
	IsOwnVehicle     Optional[bool]            `json:"is_own_vehicle"`
	MotorOwnerName   Optional[string]          `json:"motor_owner_name"`
	MotorOwnerMobile Optional[string]          `json:"motor_owner_mobile"`
	GadiBhada        Optional[decimal.Decimal] `json:"gadi_bhada"`
	GadiAdvance      Optional[decimal.Decimal] `json:"gadi_advance"`
	PartyName        Optional[string]          `json:"party_name"`
	PartyMobile      Optional[string]          `json:"party_mobile"`
	PartyFreight     Optional[decimal.Decimal] `json:"party_freight"`
	PartyAdvance     Optional[decimal.Decimal] `json:"party_advance"`
	TDS              Optional[decimal.Decimal] `json:"tds"`
	FromLocation     Optional[string]          `json:"from_location"`
	ToLocation       Optional[string]          `json:"to_location"`
	Weight           Optional[string]          `json:"weight"`
	Himmali          Optional[string]          `json:"himmali"`
	Remarks          Optional[string]          `json:"remarks"`
	Status           Optional[string]          `json:"status"`
	SettlementStatus Optional[string]          `json:"settlement_status"`
}

// Validate rejects clearing a required field and malformed values.
func (u *TripUpdate) Validate() error {
	required := []struct {
		field string
		value Optional[string]
	}{
		{"loading_date", u.LoadingDate},
		{"vehicle_number", u.VehicleNumber},
		{"driver_mobile", u.DriverMobile},
		{"party_name", u.PartyName},
		{"party_mobile", u.PartyMobile},
		{"from_location", u.FromLocation},
		{"to_location", u.ToLocation},
		{"status", u.Status},
		{"settlement_status", u.SettlementStatus},
	}
	for _, r := range required {
		if r.value.Set && (!r.value.Valid || strings.TrimSpace(r.value.Value) == "") {
			return apperr.Invalid(r.field, "cannot be cleared")
		}
	}
	if u.IsOwnVehicle.Set && !u.IsOwnVehicle.Valid {
		return apperr.Invalid("is_own_vehicle", "cannot be cleared")
	}
	if u.PartyFreight.Set && !u.PartyFreight.Valid {
		return apperr.Invalid("party_freight", "cannot be cleared")
	}
	if u.LoadingDate.Valid {
		if err := validateDate("loading_date", u.LoadingDate.Value); err != nil {
			return err
		}
	}
	if u.UnloadingDate.Valid {
		if err := validateDate("unloading_date", u.UnloadingDate.Value); err != nil {
			return err
		}
	}
	amounts := map[string]Optional[decimal.Decimal]{
		"gadi_bhada":    u.GadiBhada,
		"gadi_advance":  u.GadiAdvance,
		"party_freight": u.PartyFreight,
		"party_advance": u.PartyAdvance,
		"tds":           u.TDS,
	}
	for field, v := range amounts {
		if err := validateAmount(field, v.Ptr()); err != nil {
			return err
		}
	}
	return nil
}

func validateDate(field, value string) error {
	if _, err := time.Parse(DateLayout, value); err != nil {
		return apperr.Invalid(field, "must be a YYYY-MM-DD date")
	}
	return nil
}

func validateAmount(field string, v *decimal.Decimal) error {
	if v != nil && v.IsNegative() {
		return apperr.Invalid(field, "must not be negative")
	}
	return nil
}

// DateRange is a half-open [From, To) filter on loading_date. Empty bounds
// are open.
type DateRange struct {
	From string
	To   string
}

// MonthRange returns the range covering one calendar month.
func MonthRange(year int, month time.Month) DateRange {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return DateRange{
		From: start.Format(DateLayout),
		To:   start.AddDate(0, 1, 0).Format(DateLayout),
	}
}

// Contains reports whether date falls inside the range.
func (r DateRange) Contains(date string) bool {
	if r.From != "" && date < r.From {
		return false
	}
	if r.To != "" && date >= r.To {
		return false
	}
	return true
}

// Apply merges the fields present in u into t and returns the changed fields
// keyed by their stored name. Balances are not touched here.
func (u *TripUpdate) Apply(t *Trip) bson.M {
	changes := bson.M{}
	setString(changes, "loading_date", u.LoadingDate, &t.LoadingDate)
	setStringPtr(changes, "unloading_date", u.UnloadingDate, &t.UnloadingDate)
	setString(changes, "vehicle_number", u.VehicleNumber, &t.VehicleNumber)
	setString(changes, "driver_mobile", u.DriverMobile, &t.DriverMobile)
	if u.IsOwnVehicle.Valid {
		t.IsOwnVehicle = u.IsOwnVehicle.Value
		changes["is_own_vehicle"] = t.IsOwnVehicle
	}
	setStringPtr(changes, "motor_owner_name", u.MotorOwnerName, &t.MotorOwnerName)
	setStringPtr(changes, "motor_owner_mobile", u.MotorOwnerMobile, &t.MotorOwnerMobile)
	setAmount(changes, "gadi_bhada", u.GadiBhada, &t.GadiBhada)
	setAmount(changes, "gadi_advance", u.GadiAdvance, &t.GadiAdvance)
	setString(changes, "party_name", u.PartyName, &t.PartyName)
	setString(changes, "party_mobile", u.PartyMobile, &t.PartyMobile)
	setAmount(changes, "party_freight", u.PartyFreight, &t.PartyFreight)
	setAmount(changes, "party_advance", u.PartyAdvance, &t.PartyAdvance)
	setAmount(changes, "tds", u.TDS, &t.TDS)
	setString(changes, "from_location", u.FromLocation, &t.FromLocation)
	setString(changes, "to_location", u.ToLocation, &t.ToLocation)
	setStringPtr(changes, "weight", u.Weight, &t.Weight)
	setStringPtr(changes, "himmali", u.Himmali, &t.Himmali)
	setStringPtr(changes, "remarks", u.Remarks, &t.Remarks)
	setString(changes, "status", u.Status, &t.Status)
	setString(changes, "settlement_status", u.SettlementStatus, &t.SettlementStatus)
	return changes
}

// TouchesGadi reports whether u can change the gadi balance.
func (u *TripUpdate) TouchesGadi() bool {
	return u.IsOwnVehicle.Set || u.GadiBhada.Set || u.GadiAdvance.Set
}

// TouchesParty reports whether u can change the party balance.
func (u *TripUpdate) TouchesParty() bool {
	return u.PartyFreight.Set || u.PartyAdvance.Set
}

func setString(changes bson.M, key string, o Optional[string], dst *string) {
	if o.Valid {
		*dst = o.Value
		changes[key] = o.Value
	}
}

func setStringPtr(changes bson.M, key string, o Optional[string], dst **string) {
	if o.Set {
		*dst = o.Ptr()
		changes[key] = *dst
	}
}

func setAmount(changes bson.M, key string, o Optional[decimal.Decimal], dst **decimal.Decimal) {
	if o.Set {
		*dst = o.Ptr()
		changes[key] = *dst
	}
}
