// Package access decides what each role may do with a trip and which parts of
// a trip it may see.
package access

import (
	"fmt"

	"github.com/ukydev/freight-ledger/internal/apperr"
	"github.com/ukydev/freight-ledger/internal/models"
)

// Action is an operation gated by role.
type Action string

const (
	ActionCreateTrip    Action = "create_trip"
	ActionUpdateTrip    Action = "update_trip"
	ActionDeleteTrip    Action = "delete_trip"
	ActionAttachPOD     Action = "attach_pod"
	ActionViewAnalytics Action = "view_analytics"
	ActionExportTrips   Action = "export_trips"
)

// Allowed reports whether role may perform action at all. Row-level and
// status rules are checked separately.
func Allowed(role models.Role, action Action) bool {
	switch role {
	case models.RoleAdmin:
		return true
	case models.RoleUser:
		return action == ActionCreateTrip || action == ActionUpdateTrip || action == ActionAttachPOD
	case models.RoleMotorOwner:
		return action == ActionAttachPOD
	default:
		return false
	}
}

// Require returns ErrForbidden when role may not perform action.
func Require(role models.Role, action Action) error {
	if !Allowed(role, action) {
		return fmt.Errorf("%w: role %q may not %s", apperr.ErrForbidden, role, action)
	}
	return nil
}

// CheckEdit enforces the completed-trip lock: once a trip is Completed only
// an admin may change it.
func CheckEdit(role models.Role, storedStatus string) error {
	if err := Require(role, ActionUpdateTrip); err != nil {
		return err
	}
	switch role {
	case models.RoleAdmin:
		return nil
	case models.RoleUser:
		if storedStatus == models.StatusCompleted {
			return fmt.Errorf("%w: cannot edit completed trips", apperr.ErrForbidden)
		}
		return nil
	default:
		return fmt.Errorf("%w: role %q may not edit trips", apperr.ErrForbidden, role)
	}
}

// OwnerScope returns the motor_owner_mobile every visible trip must carry, or
// ok=false when the caller sees all rows.
func OwnerScope(c models.Caller) (mobile string, ok bool) {
	switch c.Role {
	case models.RoleAdmin, models.RoleUser:
		return "", false
	case models.RoleMotorOwner:
		return c.Identity, true
	default:
		return "", true
	}
}

// Visible is the row predicate.
func Visible(c models.Caller, t *models.Trip) bool {
	switch c.Role {
	case models.RoleAdmin, models.RoleUser:
		return true
	case models.RoleMotorOwner:
		return c.Identity != "" && t.MotorOwnerMobile != nil && *t.MotorOwnerMobile == c.Identity
	default:
		return false
	}
}

// HiddenFields lists the trip fields removed from records returned to role.
// Party balance is hidden along with freight since balance plus advance
// reconstructs the freight.
func HiddenFields(role models.Role) []string {
	switch role {
	case models.RoleAdmin, models.RoleUser:
		return nil
	default:
		return []string{"party_freight", "party_balance"}
	}
}

// Project returns the copy of t that c is allowed to see.
func Project(c models.Caller, t models.Trip) models.Trip {
	for _, f := range HiddenFields(c.Role) {
		switch f {
		case "party_freight":
			t.PartyFreight = nil
		case "party_balance":
			t.PartyBalance = nil
		}
	}
	return t
}

// Filter applies the row predicate and field projection to t. ok is false
// when the caller may not see the trip at all.
func Filter(c models.Caller, t *models.Trip) (view models.Trip, ok bool) {
	if t == nil || !Visible(c, t) {
		return models.Trip{}, false
	}
	return Project(c, *t), true
}
