// Package balance derives the two outstanding balances of a trip.
package balance

import (
	"github.com/shopspring/decimal"
	"github.com/ukydev/freight-ledger/internal/models"
)

// Party returns freight minus advance, a missing advance counting as zero.
// A missing freight yields nil.
func Party(freight, advance *decimal.Decimal) *decimal.Decimal {
	if freight == nil {
		return nil
	}
	b := freight.Sub(orZero(advance))
	return &b
}

// Gadi returns bhada minus advance for a hired vehicle. Own vehicles and
// trips with no agreed bhada have no gadi balance.
func Gadi(isOwnVehicle bool, bhada, advance *decimal.Decimal) *decimal.Decimal {
	if isOwnVehicle || bhada == nil {
		return nil
	}
	b := bhada.Sub(orZero(advance))
	return &b
}

// Apply recomputes both balances on t from its current fields.
func Apply(t *models.Trip) {
	t.PartyBalance = Party(t.PartyFreight, t.PartyAdvance)
	t.GadiBalance = Gadi(t.IsOwnVehicle, t.GadiBhada, t.GadiAdvance)
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
