// Package analytics rolls trips up into per-counterparty outstanding
// balances. Rows are computed on demand and never stored.
package analytics

import (
	"cmp"
	"iter"
	"slices"

	"github.com/shopspring/decimal"
	"github.com/ukydev/freight-ledger/internal/models"
)

type counterparty struct {
	name   string
	mobile string
}

type totals struct {
	trips  int
	agreed decimal.Decimal
	paid   decimal.Decimal
}

func (t *totals) add(agreed, paid *decimal.Decimal) {
	t.trips++
	if agreed != nil {
		t.agreed = t.agreed.Add(*agreed)
	}
	if paid != nil {
		t.paid = t.paid.Add(*paid)
	}
}

// ByParty groups trips on (party_name, party_mobile) and sums freight and
// advances received.
func ByParty(trips iter.Seq2[models.Trip, error]) ([]models.PartyAnalytics, error) {
	groups, err := group(trips, func(t *models.Trip) (counterparty, bool) {
		return counterparty{t.PartyName, t.PartyMobile}, true
	}, func(t *models.Trip) (*decimal.Decimal, *decimal.Decimal) {
		return t.PartyFreight, t.PartyAdvance
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.PartyAnalytics, 0, len(groups))
	for key, sum := range groups {
		out = append(out, models.PartyAnalytics{
			PartyName:          key.name,
			PartyMobile:        key.mobile,
			TotalTrips:         sum.trips,
			TotalFreight:       sum.agreed,
			TotalPaid:          sum.paid,
			OutstandingBalance: sum.agreed.Sub(sum.paid),
		})
	}
	slices.SortFunc(out, func(a, b models.PartyAnalytics) int {
		return cmp.Or(cmp.Compare(a.PartyName, b.PartyName), cmp.Compare(a.PartyMobile, b.PartyMobile))
	})
	return out, nil
}

// ByMotorOwner groups hired-vehicle trips on (motor_owner_name,
// motor_owner_mobile) and sums bhada and advances paid. Own-vehicle trips and
// trips with no owner name are skipped.
func ByMotorOwner(trips iter.Seq2[models.Trip, error]) ([]models.MotorOwnerAnalytics, error) {
	groups, err := group(trips, func(t *models.Trip) (counterparty, bool) {
		if t.IsOwnVehicle || t.MotorOwnerName == nil {
			return counterparty{}, false
		}
		key := counterparty{name: *t.MotorOwnerName}
		if t.MotorOwnerMobile != nil {
			key.mobile = *t.MotorOwnerMobile
		}
		return key, true
	}, func(t *models.Trip) (*decimal.Decimal, *decimal.Decimal) {
		return t.GadiBhada, t.GadiAdvance
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.MotorOwnerAnalytics, 0, len(groups))
	for key, sum := range groups {
		out = append(out, models.MotorOwnerAnalytics{
			MotorOwnerName:     key.name,
			MotorOwnerMobile:   key.mobile,
			TotalTrips:         sum.trips,
			TotalBhada:         sum.agreed,
			TotalPaid:          sum.paid,
			OutstandingBalance: sum.agreed.Sub(sum.paid),
		})
	}
	slices.SortFunc(out, func(a, b models.MotorOwnerAnalytics) int {
		return cmp.Or(cmp.Compare(a.MotorOwnerName, b.MotorOwnerName), cmp.Compare(a.MotorOwnerMobile, b.MotorOwnerMobile))
	})
	return out, nil
}

func group(
	trips iter.Seq2[models.Trip, error],
	keyOf func(*models.Trip) (counterparty, bool),
	amounts func(*models.Trip) (agreed, paid *decimal.Decimal),
) (map[counterparty]*totals, error) {
	groups := make(map[counterparty]*totals)
	for t, err := range trips {
		if err != nil {
			return nil, err
		}
		key, ok := keyOf(&t)
		if !ok {
			continue
		}
		sum, ok := groups[key]
		if !ok {
			sum = &totals{}
			groups[key] = sum
		}
		sum.add(amounts(&t))
	}
	return groups, nil
}
