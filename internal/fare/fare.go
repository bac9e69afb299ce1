// Package fare prices rides. Compute is a pure function: identical inputs
// always produce an identical breakdown, which refund and audit flows rely on.
package fare

import (
	"fmt"
	"math"

	"github.com/example/ride-dispatch/internal/models"
)

const (
	platformFeeRate = 0.05
	taxRate         = 0.18
)

// Rate holds the per-class pricing parameters in whole currency units.
type Rate struct {
	Base    float64
	PerKm   float64
	PerMin  float64
	MinFare int64
}

// Rates is the class rate card. Adjusting it changes pricing globally; it is
// never mutated at runtime.
var Rates = map[models.VehicleClass]Rate{
	models.ClassBike:  {Base: 20, PerKm: 8, PerMin: 1, MinFare: 30},
	models.ClassAuto:  {Base: 30, PerKm: 11, PerMin: 1.5, MinFare: 40},
	models.ClassSedan: {Base: 50, PerKm: 15, PerMin: 2, MinFare: 60},
	models.ClassSUV:   {Base: 80, PerKm: 20, PerMin: 3, MinFare: 100},
}

// Compute builds a fare breakdown from trip distance, duration, vehicle class,
// surge multiplier and a flat discount. All intermediate math stays in float64;
// rounding to whole currency units happens once at the end so rounding error
// never compounds.
func Compute(distanceKm, durationMin float64, class models.VehicleClass, surge float64, discount int64) (models.FareBreakdown, error) {
	rate, ok := Rates[class]
	if !ok {
		return models.FareBreakdown{}, fmt.Errorf("fare: unknown vehicle class %q", class)
	}
	if distanceKm < 0 || durationMin < 0 {
		return models.FareBreakdown{}, fmt.Errorf("fare: negative distance or duration")
	}
	if surge < 1 {
		surge = 1
	}
	if discount < 0 {
		discount = 0
	}

	base := rate.Base
	distanceFare := distanceKm * rate.PerKm
	timeFare := durationMin * rate.PerMin
	subtotal := base + distanceFare + timeFare

	var surgeFare float64
	if surge > 1 {
		surgeFare = subtotal * (surge - 1)
		subtotal += surgeFare
	}

	fee := subtotal * platformFeeRate
	tax := subtotal * taxRate
	total := math.Round(subtotal + fee + tax - float64(discount))
	if total < float64(rate.MinFare) {
		total = float64(rate.MinFare)
	}

	return models.FareBreakdown{
		Base:        int64(math.Round(base)),
		Distance:    int64(math.Round(distanceFare)),
		Time:        int64(math.Round(timeFare)),
		Surge:       int64(math.Round(surgeFare)),
		PlatformFee: int64(math.Round(fee)),
		Tax:         int64(math.Round(tax)),
		Discount:    discount,
		Total:       int64(total),
		SurgeFactor: surge,
	}, nil
}
