// Package dosing computes dispense quantities from dosing strategies.
//
// A Strategy is one of Meal, WhenNeeded, Periodic or Other. Each variant
// carries only its own parameters and Quantity switches over the variant;
// nothing in this package performs I/O.
package dosing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/clinic/dispensary/internal/platform/apperr"
)

type Kind string

const (
	KindMeal       Kind = "MEAL"
	KindWhenNeeded Kind = "WHEN_NEEDED"
	KindPeriodic   Kind = "PERIODIC"
	KindOther      Kind = "OTHER"
)

// ErrInvalidStrategy is wrapped by every parameter validation failure.
var ErrInvalidStrategy = apperr.Validation("invalid dosing strategy")

// Strategy is implemented only by the variants in this package.
type Strategy interface {
	Kind() Kind
	isStrategy()
}

// Slot is one meal slot of a Meal strategy.
type Slot struct {
	Active bool            `json:"active"`
	Dose   decimal.Decimal `json:"dose"`
}

type MealTiming string

const (
	BeforeMeal MealTiming = "BEFORE"
	AfterMeal  MealTiming = "AFTER"
	WithMeal   MealTiming = "WITH"
)

// Meal doses are taken with breakfast, lunch and/or dinner for ForDays days.
type Meal struct {
	Breakfast Slot       `json:"breakfast"`
	Lunch     Slot       `json:"lunch"`
	Dinner    Slot       `json:"dinner"`
	ForDays   int        `json:"for_days"`
	Timing    MealTiming `json:"timing,omitempty"`
}

// WhenNeeded is an as-needed dose; Times is the upper bound of uses.
type WhenNeeded struct {
	Dose  decimal.Decimal `json:"dose"`
	Times int             `json:"times"`
}

// Periodic is a dose every IntervalHours hours over ForDays days.
type Periodic struct {
	Dose          decimal.Decimal `json:"dose"`
	IntervalHours int             `json:"interval_hours"`
	ForDays       int             `json:"for_days"`
}

// Other is a fixed schedule described in free text.
type Other struct {
	Dose    decimal.Decimal `json:"dose"`
	Times   int             `json:"times"`
	Details string          `json:"details,omitempty"`
}

func (Meal) Kind() Kind       { return KindMeal }
func (WhenNeeded) Kind() Kind { return KindWhenNeeded }
func (Periodic) Kind() Kind   { return KindPeriodic }
func (Other) Kind() Kind      { return KindOther }

func (Meal) isStrategy()       {}
func (WhenNeeded) isStrategy() {}
func (Periodic) isStrategy()   {}
func (Other) isStrategy()      {}

var validTimings = map[MealTiming]bool{
	"": true, BeforeMeal: true, AfterMeal: true, WithMeal: true,
}

// Validate checks the parameters of s without computing its quantity.
func Validate(s Strategy) error {
	switch v := s.(type) {
	case Meal:
		for name, slot := range map[string]Slot{"breakfast": v.Breakfast, "lunch": v.Lunch, "dinner": v.Dinner} {
			if err := checkDose(name+" dose", slot.Dose); err != nil {
				return err
			}
		}
		if v.ForDays < 0 {
			return fmt.Errorf("%w: for_days must not be negative", ErrInvalidStrategy)
		}
		if !validTimings[v.Timing] {
			return fmt.Errorf("%w: unknown meal timing %q", ErrInvalidStrategy, v.Timing)
		}
	case WhenNeeded:
		return checkDoseTimes(v.Dose, v.Times)
	case Periodic:
		if err := checkDose("dose", v.Dose); err != nil {
			return err
		}
		if v.IntervalHours <= 0 {
			return fmt.Errorf("%w: interval_hours must be greater than zero", ErrInvalidStrategy)
		}
		if v.ForDays < 0 {
			return fmt.Errorf("%w: for_days must not be negative", ErrInvalidStrategy)
		}
	case Other:
		return checkDoseTimes(v.Dose, v.Times)
	case nil:
		return fmt.Errorf("%w: strategy is required", ErrInvalidStrategy)
	default:
		return fmt.Errorf("%w: unsupported strategy %T", ErrInvalidStrategy, s)
	}
	return nil
}

// DoseScale is the number of fractional digits a stored quantity keeps.
const DoseScale = 3

// checkDose rejects negative doses and doses finer than DoseScale digits,
// which storage would round.
func checkDose(field string, dose decimal.Decimal) error {
	if dose.IsNegative() {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidStrategy, field)
	}
	if !dose.Equal(dose.Truncate(DoseScale)) {
		return fmt.Errorf("%w: %s allows at most %d decimal places", ErrInvalidStrategy, field, DoseScale)
	}
	return nil
}

func checkDoseTimes(dose decimal.Decimal, times int) error {
	if err := checkDose("dose", dose); err != nil {
		return err
	}
	if times < 0 {
		return fmt.Errorf("%w: times must not be negative", ErrInvalidStrategy)
	}
	return nil
}

// Quantity returns the total number of units to dispense for s. A meal
// strategy with every slot inactive yields zero; callers decide whether that
// is acceptable.
func Quantity(s Strategy) (decimal.Decimal, error) {
	if err := Validate(s); err != nil {
		return decimal.Zero, err
	}

	switch v := s.(type) {
	case Meal:
		perDay := decimal.Zero
		for _, slot := range []Slot{v.Breakfast, v.Lunch, v.Dinner} {
			if slot.Active {
				perDay = perDay.Add(slot.Dose)
			}
		}
		return perDay.Mul(decimal.NewFromInt(int64(v.ForDays))), nil
	case WhenNeeded:
		return v.Dose.Mul(decimal.NewFromInt(int64(v.Times))), nil
	case Periodic:
		doses := v.ForDays * 24 / v.IntervalHours
		return v.Dose.Mul(decimal.NewFromInt(int64(doses))), nil
	case Other:
		return v.Dose.Mul(decimal.NewFromInt(int64(v.Times))), nil
	}
	return decimal.Zero, fmt.Errorf("%w: unsupported strategy %T", ErrInvalidStrategy, s)
}

// Describe renders a short label such as "2 - 0 - 3 after meals for 5 days".
func Describe(s Strategy) string {
	switch v := s.(type) {
	case Meal:
		label := fmt.Sprintf("%s - %s - %s", slotDose(v.Breakfast), slotDose(v.Lunch), slotDose(v.Dinner))
		switch v.Timing {
		case BeforeMeal:
			label += " before meals"
		case AfterMeal:
			label += " after meals"
		case WithMeal:
			label += " with meals"
		}
		return label + " for " + plural(v.ForDays, "day")
	case WhenNeeded:
		return fmt.Sprintf("%s when needed, up to %s", v.Dose, plural(v.Times, "time"))
	case Periodic:
		return fmt.Sprintf("%s every %s for %s", v.Dose, plural(v.IntervalHours, "hour"), plural(v.ForDays, "day"))
	case Other:
		label := fmt.Sprintf("%s x %s", v.Dose, plural(v.Times, "time"))
		if v.Details != "" {
			label += " (" + v.Details + ")"
		}
		return label
	}
	return ""
}

func slotDose(s Slot) string {
	if !s.Active {
		return "0"
	}
	return s.Dose.String()
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
