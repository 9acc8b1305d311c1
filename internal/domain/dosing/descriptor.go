package dosing

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Descriptor carries a Strategy across JSON boundaries (HTTP bodies and the
// JSONB strategy columns) with a "type" discriminator next to the variant's
// own fields:
//
//	{"type":"PERIODIC","dose":"1","interval_hours":8,"for_days":3}
type Descriptor struct {
	Strategy Strategy
}

func (d Descriptor) MarshalJSON() ([]byte, error) {
	if d.Strategy == nil {
		return []byte("null"), nil
	}
	body, err := json.Marshal(d.Strategy)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(d.Strategy.Kind())
	fields["type"] = kind
	return json.Marshal(fields)
}

func (d *Descriptor) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		d.Strategy = nil
		return nil
	}
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	var err error
	switch head.Type {
	case KindMeal:
		var v Meal
		err = json.Unmarshal(data, &v)
		d.Strategy = v
	case KindWhenNeeded:
		var v WhenNeeded
		err = json.Unmarshal(data, &v)
		d.Strategy = v
	case KindPeriodic:
		var v Periodic
		err = json.Unmarshal(data, &v)
		d.Strategy = v
	case KindOther:
		var v Other
		err = json.Unmarshal(data, &v)
		d.Strategy = v
	case "":
		return fmt.Errorf("%w: strategy type is required", ErrInvalidStrategy)
	default:
		return fmt.Errorf("%w: unknown strategy type %q", ErrInvalidStrategy, head.Type)
	}
	return err
}

// Quantity is shorthand for Quantity(d.Strategy).
func (d Descriptor) Quantity() (decimal.Decimal, error) {
	return Quantity(d.Strategy)
}
