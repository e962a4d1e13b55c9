package indicator

import (
	"encoding/json"
	"strconv"
)

// Value is an indicator reading that may be undefined because the series is
// shorter than the indicator's lookback.
type Value struct {
	Float float64
	Valid bool
}

func Some(v float64) Value {
	return Value{Float: v, Valid: true}
}

func (v Value) Get() (float64, bool) {
	return v.Float, v.Valid
}

func (v Value) String() string {
	if !v.Valid {
		return "undefined"
	}
	return strconv.FormatFloat(v.Float, 'f', 4, 64)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.Float)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Some(f)
	return nil
}
