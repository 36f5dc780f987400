package codec

import "encoding/json"

// MarshalJSON renders a scalar value as a JSON string, a set as an array,
// and an absent value as null. Position records and KWIC responses carry
// annotation maps in this shape.
func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case !v.valid:
		return []byte("null"), nil
	case v.isSet:
		if v.set == nil {
			return json.Marshal([]string{})
		}
		return json.Marshal(v.set)
	default:
		return json.Marshal(v.str)
	}
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Null()
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var members []string
		if err := json.Unmarshal(data, &members); err != nil {
			return err
		}
		*v = Set(members...)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*v = String(s)
	return nil
}
