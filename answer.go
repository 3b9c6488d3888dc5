package megafon

import (
	"encoding/json"
)

// Answer is a loosely-typed portal response. Fields are looked up by key;
// nothing is validated beyond the checks each operation makes.
type Answer struct {
	raw    []byte
	fields map[string]any
}

func decodeAnswer(body []byte) (*Answer, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, &DecodeError{Body: string(body), Err: err}
	}
	a := &Answer{raw: body}
	if obj, ok := v.(map[string]any); ok {
		a.fields = obj
	}
	return a, nil
}

// Raw returns the body the answer was decoded from.
func (a *Answer) Raw() []byte {
	return a.raw
}

// Has reports whether key is present and not null.
func (a *Answer) Has(key string) bool {
	return a.field(key) != nil
}

func (a *Answer) Get(key string) (any, bool) {
	v := a.field(key)
	return v, v != nil
}

func (a *Answer) String(key string) (string, bool) {
	v, ok := a.field(key).(string)
	return v, ok
}

func (a *Answer) Float(key string) (float64, bool) {
	v, ok := a.field(key).(float64)
	return v, ok
}

func (a *Answer) Bool(key string) (bool, bool) {
	v, ok := a.field(key).(bool)
	return v, ok
}

// Truthy reports whether key holds a value that is not false, zero, empty
// or "0". The portal is loose about flags and sends 1 as often as true.
func (a *Answer) Truthy(key string) bool {
	switch v := a.field(key).(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != "" && v != "0"
	case []any:
		return len(v) > 0
	default:
		return true
	}
}

// Object returns the nested object under key, or nil.
func (a *Answer) Object(key string) *Answer {
	obj, ok := a.field(key).(map[string]any)
	if !ok {
		return nil
	}
	raw, _ := json.Marshal(obj)
	return &Answer{raw: raw, fields: obj}
}

func (a *Answer) field(key string) any {
	if a == nil {
		return nil
	}
	return a.fields[key]
}

// Decode unmarshals the raw body into v.
func (a *Answer) Decode(v any) error {
	return json.Unmarshal(a.raw, v)
}
