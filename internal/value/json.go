package value

import (
	"encoding/json"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// FromJSON decodes a JSON document into a value of its implied type: objects
// become objects and arrays become tuples.
func FromJSON(b []byte) (cty.Value, error) {
	ty, err := ctyjson.ImpliedType(b)
	if err != nil {
		return cty.NilVal, fmt.Errorf("invalid JSON: %w", err)
	}
	return ctyjson.Unmarshal(b, ty)
}

// FromGo converts JSON-shaped Go data, as decoded by encoding/json or a
// socket.io transport, into a value.
func FromGo(data any) (cty.Value, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unsupported data %T: %w", data, err)
	}
	return FromJSON(b)
}

// ToGo converts v into JSON-shaped Go data after Plain.
func ToGo(v cty.Value) (any, error) {
	b, err := JSON(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
