package value

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Plain replaces engine values with printable stand-ins: capsules become
// strings describing them and stale values become null. The result has no
// capsules or unknowns, so it can be serialized.
func Plain(v cty.Value) cty.Value {
	if v == cty.NilVal {
		return cty.NullVal(cty.DynamicPseudoType)
	}
	out, err := cty.Transform(v, func(_ cty.Path, v cty.Value) (cty.Value, error) {
		if !v.IsKnown() {
			return cty.NullVal(v.Type()), nil
		}
		if !v.Type().IsCapsuleType() {
			return v, nil
		}
		if v.IsNull() {
			return cty.NullVal(cty.String), nil
		}
		return cty.StringVal(describe(v)), nil
	})
	if err != nil {
		return cty.StringVal(err.Error())
	}
	return out
}

func describe(v cty.Value) string {
	if err, ok := AsError(v); ok {
		return "#ERROR: " + err.Error()
	}
	if f, ok := AsFunc(v); ok {
		return "<function " + f.Name + ">"
	}
	switch KindOf(v) {
	case KindFuture:
		return "<future>"
	case KindStream:
		return "<stream>"
	}
	return "<" + v.Type().FriendlyName() + ">"
}

// JSON encodes v as JSON after Plain. Unlike encoding/json, it leaves <, >
// and & unescaped so descriptions such as <function f> stay readable.
func JSON(v cty.Value) ([]byte, error) {
	p := Plain(v)
	b, err := ctyjson.Marshal(p, p.Type())
	if err != nil {
		return nil, err
	}
	if !bytes.Contains(b, []byte(`\u00`)) {
		return b, nil
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Format renders v for people: strings print bare, stale prints as "...",
// errors print with an #ERROR prefix and everything else prints as JSON.
func Format(v cty.Value) string {
	switch {
	case v == cty.NilVal:
		return ""
	case IsStale(v):
		return "..."
	case v.IsNull():
		return "null"
	case v.Type().IsCapsuleType():
		return describe(v)
	case v.Type() == cty.String:
		return v.AsString()
	}
	b, err := JSON(v)
	if err != nil {
		return fmt.Sprintf("#ERROR: %v", err)
	}
	return string(b)
}
