// Wrap json library to control encoding.

package json

import (
	"bytes"

	"github.com/Velocidex/json"
	"github.com/Velocidex/ordereddict"
)

// Dicts keep their insertion order on the wire.
func MarshalJSONDict(v interface{}, opts *json.EncOpts) ([]byte, error) {
	self, ok := v.(*ordereddict.Dict)
	if !ok || self == nil {
		return nil, json.EncoderCallbackSkip
	}

	buf := &bytes.Buffer{}
	buf.WriteString("{")
	for i, k := range self.Keys() {
		if i > 0 {
			buf.WriteString(",")
		}

		k_escaped, err := json.MarshalWithOptions(k, opts)
		if err != nil {
			return nil, err
		}
		buf.Write(k_escaped)
		buf.WriteString(":")

		value, _ := self.Get(k)
		v_bytes, err := json.MarshalWithOptions(value, opts)
		if err != nil {
			buf.WriteString("null")
			continue
		}
		buf.Write(v_bytes)
	}
	buf.WriteString("}")
	return buf.Bytes(), nil
}

func init() {
	RegisterCustomEncoder(ordereddict.NewDict(), MarshalJSONDict)
}

func Marshal(v interface{}) ([]byte, error) {
	return json.MarshalWithOptions(v, NewEncOpts())
}

func MarshalString(v interface{}) string {
	result, err := Marshal(v)
	if err != nil {
		return ""
	}
	return string(result)
}

func MarshalIndent(v interface{}) ([]byte, error) {
	b, err := Marshal(v)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = json.Indent(&buf, b, "", " ")
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(b []byte, v interface{}) error {
	return json.Unmarshal(b, v)
}
