package router

import (
	"bytes"
	"encoding/json"
)

// DetectHandleURLs walks content's JSON structure in document order and
// returns the url value of every object shaped {type:
// "__fluid_handle__", url: string}, in the order encountered (§8
// testable property 5). encoding/json's map[string]any unmarshal loses
// key order and therefore traversal order for sibling objects at the
// same nesting level, so this walks the token stream directly instead
// of unmarshaling into a map.
func DetectHandleURLs(content json.RawMessage) []string {
	if len(content) == 0 {
		return nil
	}
	v, err := decodeOrdered(content)
	if err != nil {
		return nil
	}
	var out []string
	walkForHandles(v, &out)
	return out
}

// firstAddressProperty returns the first "address" string property
// encountered in document order anywhere in content.
func firstAddressProperty(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	v, err := decodeOrdered(content)
	if err != nil {
		return ""
	}
	return walkForAddress(v)
}

// orderedObject preserves JSON object key order, unlike map[string]any.
type orderedObject struct {
	keys   []string
	values map[string]any
}

func decodeOrdered(data json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return decodeValue(dec)
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeFromToken(dec, tok)
}

func decodeFromToken(dec *json.Decoder, tok json.Token) (any, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := &orderedObject{values: make(map[string]any)}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, _ := keyTok.(string)
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.keys = append(obj.keys, key)
				obj.values[key] = val
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return obj, nil
		case '[':
			var arr []any
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return arr, nil
		}
	}
	return tok, nil
}

func walkForHandles(v any, out *[]string) {
	switch t := v.(type) {
	case *orderedObject:
		if typeVal, ok := t.values["type"].(string); ok && typeVal == "__fluid_handle__" {
			if urlVal, ok := t.values["url"].(string); ok {
				*out = append(*out, urlVal)
			}
		}
		for _, key := range t.keys {
			walkForHandles(t.values[key], out)
		}
	case []any:
		for _, elem := range t {
			walkForHandles(elem, out)
		}
	}
}

// walkForAddress returns the first "address" string property in strict
// document order: for each key of an object in declaration order, the
// key itself is checked before descending into it, so a same-level
// "address" key is only preferred over a nested one if it appears
// earlier in the source.
func walkForAddress(v any) string {
	switch t := v.(type) {
	case *orderedObject:
		for _, key := range t.keys {
			val := t.values[key]
			if key == "address" {
				if addr, ok := val.(string); ok {
					return addr
				}
			}
			if found := walkForAddress(val); found != "" {
				return found
			}
		}
	case []any:
		for _, elem := range t {
			if found := walkForAddress(elem); found != "" {
				return found
			}
		}
	}
	return ""
}
