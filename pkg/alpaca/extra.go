package alpaca

import (
	"encoding/json"
	"reflect"
	"strings"
)

// Extra holds the fields of a record that the named struct fields do not cover.
type Extra map[string]json.RawMessage

// Get decodes the extra field key into out. It reports false when the field is absent.
func (e Extra) Get(key string, out any) (bool, error) {
	raw, ok := e[key]
	if !ok {
		return false, nil
	}

	return true, json.Unmarshal(raw, out)
}

// jsonFieldNames returns the json names declared by the exported fields of t.
func jsonFieldNames(t reflect.Type) map[string]struct{} {
	names := make(map[string]struct{}, t.NumField())

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}

		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = field.Name
		}

		names[name] = struct{}{}
	}

	return names
}

// splitExtra returns the members of the JSON object data whose keys are not in known.
func splitExtra(data []byte, known map[string]struct{}) (Extra, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}

	for key := range all {
		if _, ok := known[key]; ok {
			delete(all, key)
		}
	}

	if len(all) == 0 {
		return nil, nil
	}

	return Extra(all), nil
}

// mergeExtra adds extra members to the encoded JSON object data. Named fields win.
func mergeExtra(data []byte, extra Extra) ([]byte, error) {
	if len(extra) == 0 {
		return data, nil
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}

	for key, value := range extra {
		if _, ok := all[key]; !ok {
			all[key] = value
		}
	}

	return json.Marshal(all)
}
