// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package json

import (
	"encoding/json"
	"fmt"
	"reflect"
)

var marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()

// MarshalRaw marshals i into a json.RawMessage. Panics on types the standard
// library cannot marshal, which indicates a bug in the caller.
func MarshalRaw(i interface{}) json.RawMessage {
	b, err := json.Marshal(i)
	if err != nil {
		panic(fmt.Sprintf("bug: MarshalRaw() received %T which cannot be marshaled: %s", i, err))
	}
	return b
}

// Marshal encodes i, a struct (or pointer to struct) declaring an
// AdditionalFields map, into JSON. Entries of AdditionalFields are emitted as
// siblings of the declared fields; a declared field wins on a name collision.
func Marshal(i interface{}) ([]byte, error) {
	v := reflect.ValueOf(i)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return []byte("null"), nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("json: Marshal() received type %T, which is not a struct", i)
	}
	return marshalStruct(v)
}

func marshalStruct(v reflect.Value) ([]byte, error) {
	m := make(map[string]json.RawMessage, v.NumField())
	if err := marshalStructFields(v, m); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// marshalStructFields writes v's fields into m. Anonymous embedded structs
// are flattened into the same object, as encoding/json does; a name already
// in m, written by an enclosing struct, wins a collision.
func marshalStructFields(v reflect.Value, m map[string]json.RawMessage) error {
	t := v.Type()

	var embedded []int
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" || f.Name == addField {
			continue
		}
		if _, tagged := f.Tag.Lookup("json"); f.Anonymous && !tagged && f.Type.Kind() == reflect.Struct {
			embedded = append(embedded, i)
			continue
		}
		name, omitEmpty := parseTag(f)
		if name == "-" {
			continue
		}
		fv := v.Field(i)
		if omitEmpty && isEmptyValue(fv) {
			continue
		}
		if _, ok := m[name]; ok {
			continue
		}
		b, err := marshalValue(fv)
		if err != nil {
			return fmt.Errorf("json: field %q of type %s: %w", name, t.Name(), err)
		}
		// Types like time.Unix marshal their zero value to nothing, which
		// means the field is not represented.
		if len(b) == 0 {
			continue
		}
		m[name] = b
	}

	for _, i := range embedded {
		if err := marshalStructFields(v.Field(i), m); err != nil {
			return err
		}
	}

	if f, ok := t.FieldByName(addField); ok && len(f.Index) == 1 {
		if err := validAdditionalFields(t, f); err != nil {
			return err
		}
		af := v.Field(f.Index[0])
		for _, k := range af.MapKeys() {
			key := k.String()
			if _, ok := m[key]; ok {
				continue
			}
			b, err := json.Marshal(af.MapIndex(k).Interface())
			if err != nil {
				return fmt.Errorf("json: additional field %q of type %s: %w", key, t.Name(), err)
			}
			m[key] = b
		}
	}
	return nil
}

func marshalValue(v reflect.Value) ([]byte, error) {
	t := v.Type()

	// The marshaler is invoked directly rather than through json.Marshal so
	// that types like time.Unix can return no bytes at all for their zero
	// value, dropping the field.
	if m, ok := v.Interface().(json.Marshaler); ok {
		return m.MarshalJSON()
	}
	if v.CanAddr() && reflect.PtrTo(t).Implements(marshalerType) {
		return v.Addr().Interface().(json.Marshaler).MarshalJSON()
	}

	switch t.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return []byte("null"), nil
		}
		return marshalValue(v.Elem())
	case reflect.Struct:
		if hasAdditionalFields(t) {
			return marshalStruct(v)
		}
	case reflect.Map:
		if t.Key().Kind() == reflect.String && hasAdditionalFields(derefType(t.Elem())) {
			m := make(map[string]json.RawMessage, v.Len())
			for _, k := range v.MapKeys() {
				b, err := marshalValue(v.MapIndex(k))
				if err != nil {
					return nil, err
				}
				m[k.String()] = b
			}
			return json.Marshal(m)
		}
	case reflect.Slice:
		if hasAdditionalFields(derefType(t.Elem())) {
			s := make([]json.RawMessage, v.Len())
			for i := 0; i < v.Len(); i++ {
				b, err := marshalValue(v.Index(i))
				if err != nil {
					return nil, err
				}
				s[i] = b
			}
			return json.Marshal(s)
		}
	}
	return json.Marshal(v.Interface())
}

// isEmptyValue mirrors the encoding/json definition used for omitempty.
func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	}
	return false
}
