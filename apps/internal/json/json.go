// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package json provides JSON encoding and decoding for the cache contract types.
// The persisted cache is a schema shared with implementations in other languages
// that are free to add fields at any time. Standard library decoding would drop
// fields it does not know about and they would be lost on the next write, which
// breaks the other implementations. Types handled here declare an
// AdditionalFields map that captures every unknown field on Unmarshal and is
// folded back into the object on Marshal.
package json

import (
	"encoding/json"
	"fmt"
	"reflect"
)

const addField = "AdditionalFields"

var unmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()

// Unmarshal decodes b into i, which must be a pointer to a struct declaring an
// AdditionalFields map[string]interface{} field. Fields present in b that the
// struct does not declare are stored in AdditionalFields as json.RawMessage.
func Unmarshal(b []byte, i interface{}) error {
	v := reflect.ValueOf(i)
	if v.Kind() != reflect.Ptr {
		return fmt.Errorf("json: Unmarshal() received type %T, which is not a *struct", i)
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("json: Unmarshal() received type %T, which is not a *struct", i)
	}
	return unmarshalStruct(b, v)
}

func unmarshalStruct(b []byte, v reflect.Value) error {
	t := v.Type()

	afIndex := -1
	if f, ok := t.FieldByName(addField); ok && len(f.Index) == 1 {
		if err := validAdditionalFields(t, f); err != nil {
			return err
		}
		afIndex = f.Index[0]
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	fields := fieldIndex(t)

	for k, rawVal := range raw {
		idx, ok := fields[k]
		if !ok {
			if afIndex == -1 {
				continue
			}
			af := v.Field(afIndex)
			if af.IsNil() {
				af.Set(reflect.MakeMap(t.Field(afIndex).Type))
			}
			af.SetMapIndex(reflect.ValueOf(k), reflect.ValueOf(interface{}(rawVal)))
			continue
		}
		if err := unmarshalField(rawVal, v.FieldByIndex(idx)); err != nil {
			return fmt.Errorf("json: field %q of type %s: %w", k, t.Name(), err)
		}
	}
	return nil
}

func unmarshalField(raw json.RawMessage, v reflect.Value) error {
	t := v.Type()

	if t.Kind() != reflect.Ptr && reflect.PtrTo(t).Implements(unmarshalerType) {
		return json.Unmarshal(raw, v.Addr().Interface())
	}

	switch t.Kind() {
	case reflect.Ptr:
		if string(raw) == "null" {
			return nil
		}
		if v.IsNil() {
			v.Set(reflect.New(t.Elem()))
		}
		return unmarshalField(raw, v.Elem())
	case reflect.Struct:
		if hasAdditionalFields(t) {
			return unmarshalStruct(raw, v)
		}
	case reflect.Map:
		if t.Key().Kind() == reflect.String && hasAdditionalFields(derefType(t.Elem())) {
			rawMap := map[string]json.RawMessage{}
			if err := json.Unmarshal(raw, &rawMap); err != nil {
				return err
			}
			m := reflect.MakeMapWithSize(t, len(rawMap))
			for k, rawVal := range rawMap {
				ev := reflect.New(t.Elem()).Elem()
				if err := unmarshalField(rawVal, ev); err != nil {
					return err
				}
				m.SetMapIndex(reflect.ValueOf(k), ev)
			}
			v.Set(m)
			return nil
		}
	case reflect.Slice:
		if hasAdditionalFields(derefType(t.Elem())) {
			var rawSlice []json.RawMessage
			if err := json.Unmarshal(raw, &rawSlice); err != nil {
				return err
			}
			s := reflect.MakeSlice(t, len(rawSlice), len(rawSlice))
			for i, rawVal := range rawSlice {
				if err := unmarshalField(rawVal, s.Index(i)); err != nil {
					return err
				}
			}
			v.Set(s)
			return nil
		}
	}
	return json.Unmarshal(raw, v.Addr().Interface())
}

// fieldIndex maps the JSON name of every settable field, except
// AdditionalFields, to its index path. Anonymous embedded structs are
// flattened the way encoding/json flattens them, so their fields resolve at
// the top level; a name declared closer to the top wins a collision.
func fieldIndex(t reflect.Type) map[string][]int {
	fields := map[string][]int{}
	addFieldIndex(t, nil, fields)
	return fields
}

func addFieldIndex(t reflect.Type, prefix []int, fields map[string][]int) {
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
		name, _ := parseTag(f)
		if name == "-" {
			continue
		}
		if _, ok := fields[name]; ok {
			continue
		}
		fields[name] = append(append([]int{}, prefix...), i)
	}
	for _, i := range embedded {
		addFieldIndex(t.Field(i).Type, append(append([]int{}, prefix...), i), fields)
	}
}

func parseTag(f reflect.StructField) (name string, omitEmpty bool) {
	name = f.Name
	tag, ok := f.Tag.Lookup("json")
	if !ok {
		return name, false
	}
	parts := splitTag(tag)
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty
}

func splitTag(tag string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			parts = append(parts, tag[start:i])
			start = i + 1
		}
	}
	return append(parts, tag[start:])
}

// validAdditionalFields checks the AdditionalFields declaration is the exact
// shape the package contract requires.
func validAdditionalFields(t reflect.Type, f reflect.StructField) error {
	if f.Type.Kind() != reflect.Map || f.Type.Key().Kind() != reflect.String || f.Type.Elem().Kind() != reflect.Interface {
		return fmt.Errorf("json: type %s has AdditionalFields that is %s, must be map[string]interface{}", t.Name(), f.Type)
	}
	return nil
}

func hasAdditionalFields(t reflect.Type) bool {
	if t.Kind() != reflect.Struct {
		return false
	}
	_, ok := t.FieldByName(addField)
	return ok
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
