package util

import (
	"reflect"
	"strings"
)

// CreateSchema derives a JSON schema object from a struct value or pointer.
// Non-struct input yields an empty object schema.
//
// Recognized tags: json (name, "-", omitempty), description, and enum with
// comma-separated values. Non-pointer fields without omitempty are required.
// Embedded structs contribute their fields inline.
func CreateSchema(v any) map[string]any {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t == nil || t.Kind() != reflect.Struct {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	return objectSchema(t, map[reflect.Type]bool{})
}

func objectSchema(t reflect.Type, seen map[reflect.Type]bool) map[string]any {
	props := map[string]any{}
	required := []string{}

	seen[t] = true
	defer delete(seen, t)

	collectFields(t, props, &required, seen)

	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

func collectFields(t reflect.Type, props map[string]any, required *[]string, seen map[reflect.Type]bool) {
	for i := range t.NumField() {
		f := t.Field(i)

		name, omitEmpty, skip := jsonName(f)
		if skip {
			continue
		}

		ft := f.Type
		if f.Anonymous && f.Tag.Get("json") == "" {
			for ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}

			if ft.Kind() == reflect.Struct {
				collectFields(ft, props, required, seen)
				continue
			}
		}

		if !f.IsExported() {
			continue
		}

		prop := typeSchema(ft, seen)

		if d := f.Tag.Get("description"); d != "" {
			prop["description"] = d
		}

		if e := f.Tag.Get("enum"); e != "" {
			values := strings.Split(e, ",")
			for j := range values {
				values[j] = strings.TrimSpace(values[j])
			}

			prop["enum"] = values
		}

		props[name] = prop

		if !omitEmpty && ft.Kind() != reflect.Ptr {
			*required = append(*required, name)
		}
	}
}

func jsonName(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}

	name = f.Name

	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}

	for _, opt := range parts[1:] {
		if strings.TrimSpace(opt) == "omitempty" {
			omitEmpty = true
		}
	}

	return name, omitEmpty, false
}

func typeSchema(t reflect.Type, seen map[reflect.Type]bool) map[string]any {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array", "items": typeSchema(t.Elem(), seen)}
	case reflect.Map:
		return map[string]any{"type": "object"}
	case reflect.Struct:
		if seen[t] {
			return map[string]any{"type": "object"}
		}

		return objectSchema(t, seen)
	default:
		return map[string]any{"type": "string"}
	}
}
