package entity

import (
	"fmt"
	"reflect"
	"strings"
)

// FieldValue returns the value stored under field in v. Struct fields resolve
// by Go name or json tag name, maps with string keys by key, and dotted paths
// descend into nested values. The boolean is false when the path is missing.
func FieldValue(v any, field string) (any, bool) {
	segments := splitPath(field)
	if len(segments) == 0 {
		return nil, false
	}
	current := reflect.ValueOf(v)
	for _, segment := range segments {
		current = indirect(current)
		if !current.IsValid() {
			return nil, false
		}
		switch current.Kind() {
		case reflect.Struct:
			sf, ok := lookupStructField(current.Type(), segment)
			if !ok {
				return nil, false
			}
			next, err := current.FieldByIndexErr(sf.Index)
			if err != nil {
				return nil, false
			}
			current = next
		case reflect.Map:
			if current.Type().Key().Kind() != reflect.String || current.IsNil() {
				return nil, false
			}
			next := current.MapIndex(reflect.ValueOf(segment).Convert(current.Type().Key()))
			if !next.IsValid() {
				return nil, false
			}
			current = next
		default:
			return nil, false
		}
	}
	if !current.IsValid() || !current.CanInterface() {
		return nil, false
	}
	return current.Interface(), true
}

// SetField assigns value to field on target, converting between compatible
// numeric, string and bool kinds and wrapping values for pointer fields.
func SetField[T any](target *T, field string, value any) error {
	if target == nil {
		return fmt.Errorf("entity: set field %q: target is nil", field)
	}
	segments := splitPath(field)
	if len(segments) == 0 {
		return fmt.Errorf("%w: empty field name", ErrUnknownField)
	}
	return setPath(reflect.ValueOf(target).Elem(), segments, value, field)
}

// Clone returns a deep copy of v. Maps, slices and pointers are duplicated so
// the result shares no mutable state with v.
func Clone[T any](v T) T {
	cloned := cloneValue(reflect.ValueOf(&v).Elem())
	if !cloned.IsValid() {
		var zero T
		return zero
	}
	out, _ := cloned.Interface().(T)
	return out
}

func clearField[T any](target *T, field string) error {
	segments := splitPath(field)
	if len(segments) == 0 {
		return nil
	}
	return clearPath(reflect.ValueOf(target).Elem(), segments)
}

// sameField reports whether a and b name the same field of t, so that "ID"
// and its json tag "id" are treated as one field.
func sameField(t reflect.Type, a, b string) bool {
	if a == b {
		return true
	}
	return canonicalPath(t, a) == canonicalPath(t, b)
}

func canonicalPath(t reflect.Type, path string) string {
	segments := splitPath(path)
	out := make([]string, 0, len(segments))
	for i, segment := range segments {
		for t != nil && t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t == nil || t.Kind() != reflect.Struct {
			out = append(out, segments[i:]...)
			break
		}
		sf, ok := lookupStructField(t, segment)
		if !ok {
			out = append(out, segments[i:]...)
			break
		}
		out = append(out, sf.Name)
		t = sf.Type
	}
	return strings.Join(out, ".")
}

// JSONPath translates field into the dotted path T's JSON encoding uses,
// so "Profile.Email" becomes "profile.email" for tagged structs. Segments
// that do not resolve are kept as given.
func JSONPath[T any](field string) string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	segments := splitPath(field)
	out := make([]string, 0, len(segments))
	for i, segment := range segments {
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t.Kind() != reflect.Struct {
			out = append(out, segments[i:]...)
			break
		}
		sf, ok := lookupStructField(t, segment)
		if !ok {
			out = append(out, segments[i:]...)
			break
		}
		out = append(out, jsonName(sf))
		t = sf.Type
	}
	return strings.Join(out, ".")
}

func splitPath(path string) []string {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	out := parts[:0]
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func lookupStructField(t reflect.Type, name string) (reflect.StructField, bool) {
	fields := reflect.VisibleFields(t)
	for _, field := range fields {
		if !field.IsExported() || field.Anonymous {
			continue
		}
		if field.Name == name || jsonName(field) == name {
			return field, true
		}
	}
	for _, field := range fields {
		if !field.IsExported() || field.Anonymous {
			continue
		}
		if strings.EqualFold(field.Name, name) || strings.EqualFold(jsonName(field), name) {
			return field, true
		}
	}
	return reflect.StructField{}, false
}

func jsonName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" || tag == "-" {
		return field.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return field.Name
	}
	return name
}

func setPath(target reflect.Value, segments []string, value any, path string) error {
	switch target.Kind() {
	case reflect.Pointer:
		if target.IsNil() {
			if !target.CanSet() {
				return fmt.Errorf("%w: %s", ErrUnknownField, path)
			}
			target.Set(reflect.New(target.Type().Elem()))
		}
		return setPath(target.Elem(), segments, value, path)
	case reflect.Interface:
		if target.IsNil() || !target.CanSet() {
			return fmt.Errorf("%w: %s", ErrUnknownField, path)
		}
		inner := reflect.New(target.Elem().Type()).Elem()
		inner.Set(target.Elem())
		if err := setPath(inner, segments, value, path); err != nil {
			return err
		}
		target.Set(inner)
		return nil
	case reflect.Struct:
		sf, ok := lookupStructField(target.Type(), segments[0])
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, path)
		}
		field, err := target.FieldByIndexErr(sf.Index)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrUnknownField, path, err)
		}
		if len(segments) == 1 {
			return assign(field, value, path)
		}
		return setPath(field, segments[1:], value, path)
	case reflect.Map:
		if target.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%w: %s", ErrUnknownField, path)
		}
		if target.IsNil() {
			if !target.CanSet() {
				return fmt.Errorf("%w: %s", ErrUnknownField, path)
			}
			target.Set(reflect.MakeMap(target.Type()))
		}
		key := reflect.ValueOf(segments[0]).Convert(target.Type().Key())
		elem := reflect.New(target.Type().Elem()).Elem()
		if len(segments) == 1 {
			if err := assign(elem, value, path); err != nil {
				return err
			}
			target.SetMapIndex(key, elem)
			return nil
		}
		existing := target.MapIndex(key)
		if !existing.IsValid() {
			return fmt.Errorf("%w: %s", ErrUnknownField, path)
		}
		elem.Set(existing)
		if err := setPath(elem, segments[1:], value, path); err != nil {
			return err
		}
		target.SetMapIndex(key, elem)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, path)
	}
}

func clearPath(target reflect.Value, segments []string) error {
	target = indirect(target)
	if !target.IsValid() {
		return nil
	}
	switch target.Kind() {
	case reflect.Struct:
		sf, ok := lookupStructField(target.Type(), segments[0])
		if !ok {
			return nil
		}
		field, err := target.FieldByIndexErr(sf.Index)
		if err != nil {
			return nil
		}
		if len(segments) > 1 {
			return clearPath(field, segments[1:])
		}
		if !field.CanSet() {
			return fmt.Errorf("entity: clear field %q: not settable", sf.Name)
		}
		field.Set(reflect.Zero(field.Type()))
		return nil
	case reflect.Map:
		if target.Type().Key().Kind() != reflect.String || target.IsNil() {
			return nil
		}
		key := reflect.ValueOf(segments[0]).Convert(target.Type().Key())
		if len(segments) == 1 {
			target.SetMapIndex(key, reflect.Value{})
			return nil
		}
		existing := target.MapIndex(key)
		if !existing.IsValid() {
			return nil
		}
		elem := reflect.New(target.Type().Elem()).Elem()
		elem.Set(existing)
		if err := clearPath(elem, segments[1:]); err != nil {
			return err
		}
		target.SetMapIndex(key, elem)
		return nil
	default:
		return nil
	}
}

func assign(dst reflect.Value, value any, path string) error {
	if !dst.CanSet() {
		return fmt.Errorf("%w: %s is not settable", ErrUnknownField, path)
	}
	if value == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	src := reflect.ValueOf(value)
	if converted, ok := convertValue(src, dst.Type()); ok {
		dst.Set(converted)
		return nil
	}
	if dst.Kind() == reflect.Pointer {
		if converted, ok := convertValue(src, dst.Type().Elem()); ok {
			ptr := reflect.New(dst.Type().Elem())
			ptr.Elem().Set(converted)
			dst.Set(ptr)
			return nil
		}
	}
	return fmt.Errorf("entity: field %q: cannot assign %s to %s", path, src.Type(), dst.Type())
}

func convertValue(src reflect.Value, to reflect.Type) (reflect.Value, bool) {
	from := src.Type()
	if from.AssignableTo(to) {
		return src, true
	}
	switch {
	case isNumericKind(from.Kind()) && isNumericKind(to.Kind()),
		from.Kind() == reflect.String && to.Kind() == reflect.String,
		from.Kind() == reflect.Bool && to.Kind() == reflect.Bool:
		return src.Convert(to), true
	}
	return reflect.Value{}, false
}

func isNumericKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// KeyEqual compares a stored key value with a candidate, tolerating
// numeric and string kind differences such as int against int64.
func KeyEqual(stored, candidate any) bool {
	if reflect.DeepEqual(stored, candidate) {
		return true
	}
	if stored == nil || candidate == nil {
		return false
	}
	sv := indirect(reflect.ValueOf(stored))
	cv := indirect(reflect.ValueOf(candidate))
	if !sv.IsValid() || !cv.IsValid() {
		return false
	}
	converted, ok := convertValue(cv, sv.Type())
	if !ok {
		return false
	}
	return reflect.DeepEqual(sv.Interface(), converted.Interface())
}

func cloneValue(v reflect.Value) reflect.Value {
	if !v.IsValid() {
		return v
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		clone := reflect.New(v.Type().Elem())
		clone.Elem().Set(cloneValue(v.Elem()))
		return clone
	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		elem := cloneValue(v.Elem())
		if !elem.IsValid() {
			return reflect.Zero(v.Type())
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(elem)
		return out
	case reflect.Struct:
		clone := reflect.New(v.Type()).Elem()
		clone.Set(v)
		for i := 0; i < v.NumField(); i++ {
			field := clone.Field(i)
			if !field.CanSet() {
				continue
			}
			field.Set(cloneValue(v.Field(i)))
		}
		return clone
	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		clone := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			clone.SetMapIndex(iter.Key(), cloneValue(iter.Value()))
		}
		return clone
	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		clone := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			clone.Index(i).Set(cloneValue(v.Index(i)))
		}
		return clone
	case reflect.Array:
		clone := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			clone.Index(i).Set(cloneValue(v.Index(i)))
		}
		return clone
	default:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		return out
	}
}
