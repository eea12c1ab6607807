package protocol

import (
	"fmt"
	"reflect"
	"strings"
)

// Rendered in place of any value that re-enters itself during a walk.
const circularMarker = "<circular reference>"

// Identifier strings that mean "not known" and vanish from the methods
// view. Real falsy values (false, 0, "") survive.
var unknownStrings = map[string]bool{
	"Unknown": true,
	"None":    true,
	"N/A":     true,
}

// FullView walks every field of every record into plain maps, slices,
// and scalars. Reference cycles are cut with a "<circular reference>"
// marker, so the result is always finite and safe to serialize.
func (p *Protocol) FullView() map[string]any {
	w := walker{active: map[uintptr]bool{}}
	out := map[string]any{
		"stages": w.walk(reflect.ValueOf(p.Stages)),
		"totals": w.walk(reflect.ValueOf(p.Totals())),
	}
	return out
}

// MethodsView is the reproducibility-report subset of FullView: empty
// collections, nils, and unknown-identifier strings are pruned;
// falsy scalars (false, 0, empty string) are preserved.
func (p *Protocol) MethodsView() map[string]any {
	pruned, keep := prune(p.FullView())
	if !keep {
		return map[string]any{}
	}
	return pruned.(map[string]any)
}

type walker struct {
	active map[uintptr]bool
}

func (w *walker) walk(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		id := v.Pointer()
		if w.active[id] {
			return circularMarker
		}
		w.active[id] = true
		defer delete(w.active, id)
		return w.walk(v.Elem())

	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return w.walk(v.Elem())

	case reflect.Struct:
		out := map[string]any{}
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			out[fieldName(f)] = w.walk(v.Field(i))
		}
		return out

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		id := v.Pointer()
		if w.active[id] {
			return circularMarker
		}
		w.active[id] = true
		defer delete(w.active, id)

		out := map[string]any{}
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprintf("%v", iter.Key().Interface())] = w.walk(iter.Value())
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		id := v.Pointer()
		if w.active[id] {
			return circularMarker
		}
		w.active[id] = true
		defer delete(w.active, id)
		return w.walkSeq(v)

	case reflect.Array:
		return w.walkSeq(v)

	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.String:
		return v.String()
	}
	return fmt.Sprintf("%v", v.Interface())
}

func (w *walker) walkSeq(v reflect.Value) any {
	out := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		out[i] = w.walk(v.Index(i))
	}
	return out
}

// fieldName prefers the yaml tag the records already carry.
func fieldName(f reflect.StructField) string {
	tag := f.Tag.Get("yaml")
	if tag != "" {
		if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
			return name
		}
	}
	return strings.ToLower(f.Name)
}

// prune returns the kept value and whether it should be kept at all.
func prune(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false

	case string:
		if unknownStrings[x] {
			return nil, false
		}
		return x, true

	case map[string]any:
		out := map[string]any{}
		for k, val := range x {
			if kept, ok := prune(val); ok {
				out[k] = kept
			}
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true

	case []any:
		out := []any{}
		for _, val := range x {
			if kept, ok := prune(val); ok {
				out = append(out, kept)
			}
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	}
	return v, true
}
