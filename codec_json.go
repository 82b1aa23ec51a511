package xpub

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// rewriteJSON walks the decoded tree alongside the value it was encoded
// from, renaming and pruning struct properties only. Subtrees produced by
// custom marshalers are left as they are.
func rewriteJSON(node any, v reflect.Value, opts SerializerOptions) (any, error) {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() || customJSON(v) {
			return node, nil
		}
		v = v.Elem()
	}
	if !v.IsValid() || customJSON(v) {
		return node, nil
	}

	switch v.Kind() {
	case reflect.Struct:
		obj, ok := node.(map[string]any)
		if !ok {
			return node, nil
		}
		return rewriteObject(obj, v, opts)
	case reflect.Map:
		obj, ok := node.(map[string]any)
		if !ok {
			return node, nil
		}
		entries := mapEntries(v)
		for k, val := range obj {
			ev, ok := entries[k]
			if !ok {
				continue
			}
			out, err := rewriteJSON(val, ev, opts)
			if err != nil {
				return nil, err
			}
			obj[k] = out
		}
		return obj, nil
	case reflect.Slice, reflect.Array:
		arr, ok := node.([]any)
		if !ok {
			return node, nil
		}
		for i := 0; i < len(arr) && i < v.Len(); i++ {
			out, err := rewriteJSON(arr[i], v.Index(i), opts)
			if err != nil {
				return nil, err
			}
			arr[i] = out
		}
		return arr, nil
	}
	return node, nil
}

type renamedKey struct {
	name    string
	source  string
	renamed bool
}

func rewriteObject(obj map[string]any, v reflect.Value, opts SerializerOptions) (any, error) {
	fields := structFields(v.Type())
	out := make(map[string]any, len(obj))
	seen := make(map[string]renamedKey, len(obj))
	for key, val := range obj {
		f, known := fields[key]
		if !known {
			out[key] = val
			continue
		}
		if val == nil && opts.OmitNullFields {
			continue
		}
		name := key
		if !f.tagged && opts.NamingPolicy == NamingCamelCase {
			name = camelCase(key)
		}
		// Decoding matches names case-insensitively, so renamed keys must
		// stay distinct under folding too.
		fold := strings.ToLower(name)
		if prev, dup := seen[fold]; dup && (prev.name == name || prev.renamed || name != key) {
			a, b := prev.source, key
			if b < a {
				a, b = b, a
			}
			return nil, fmt.Errorf("%w: %s fields %q and %q", ErrJSONNameConflict, v.Type(), a, b)
		}
		seen[fold] = renamedKey{name: name, source: key, renamed: name != key}

		fv, err := v.FieldByIndexErr(f.index)
		if err != nil {
			out[name] = val
			continue
		}
		rewritten, err := rewriteJSON(val, fv, opts)
		if err != nil {
			return nil, err
		}
		out[name] = rewritten
	}
	return out, nil
}

func customJSON(v reflect.Value) bool {
	t := v.Type()
	if t.Implements(jsonMarshalerType) || t.Implements(textMarshalerType) {
		return true
	}
	if v.CanAddr() {
		pt := reflect.PointerTo(t)
		return pt.Implements(jsonMarshalerType) || pt.Implements(textMarshalerType)
	}
	return false
}

// mapEntries indexes map values by the key string encoding/json writes.
func mapEntries(v reflect.Value) map[string]reflect.Value {
	out := make(map[string]reflect.Value, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		if k, ok := jsonMapKey(iter.Key()); ok {
			out[k] = iter.Value()
		}
	}
	return out
}

func jsonMapKey(k reflect.Value) (string, bool) {
	if k.Kind() == reflect.String {
		return k.String(), true
	}
	if k.CanInterface() {
		if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
			if k.Kind() == reflect.Pointer && k.IsNil() {
				return "", true
			}
			b, err := tm.MarshalText()
			return string(b), err == nil
		}
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), true
	}
	return "", false
}

type jsonField struct {
	index  []int
	tagged bool
}

var jsonFieldCache sync.Map // reflect.Type -> map[string]jsonField

// structFields maps each property name encoding/json writes for t to the
// field behind it, following its rules for embedded structs: the shallowest
// field wins, a tagged one breaks ties, and remaining ties are dropped.
func structFields(t reflect.Type) map[string]jsonField {
	if cached, ok := jsonFieldCache.Load(t); ok {
		return cached.(map[string]jsonField)
	}

	type candidate struct {
		name   string
		index  []int
		tagged bool
		depth  int
	}
	type level struct {
		t     reflect.Type
		index []int
	}

	var all []candidate
	visited := map[reflect.Type]bool{}
	current := []level{{t: t}}
	for depth := 0; len(current) > 0; depth++ {
		var next []level
		for _, lv := range current {
			if visited[lv.t] {
				continue
			}
			visited[lv.t] = true
			for i := 0; i < lv.t.NumField(); i++ {
				sf := lv.t.Field(i)
				ft := sf.Type
				if ft.Name() == "" && ft.Kind() == reflect.Pointer {
					ft = ft.Elem()
				}
				if sf.Anonymous {
					if !sf.IsExported() && ft.Kind() != reflect.Struct {
						continue
					}
				} else if !sf.IsExported() {
					continue
				}
				tag := sf.Tag.Get("json")
				if tag == "-" {
					continue
				}
				name, _, _ := strings.Cut(tag, ",")
				index := append(append([]int(nil), lv.index...), i)
				if name == "" && sf.Anonymous && ft.Kind() == reflect.Struct {
					next = append(next, level{t: ft, index: index})
					continue
				}
				tagged := name != ""
				if !tagged {
					name = sf.Name
				}
				all = append(all, candidate{name: name, index: index, tagged: tagged, depth: depth})
			}
		}
		current = next
	}

	byName := make(map[string][]candidate, len(all))
	for _, c := range all {
		byName[c.name] = append(byName[c.name], c)
	}
	fields := make(map[string]jsonField, len(byName))
	for name, cs := range byName {
		shallowest := cs[0].depth
		for _, c := range cs[1:] {
			if c.depth < shallowest {
				shallowest = c.depth
			}
		}
		var top, tagged []candidate
		for _, c := range cs {
			if c.depth != shallowest {
				continue
			}
			top = append(top, c)
			if c.tagged {
				tagged = append(tagged, c)
			}
		}
		if len(top) > 1 {
			if len(tagged) != 1 {
				continue
			}
			top = tagged
		}
		fields[name] = jsonField{index: top[0].index, tagged: top[0].tagged}
	}

	jsonFieldCache.Store(t, fields)
	return fields
}
