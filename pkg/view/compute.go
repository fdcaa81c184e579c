// Package view derives the displayed page of a collection from a working set
// and view parameters: search, facet filters, sort and page slicing.
//
// Compute is pure. It never clamps the page; callers reset to page 1 when a
// change leaves Page beyond TotalPages.
package view

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Schema tells Compute how to read a record.
type Schema[T any] struct {
	// SearchFields are the stringified fields searched by Params.Search.
	SearchFields []func(T) string

	// Fields are facet and sort accessors by name. A nil result (or nil
	// pointer) is a null value.
	Fields map[string]func(T) any
}

// Result is a computed page.
type Result[T any] struct {
	PageItems     []T
	TotalFiltered int
}

// TotalPages returns ceil(total / pageSize), or 0 when pageSize <= 0.
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// Compute filters, sorts and slices items. A schema without search fields
// matches nothing when a search term is set. Unknown facets and sort keys
// are ignored.
func Compute[T any](items []T, schema Schema[T], p Params) Result[T] {
	needle := strings.TrimSpace(p.Search)

	type facetCheck struct {
		get   func(T) any
		facet Facet
	}
	var checks []facetCheck
	for _, name := range p.ActiveFacets() {
		get, ok := schema.Fields[name]
		if !ok {
			continue
		}
		checks = append(checks, facetCheck{get: get, facet: p.Facets[name]})
	}

	filtered := make([]T, 0, len(items))
	for _, item := range items {
		if needle != "" && !matchesSearch(item, schema.SearchFields, needle) {
			continue
		}
		ok := true
		for _, c := range checks {
			if !matchesFacet(c.get(item), c.facet) {
				ok = false
				break
			}
		}
		if ok {
			filtered = append(filtered, item)
		}
	}

	if get, ok := schema.Fields[p.SortKey]; ok && p.SortKey != "" {
		sortStable(filtered, get, p.SortDirection == Desc)
	}

	return Result[T]{
		PageItems:     slicePage(filtered, p.Page, p.PageSize),
		TotalFiltered: len(filtered),
	}
}

func matchesSearch[T any](item T, fields []func(T) string, needle string) bool {
	for _, field := range fields {
		if Matches(field(item), needle) {
			return true
		}
	}
	return false
}

func matchesFacet(v any, f Facet) bool {
	v = normalize(v)
	if v == nil {
		return false
	}
	if f.Value != "" && stringify(v) != f.Value {
		return false
	}
	if f.Min != nil || f.Max != nil {
		n, ok := toFloat(v)
		if !ok {
			return false
		}
		if f.Min != nil && n < *f.Min {
			return false
		}
		if f.Max != nil && n > *f.Max {
			return false
		}
	}
	return true
}

func slicePage[T any](items []T, page, size int) []T {
	if size <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if start >= len(items) {
		return []T{}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func sortStable[T any](items []T, get func(T) any, desc bool) {
	keys := make([]any, len(items))
	for i, item := range items {
		keys[i] = normalize(get(item))
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}

	sort.SliceStable(idx, func(i, j int) bool {
		a, b := keys[idx[i]], keys[idx[j]]
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		c := compareValues(a, b)
		if desc {
			return c > 0
		}
		return c < 0
	})

	sorted := make([]T, len(items))
	for i, k := range idx {
		sorted[i] = items[k]
	}
	copy(items, sorted)
}

// normalize dereferences pointers, maps nil to nil and numbers to float64.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil
		}
	}
	if t, ok := rv.Interface().(time.Time); ok {
		if t.IsZero() {
			return nil
		}
		return t
	}
	return rv.Interface()
}

func compareValues(a, b any) int {
	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			return compareOrdered(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return compareStrings(x, y)
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	}
	return compareStrings(stringify(a), stringify(b))
}

// compareStrings orders case- and diacritic-insensitively, so "Đặng" sorts
// with the d's. Ties fall back to the lowercased raw form.
func compareStrings(x, y string) int {
	lx, ly := strings.ToLower(x), strings.ToLower(y)
	if c := strings.Compare(Fold(lx), Fold(ly)); c != 0 {
		return c
	}
	return strings.Compare(lx, ly)
}

func compareOrdered(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
