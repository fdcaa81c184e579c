package view

import (
	"errors"
	"sort"
)

// ErrInvalidParams is returned by Params.Validate.
var ErrInvalidParams = errors.New("page must be >= 1 and page size > 0")

// Direction of a sort.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Facet is one filter predicate: equality on Value, an inclusive numeric
// range, or both. The zero Facet imposes no constraint.
type Facet struct {
	Value string
	Min   *float64
	Max   *float64
}

// Equals returns an equality facet.
func Equals(value string) Facet {
	return Facet{Value: value}
}

// Between returns an inclusive range facet. Either bound may be nil.
func Between(min, max *float64) Facet {
	return Facet{Min: min, Max: max}
}

// Float returns a pointer to f, for range bounds.
func Float(f float64) *float64 {
	return &f
}

// Active reports whether the facet constrains anything.
func (f Facet) Active() bool {
	return f.Value != "" || f.Min != nil || f.Max != nil
}

// Params are the view parameters of a screen. Params is a value type; every
// mutator returns a copy. Every mutator except WithPage resets Page to 1.
type Params struct {
	Search        string
	Facets        map[string]Facet
	SortKey       string
	SortDirection Direction
	Page          int
	PageSize      int
}

// NewParams returns parameters for the first page.
func NewParams(pageSize int) Params {
	return Params{
		SortDirection: Asc,
		Page:          1,
		PageSize:      pageSize,
	}
}

// Validate checks the pagination fields.
func (p Params) Validate() error {
	if p.Page < 1 || p.PageSize <= 0 {
		return ErrInvalidParams
	}
	return nil
}

// WithSearch sets the search term.
func (p Params) WithSearch(search string) Params {
	p.Search = search
	p.Page = 1
	return p
}

// WithFacet sets a facet. An inactive facet clears it.
func (p Params) WithFacet(name string, f Facet) Params {
	facets := p.cloneFacets()
	if f.Active() {
		facets[name] = f
	} else {
		delete(facets, name)
	}
	p.Facets = facets
	p.Page = 1
	return p
}

// WithoutFacet clears a facet.
func (p Params) WithoutFacet(name string) Params {
	return p.WithFacet(name, Facet{})
}

// WithoutFacets clears every facet.
func (p Params) WithoutFacets() Params {
	p.Facets = nil
	p.Page = 1
	return p
}

// WithSort sets the sort key and direction.
func (p Params) WithSort(key string, dir Direction) Params {
	if dir != Desc {
		dir = Asc
	}
	p.SortKey = key
	p.SortDirection = dir
	p.Page = 1
	return p
}

// ToggleSort flips the direction when key is already the sort key, and
// sorts ascending by key otherwise.
func (p Params) ToggleSort(key string) Params {
	if p.SortKey == key {
		if p.SortDirection == Desc {
			return p.WithSort(key, Asc)
		}
		return p.WithSort(key, Desc)
	}
	return p.WithSort(key, Asc)
}

// WithPageSize sets the page size.
func (p Params) WithPageSize(size int) Params {
	p.PageSize = size
	p.Page = 1
	return p
}

// WithPage moves to page n. It is the only mutator that keeps other
// parameters and does not reset the page.
func (p Params) WithPage(n int) Params {
	p.Page = n
	return p
}

// ActiveFacets returns the names of the active facets in sorted order.
func (p Params) ActiveFacets() []string {
	names := make([]string, 0, len(p.Facets))
	for name, f := range p.Facets {
		if f.Active() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (p Params) cloneFacets() map[string]Facet {
	out := make(map[string]Facet, len(p.Facets)+1)
	for k, v := range p.Facets {
		out[k] = v
	}
	return out
}
