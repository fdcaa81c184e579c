package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParams_MutatorsResetPage(t *testing.T) {
	start := NewParams(10).WithPage(4)

	tests := []struct {
		name   string
		mutate func(Params) Params
	}{
		{"search", func(p Params) Params { return p.WithSearch("x") }},
		{"facet", func(p Params) Params { return p.WithFacet("status", Equals("active")) }},
		{"clear facet", func(p Params) Params { return p.WithoutFacet("status") }},
		{"clear facets", func(p Params) Params { return p.WithoutFacets() }},
		{"sort", func(p Params) Params { return p.WithSort("name", Desc) }},
		{"toggle sort", func(p Params) Params { return p.ToggleSort("name") }},
		{"page size", func(p Params) Params { return p.WithPageSize(25) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, 1, tt.mutate(start).Page)
		})
	}
}

func TestParams_WithPageKeepsEverythingElse(t *testing.T) {
	p := NewParams(10).WithSearch("bob").WithFacet("status", Equals("active")).WithSort("name", Desc)
	moved := p.WithPage(3)

	assert.Equal(t, 3, moved.Page)
	assert.Equal(t, p.Search, moved.Search)
	assert.Equal(t, p.Facets, moved.Facets)
	assert.Equal(t, p.SortKey, moved.SortKey)
	assert.Equal(t, p.SortDirection, moved.SortDirection)
}

func TestParams_ToggleSort(t *testing.T) {
	p := NewParams(10).ToggleSort("name")
	assert.Equal(t, "name", p.SortKey)
	assert.Equal(t, Asc, p.SortDirection)

	p = p.ToggleSort("name")
	assert.Equal(t, Desc, p.SortDirection)

	p = p.ToggleSort("name")
	assert.Equal(t, Asc, p.SortDirection)

	p = p.ToggleSort("name").ToggleSort("price")
	assert.Equal(t, "price", p.SortKey)
	assert.Equal(t, Asc, p.SortDirection, "a new key resets to ascending")
}

func TestParams_FacetsAreCopied(t *testing.T) {
	a := NewParams(10).WithFacet("status", Equals("active"))
	b := a.WithFacet("brand", Equals("acme"))
	c := b.WithoutFacet("status")

	assert.Equal(t, []string{"status"}, a.ActiveFacets())
	assert.Equal(t, []string{"brand", "status"}, b.ActiveFacets())
	assert.Equal(t, []string{"brand"}, c.ActiveFacets())
}

func TestParams_Validate(t *testing.T) {
	assert.NoError(t, NewParams(10).Validate())
	assert.ErrorIs(t, NewParams(0).Validate(), ErrInvalidParams)
	assert.ErrorIs(t, NewParams(10).WithPage(0).Validate(), ErrInvalidParams)
}
