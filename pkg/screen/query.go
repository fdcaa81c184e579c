package screen

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/dashboard-sync/pkg/view"
)

// ParseQuery builds view parameters from a query string using the remote's
// parameter names: search, sortField, sortDirection, page, pageSize, and
// per field <name>, <name>Min and <name>Max. Parameters naming unknown
// fields are ignored.
func (d *Definition) ParseQuery(q url.Values) (view.Params, error) {
	size := d.PageSize
	if size <= 0 {
		size = 20
	}
	p := view.NewParams(size)

	if v := q.Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return view.Params{}, fmt.Errorf("%w: pageSize %q", view.ErrInvalidParams, v)
		}
		p = p.WithPageSize(n)
	}

	p = p.WithSearch(strings.TrimSpace(q.Get("search")))

	for name := range d.Fields {
		var f view.Facet
		f.Value = q.Get(name)
		for suffix, bound := range map[string]**float64{"Min": &f.Min, "Max": &f.Max} {
			raw := q.Get(name + suffix)
			if raw == "" {
				continue
			}
			n, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return view.Params{}, fmt.Errorf("%w: %s%s %q", view.ErrInvalidParams, name, suffix, raw)
			}
			*bound = view.Float(n)
		}
		if f.Active() {
			p = p.WithFacet(name, f)
		}
	}

	if key := q.Get("sortField"); key != "" {
		if _, ok := d.Fields[key]; ok {
			dir := view.Asc
			if q.Get("sortDirection") == string(view.Desc) {
				dir = view.Desc
			}
			p = p.WithSort(key, dir)
		}
	}

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return view.Params{}, fmt.Errorf("%w: page %q", view.ErrInvalidParams, v)
		}
		p = p.WithPage(n)
	}
	return p, nil
}
