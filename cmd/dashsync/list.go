package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/dashboard-sync/pkg/screen"
	"github.com/spf13/cobra"
)

type listOptions struct {
	screenPath string
	search     string
	facets     []string
	ranges     []string
	sort       string
	desc       bool
	page       int
	pageSize   int
}

func newListCmd(a *app) *cobra.Command {
	opts := &listOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Load a screen and print one page as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runList(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.screenPath, "screen", "", "screen definition file")
	f.StringVar(&opts.search, "search", "", "search term")
	f.StringArrayVar(&opts.facets, "facet", nil, "equality facet NAME=VALUE (repeatable)")
	f.StringArrayVar(&opts.ranges, "range", nil, "range facet NAME=MIN:MAX, either bound may be empty (repeatable)")
	f.StringVar(&opts.sort, "sort", "", "sort field")
	f.BoolVar(&opts.desc, "desc", false, "sort descending")
	f.IntVar(&opts.page, "page", 1, "page number")
	f.IntVar(&opts.pageSize, "page-size", 0, "page size (default from the screen)")
	_ = cmd.MarkFlagRequired("screen")
	return cmd
}

// query renders the flags in the remote's query vocabulary so that
// screen.ParseQuery validates them like any other request.
func (o *listOptions) query() (url.Values, error) {
	q := url.Values{}
	if o.search != "" {
		q.Set("search", o.search)
	}
	for _, kv := range o.facets {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("--facet %q must be NAME=VALUE", kv)
		}
		q.Set(name, value)
	}
	for _, kv := range o.ranges {
		name, bounds, ok := strings.Cut(kv, "=")
		lo, hi, ok2 := strings.Cut(bounds, ":")
		if !ok || !ok2 || name == "" {
			return nil, fmt.Errorf("--range %q must be NAME=MIN:MAX", kv)
		}
		if lo != "" {
			q.Set(name+"Min", lo)
		}
		if hi != "" {
			q.Set(name+"Max", hi)
		}
	}
	if o.sort != "" {
		q.Set("sortField", o.sort)
		if o.desc {
			q.Set("sortDirection", "desc")
		}
	}
	q.Set("page", strconv.Itoa(o.page))
	if o.pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(o.pageSize))
	}
	return q, nil
}

func (a *app) runList(cmd *cobra.Command, opts *listOptions) error {
	def, err := screen.ParseFile(opts.screenPath)
	if err != nil {
		return err
	}
	q, err := opts.query()
	if err != nil {
		return err
	}
	params, err := def.ParseQuery(q)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	b, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	s, err := a.newSession(b, def)
	if err != nil {
		return err
	}
	if err := s.SetParams(params); err != nil {
		return err
	}
	if err := s.Load(ctx); err != nil {
		return fmt.Errorf("load %s: %w", def.Name, err)
	}

	snap := s.Snapshot()
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	for _, item := range snap.Items {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}

	summary := fmt.Sprintf("page %d/%d, %d items", snap.Params.Page, snap.TotalPages, snap.Total)
	if snap.Degraded {
		summary += " (reference data incomplete)"
	}
	fmt.Fprintln(cmd.ErrOrStderr(), summary)
	return nil
}
