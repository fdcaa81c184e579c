package screen

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/dashboard-sync/internal/testutil"
	"github.com/Sternrassler/dashboard-sync/pkg/client"
	"github.com/Sternrassler/dashboard-sync/pkg/notify"
	"github.com/Sternrassler/dashboard-sync/pkg/reference"
	"github.com/Sternrassler/dashboard-sync/pkg/session"
	"github.com/Sternrassler/dashboard-sync/pkg/view"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guestsYAML = `
name: guests
endpoint: /api/guests
mode: client
pageSize: 2
search: [name, table.label]
fields:
  status: rsvp.status
  age: age
  name: name
references:
  - name: tables
    endpoint: /api/tables
    label: label
referenceMode: strict
`

func parse(t *testing.T, src string) *Definition {
	t.Helper()
	def, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	return def
}

func TestParse(t *testing.T) {
	def := parse(t, guestsYAML)

	assert.Equal(t, "guests", def.Name)
	assert.Equal(t, []string{"name", "table.label"}, def.Search)
	assert.Equal(t, "rsvp.status", def.Fields["status"])

	cfg := def.SessionConfig()
	assert.Equal(t, session.ModeClient, cfg.Mode)
	assert.Equal(t, 2, cfg.PageSize)
	assert.Equal(t, reference.ModeStrict, cfg.ReferenceMode)
	assert.Equal(t, []reference.Spec{{Name: "tables", Endpoint: "/api/tables", NameField: "label"}}, cfg.References)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"missing name", "endpoint: /api/x\n", "name is required"},
		{"relative endpoint", "name: x\nendpoint: api/x\n", "must start with /"},
		{"bad mode", "name: x\nendpoint: /x\nmode: hybrid\n", "server or client"},
		{"bad reference mode", "name: x\nendpoint: /x\nreferenceMode: lenient\n", "partial or strict"},
		{"bad reference", "name: x\nendpoint: /x\nreferences:\n  - name: a\n", "reference 0"},
		{"unknown key", "name: x\nendpoint: /x\ncolour: red\n", "colour"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guests.yaml"), []byte(guestsYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "toys.yml"), []byte("name: toys\nendpoint: /api/toys\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	defs, err := ParseDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "guests", defs[0].Name)
	assert.Equal(t, "toys", defs[1].Name)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dup.yaml"), []byte("name: toys\nendpoint: /api/other\n"), 0o600))
	_, err = ParseDir(dir)
	assert.ErrorContains(t, err, "defined in")
}

func TestDefinition_Fields(t *testing.T) {
	def := parse(t, guestsYAML)
	rec := Record(`{"id":7,"name":"Trần","age":31,"rsvp":{"status":"yes"},"plus_one":null}`)

	assert.Equal(t, "7", def.ID(rec))
	assert.Equal(t, "yes", def.Field(rec, "status"))
	assert.Equal(t, 31.0, def.Field(rec, "age"))
	assert.Nil(t, def.Field(rec, "unknown"))

	def.Fields["plus"] = "plus_one"
	assert.Nil(t, def.Field(rec, "plus"), "JSON null is a null value")

	def.IDField = "rsvp.status"
	assert.Equal(t, "yes", def.ID(rec))
}

func TestDefinition_SchemaComputesViews(t *testing.T) {
	def := parse(t, guestsYAML)
	items := []Record{
		Record(`{"id":1,"name":"Nguyễn Văn A","age":40,"rsvp":{"status":"yes"},"table":{"label":"Garden"}}`),
		Record(`{"id":2,"name":"Anna","age":25,"rsvp":{"status":"no"},"table":{"label":"Terrace"}}`),
		Record(`{"id":3,"name":"Bob","rsvp":{"status":"yes"},"table":{"label":"Garden"}}`),
	}
	schema := def.Schema()

	res := view.Compute(items, schema, view.NewParams(10).WithSearch("nguyen"))
	assert.Equal(t, 1, res.TotalFiltered)

	res = view.Compute(items, schema, view.NewParams(10).WithSearch("garden"))
	assert.Equal(t, 2, res.TotalFiltered, "nested search paths")

	res = view.Compute(items, schema, view.NewParams(10).WithFacet("status", view.Equals("yes")).WithSort("age", view.Desc))
	require.Equal(t, 2, res.TotalFiltered)
	assert.Equal(t, "1", def.ID(res.PageItems[0]))
	assert.Equal(t, "3", def.ID(res.PageItems[1]), "missing ages sort last")
}

func TestDefinition_ParseQuery(t *testing.T) {
	def := parse(t, guestsYAML)

	q := url.Values{
		"search":        {" anna "},
		"status":        {"yes"},
		"ageMin":        {"18"},
		"ageMax":        {"65"},
		"colour":        {"red"},
		"sortField":     {"age"},
		"sortDirection": {"desc"},
		"page":          {"3"},
		"pageSize":      {"5"},
	}
	p, err := def.ParseQuery(q)
	require.NoError(t, err)

	assert.Equal(t, "anna", p.Search)
	assert.Equal(t, []string{"age", "status"}, p.ActiveFacets())
	assert.Equal(t, 18.0, *p.Facets["age"].Min)
	assert.Equal(t, 65.0, *p.Facets["age"].Max)
	assert.Equal(t, "age", p.SortKey)
	assert.Equal(t, view.Desc, p.SortDirection)
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 5, p.PageSize)

	p, err = def.ParseQuery(url.Values{"sortField": {"colour"}})
	require.NoError(t, err)
	assert.Empty(t, p.SortKey, "unknown sort keys are ignored")
	assert.Equal(t, 2, p.PageSize)

	for _, bad := range []url.Values{
		{"page": {"0"}},
		{"pageSize": {"x"}},
		{"ageMin": {"old"}},
	} {
		_, err := def.ParseQuery(bad)
		assert.ErrorIs(t, err, view.ErrInvalidParams)
	}
}

func TestDefinition_NewSession(t *testing.T) {
	mock := testutil.NewMockDashboard()
	defer mock.Close()
	mock.SetCollection("/api/guests", []testutil.Record{
		{"id": "g1", "name": "Nguyễn", "rsvp": map[string]any{"status": "yes"}},
		{"id": "g2", "name": "Anna", "rsvp": map[string]any{"status": "no"}},
		{"id": "g3", "name": "Bob", "rsvp": map[string]any{"status": "yes"}},
	})
	mock.SetResponse("/api/tables", testutil.NewHealthyResponse(`[{"id":"t1","label":"Garden"}]`))

	c, err := client.New(client.DefaultConfig(mock.URL(), "dashsync-test/1.0"), client.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	def := parse(t, guestsYAML)
	s, err := def.NewSession(c, notify.Nop, func(cfg *session.Config[Record]) { cfg.FallbackTimeout = 0 })
	require.NoError(t, err)
	require.NoError(t, s.Load(context.Background()))

	snap := s.Snapshot()
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 2, snap.TotalPages)
	assert.Equal(t, "Garden", snap.Sets.NameOf("tables", "t1"))

	s.SetFacet("status", view.Equals("yes"))
	s.SetSearch("nguyen")
	snap = s.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "g1", def.ID(snap.Items[0]))
}
