package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// maxSnippet caps the body excerpt carried by a ProtocolError.
const maxSnippet = 256

// Sort directions accepted by the remote.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Range is an inclusive numeric bound on a facet. Nil bounds are open.
type Range struct {
	Min *float64
	Max *float64
}

// ListOptions are the query parameters of a paginated collection fetch.
type ListOptions struct {
	Search string

	// Filters are equality facets, encoded as <facet>=<value>.
	Filters map[string]string

	// Ranges are numeric facets, encoded as <facet>Min and <facet>Max.
	Ranges map[string]Range

	SortField     string
	SortDirection string

	Page     int
	PageSize int
}

// Validate checks the pagination parameters. Facet names are not validated.
func (o ListOptions) Validate() error {
	if o.Page < 1 || o.PageSize <= 0 {
		return ErrInvalidPage
	}
	return nil
}

// Values encodes the options as query parameters. Empty values are omitted.
func (o ListOptions) Values() url.Values {
	v := url.Values{}
	if s := strings.TrimSpace(o.Search); s != "" {
		v.Set("search", s)
	}
	for name, value := range o.Filters {
		if name == "" || value == "" {
			continue
		}
		v.Set(name, value)
	}
	for name, r := range o.Ranges {
		if name == "" {
			continue
		}
		if r.Min != nil {
			v.Set(name+"Min", formatFloat(*r.Min))
		}
		if r.Max != nil {
			v.Set(name+"Max", formatFloat(*r.Max))
		}
	}
	if o.SortField != "" {
		v.Set("sortField", o.SortField)
		dir := o.SortDirection
		if dir != SortDesc {
			dir = SortAsc
		}
		v.Set("sortDirection", dir)
	}
	if o.Page > 0 {
		v.Set("page", strconv.Itoa(o.Page))
	}
	if o.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(o.PageSize))
	}
	return v
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Pagination is the server's description of a page.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Page is one page of a remote collection.
type Page[T any] struct {
	Items      []T
	Pagination Pagination
}

// FetchPage retrieves one page of a collection. The page holds at most
// opts.PageSize items.
func FetchPage[T any](ctx context.Context, c *Client, endpoint string, opts ListOptions) (*Page[T], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	resp, err := c.get(ctx, endpoint, opts.Values())
	if err != nil {
		return nil, err
	}

	root, err := decodeEnvelope(resp)
	if err != nil {
		return nil, err
	}

	items, err := decodeItems[T](resp, root)
	if err != nil {
		return nil, err
	}

	if len(items) > opts.PageSize {
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("returned", len(items)).
			Int("page_size", opts.PageSize).
			Msg("Server returned more items than requested, truncating")
		items = items[:opts.PageSize]
	}

	var p Pagination
	if raw := root.Get("pagination"); raw.IsObject() {
		if err := json.Unmarshal([]byte(raw.Raw), &p); err != nil {
			return nil, protocolError(resp)
		}
	}
	p = completePagination(p, opts, len(items))

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("page", p.Page).
		Int("items", len(items)).
		Int("total", p.Total).
		Msg("Fetched page")

	return &Page[T]{Items: items, Pagination: p}, nil
}

// completePagination fills fields the server left out from the request.
func completePagination(p Pagination, opts ListOptions, count int) Pagination {
	if p.Page < 1 {
		p.Page = opts.Page
	}
	if p.PageSize <= 0 {
		p.PageSize = opts.PageSize
	}
	if p.Total < 0 {
		p.Total = 0
	}
	if p.Total == 0 && count > 0 {
		p.Total = (p.Page-1)*p.PageSize + count
	}
	if p.TotalPages <= 0 && p.Total > 0 {
		p.TotalPages = (p.Total + p.PageSize - 1) / p.PageSize
	}
	return p
}

// FetchList retrieves an unpaginated collection such as a reference set.
// Responses are served through the client's cache when it has one.
func FetchList[T any](ctx context.Context, c *Client, endpoint string) ([]T, error) {
	resp, err := c.getCached(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	root, err := decodeEnvelope(resp)
	if err != nil {
		return nil, err
	}
	return decodeItems[T](resp, root)
}

// Create posts a new item to a collection and returns the created record.
func (c *Client) Create(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	return c.mutate(ctx, http.MethodPost, endpoint, endpoint, body)
}

// Update replaces the item id of a collection.
func (c *Client) Update(ctx context.Context, endpoint, id string, body any) (json.RawMessage, error) {
	return c.mutate(ctx, http.MethodPut, endpoint, itemPath(endpoint, id), body)
}

// Delete removes the item id of a collection.
func (c *Client) Delete(ctx context.Context, endpoint, id string) error {
	_, err := c.mutate(ctx, http.MethodDelete, endpoint, itemPath(endpoint, id), nil)
	return err
}

func itemPath(endpoint, id string) string {
	return strings.TrimRight(endpoint, "/") + "/" + url.PathEscape(id)
}

func (c *Client) mutate(ctx context.Context, method, label, path string, body any) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, method, path, nil, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req, label)
	if err != nil {
		return nil, err
	}

	// 204 and empty 2xx bodies carry no envelope
	if isSuccess(resp.StatusCode) && len(strings.TrimSpace(string(resp.Body))) == 0 {
		return nil, nil
	}

	root, err := decodeEnvelope(resp)
	if err != nil {
		return nil, err
	}
	if data := root.Get("data"); data.Exists() && data.Type != gjson.Null {
		return json.RawMessage(data.Raw), nil
	}
	return nil, nil
}

// decodeEnvelope validates the {success, data, message} wrapper.
func decodeEnvelope(resp *Response) (gjson.Result, error) {
	valid := gjson.ValidBytes(resp.Body)

	if !isSuccess(resp.StatusCode) {
		msg := http.StatusText(resp.StatusCode)
		if valid {
			if m := gjson.GetBytes(resp.Body, "message"); m.String() != "" {
				msg = m.String()
			}
		}
		return gjson.Result{}, &RemoteRequestFailed{
			Status:  resp.StatusCode,
			Message: msg,
			Class:   classifyStatus(resp.StatusCode),
		}
	}

	if !valid {
		return gjson.Result{}, protocolError(resp)
	}
	root := gjson.ParseBytes(resp.Body)
	if !root.IsObject() {
		return gjson.Result{}, protocolError(resp)
	}

	success := root.Get("success")
	if !success.Exists() {
		return gjson.Result{}, protocolError(resp)
	}
	if !success.Bool() {
		msg := root.Get("message").String()
		if msg == "" {
			msg = "request rejected"
		}
		return gjson.Result{}, &RemoteRequestFailed{
			Status:  resp.StatusCode,
			Message: msg,
			Class:   ErrorClassClient,
		}
	}
	return root, nil
}

// decodeItems reads the item array from data or items.
func decodeItems[T any](resp *Response, root gjson.Result) ([]T, error) {
	data := root.Get("data")
	if !data.Exists() || data.Type == gjson.Null {
		data = root.Get("items")
	}
	if !data.Exists() || data.Type == gjson.Null {
		return []T{}, nil
	}
	if !data.IsArray() {
		return nil, protocolError(resp)
	}

	items := make([]T, 0, len(data.Array()))
	if err := json.Unmarshal([]byte(data.Raw), &items); err != nil {
		return nil, protocolError(resp)
	}
	return items, nil
}

func protocolError(resp *Response) *ProtocolError {
	snippet := resp.Body
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}
	return &ProtocolError{Status: resp.StatusCode, Snippet: string(snippet)}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
