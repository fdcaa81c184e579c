package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every key written to Redis.
const KeyPrefix = "dashsync"

// CacheKey identifies a cached GET response.
type CacheKey struct {
	// Endpoint is the request path (e.g., "/api/toys/categories")
	Endpoint string

	// QueryParams are the query parameters of the request
	QueryParams url.Values

	// Scope separates entries of different API identities (e.g., a token
	// fingerprint). Empty for anonymous access.
	Scope string
}

// String generates a deterministic cache key string.
// Format: dashsync:endpoint:query1=val1:query2=val2:scope=abc
//
// Example:
//
//	dashsync:api/toys/categories:active=true
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			values := append([]string(nil), k.QueryParams[key]...)
			sort.Strings(values)
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(values, ",")))
		}
	}

	if k.Scope != "" {
		parts = append(parts, "scope="+k.Scope)
	}

	return strings.Join(parts, ":")
}
