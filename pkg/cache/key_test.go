package cache

import (
	"net/url"
	"testing"
)

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "simple endpoint no params",
			key: CacheKey{
				Endpoint: "/api/toys/categories/",
			},
			want: "dashsync:api/toys/categories",
		},
		{
			name: "endpoint with query params",
			key: CacheKey{
				Endpoint: "/api/toys/brands",
				QueryParams: url.Values{
					"active": []string{"true"},
				},
			},
			want: "dashsync:api/toys/brands:active=true",
		},
		{
			name: "multiple query params are sorted",
			key: CacheKey{
				Endpoint: "/api/toys/brands",
				QueryParams: url.Values{
					"region": []string{"eu"},
					"active": []string{"true"},
				},
			},
			want: "dashsync:api/toys/brands:active=true:region=eu",
		},
		{
			name: "multi-valued param is sorted",
			key: CacheKey{
				Endpoint: "/api/tags",
				QueryParams: url.Values{
					"kind": []string{"b", "a"},
				},
			},
			want: "dashsync:api/tags:kind=a,b",
		},
		{
			name: "scoped key",
			key: CacheKey{
				Endpoint: "/api/wallet/accounts",
				Scope:    "tok-3f2a",
			},
			want: "dashsync:api/wallet/accounts:scope=tok-3f2a",
		},
		{
			name: "empty endpoint",
			key:  CacheKey{},
			want: "dashsync",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	key := CacheKey{
		Endpoint: "/api/guests",
		QueryParams: url.Values{
			"z": []string{"1"},
			"a": []string{"2"},
			"m": []string{"3"},
		},
	}

	first := key.String()
	for i := 0; i < 50; i++ {
		if got := key.String(); got != first {
			t.Fatalf("String() not deterministic: %v vs %v", got, first)
		}
	}
}
