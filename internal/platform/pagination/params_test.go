package pagination

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"reflect"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" {
		t.Fatalf("expected empty page token got %q", params.PageToken)
	}
	if !reflect.DeepEqual(params.Cursor, Cursor{}) {
		t.Fatalf("expected zero cursor, got %#v", params.Cursor)
	}
	if params.Filters != nil {
		t.Fatalf("expected nil filters, got %#v", params.Filters)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	values := url.Values{}
	values.Set("pageSize", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}

	values.Set("pageSize", "400")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != opts.MaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", opts.MaxPageSize, params.PageSize)
	}
}

func TestParseInvalidPageSize(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-3"} {
		values := url.Values{}
		values.Set("pageSize", raw)
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("pageSize %q: expected ErrInvalidPageSize got %v", raw, err)
		}
	}
}

func TestParsePageTokenRoundTrip(t *testing.T) {
	token, err := EncodeToken(Cursor{StartAfter: []any{"2026-01-02T03:04:05Z", "ord_01"}})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}

	values := url.Values{}
	values.Set("pageToken", token)
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageToken != token {
		t.Fatalf("expected token preserved")
	}
	if len(params.Cursor.StartAfter) != 2 || params.Cursor.StartAfter[1] != "ord_01" {
		t.Fatalf("unexpected cursor %#v", params.Cursor)
	}
}

func TestParseInvalidPageToken(t *testing.T) {
	values := url.Values{}
	values.Set("pageToken", "%%%not-base64")
	if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken got %v", err)
	}
}

func TestEncodeTokenEmptyCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil || token != "" {
		t.Fatalf("expected empty token, got %q err=%v", token, err)
	}
}

func TestFromRequestFilters(t *testing.T) {
	req := httptest.NewRequest("GET", "/orders?status=%22shipped%22&ignored=x", nil)
	params, err := FromRequest(req, Options{FilterFields: []string{"status"}})
	if err != nil {
		t.Fatalf("FromRequest returned error: %v", err)
	}
	if !reflect.DeepEqual(params.Filters, map[string]string{"status": "shipped"}) {
		t.Fatalf("unexpected filters %#v", params.Filters)
	}

	req = httptest.NewRequest("GET", "/orders?status=%20", nil)
	if _, err := FromRequest(req, Options{FilterFields: []string{"status"}}); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter got %v", err)
	}
}
