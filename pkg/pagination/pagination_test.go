package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/jobs?"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query string
		want  Params
	}{
		{"", Params{Limit: DefaultLimit}},
		{"limit=50&offset=10", Params{Limit: 50, Offset: 10}},
		{"limit=500", Params{Limit: MaxLimit}},
		{"limit=-3&offset=-1", Params{Limit: DefaultLimit}},
		{"limit=abc&offset=xyz", Params{Limit: DefaultLimit}},
	}
	for _, tt := range tests {
		if got := paramsFor(tt.query); got != tt.want {
			t.Errorf("FromContext(%q) = %+v, want %+v", tt.query, got, tt.want)
		}
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a", "b"}, 5, 2, 0)
	if !r.HasMore {
		t.Error("expected has_more with 5 total and first page of 2")
	}
	if r.NextOffset == nil || *r.NextOffset != 2 {
		t.Errorf("expected next offset 2, got %v", r.NextOffset)
	}

	last := NewResponse([]string{"e"}, 5, 2, 4)
	if last.HasMore || last.NextOffset != nil {
		t.Errorf("expected last page without next offset, got %+v", last)
	}
}
