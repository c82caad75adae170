package pagination

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, target string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor(t, "/")
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := paramsFor(t, "/?limit=50&offset=10")
	if p.Limit != 50 || p.Offset != 10 {
		t.Errorf("expected 50/10, got %d/%d", p.Limit, p.Offset)
	}
}

func TestFromContext_Page(t *testing.T) {
	p := paramsFor(t, "/?limit=10&page=3")
	if p.Offset != 20 {
		t.Errorf("expected offset 20, got %d", p.Offset)
	}

	p = paramsFor(t, "/?limit=10&page=3&offset=5")
	if p.Offset != 5 {
		t.Errorf("explicit offset should win, got %d", p.Offset)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	p := paramsFor(t, "/?limit=500")
	if p.Limit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_NegativeOffset(t *testing.T) {
	p := paramsFor(t, "/?offset=-5")
	if p.Offset != 0 {
		t.Errorf("expected offset 0 for negative input, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 50, Params{Limit: 10, Offset: 0})
	if resp.Total != 50 || resp.Limit != 10 || resp.Offset != 0 {
		t.Errorf("unexpected envelope %+v", resp)
	}
	if !resp.HasMore {
		t.Error("expected HasMore to be true")
	}

	resp = NewResponse([]string{}, 5, Params{Limit: 10, Offset: 0})
	if resp.HasMore {
		t.Error("expected HasMore to be false")
	}
}

func TestParams_Offsets(t *testing.T) {
	p := Params{Limit: 10, Offset: 5}
	if p.NextOffset() != 15 {
		t.Errorf("expected next 15, got %d", p.NextOffset())
	}
	if p.PreviousOffset() != 0 {
		t.Errorf("expected previous clamped to 0, got %d", p.PreviousOffset())
	}
	if !p.HasPrevious() {
		t.Error("expected HasPrevious")
	}
	if p.HasNext(15) {
		t.Error("expected no next page at total 15")
	}
}

func TestResponse_WithLinks(t *testing.T) {
	q := url.Values{"patient_id": {"p-1"}, "offset": {"10"}}
	resp := NewResponse(nil, 35, Params{Limit: 10, Offset: 10}).WithLinks("/api/v1/appointments", q)
	if resp.Links == nil {
		t.Fatal("expected links")
	}
	if resp.Links.Next != "/api/v1/appointments?limit=10&offset=20&patient_id=p-1" {
		t.Errorf("unexpected next %q", resp.Links.Next)
	}
	if resp.Links.Previous != "/api/v1/appointments?limit=10&offset=0&patient_id=p-1" {
		t.Errorf("unexpected previous %q", resp.Links.Previous)
	}

	single := NewResponse(nil, 3, Params{Limit: 10}).WithLinks("/x", nil)
	if single.Links != nil {
		t.Errorf("expected no links for a single page, got %+v", single.Links)
	}
}
