package dispensing

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/clinic/dispensary/internal/domain/prescription"
	"github.com/clinic/dispensary/internal/platform/apperr"
	"github.com/clinic/dispensary/internal/platform/result"
)

func completeContext(id string) (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c, rec
}

func TestHandler_Complete(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)

	c, rec := completeContext(f.rx.ID.String())
	if err := h.Complete(c); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"COMPLETED"`) {
		t.Errorf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}

	c, _ = completeContext(f.rx.ID.String())
	if err := h.Complete(c); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted, got %v", err)
	}

	c, _ = completeContext("bad")
	if err := h.Complete(c); err == nil {
		t.Error("expected error for invalid id")
	}
}

func TestHandler_Complete_StateConflicts(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{"batch not assigned", func(f *fixture) { f.rx.Issues[0].BatchID = nil }},
		{"already completed", func(f *fixture) { f.rx.Status = prescription.StatusCompleted }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)
			h := NewHandler(f.svc)

			c, _ := completeContext(f.rx.ID.String())
			err := h.Complete(c)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := result.StatusFor(apperr.KindOf(err)); got != http.StatusConflict {
				t.Errorf("expected 409, got %d (%v)", got, err)
			}
		})
	}
}
