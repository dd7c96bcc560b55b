package pkg

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestErrorMapsWrappedSentinels(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: conversation missing", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: not a participant", ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("%w: slow down", ErrTooManyRequests), http.StatusTooManyRequests},
		{ErrBadRequest, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		Error(rec, tt.err)
		if rec.Code != tt.status {
			t.Fatalf("Error(%v) status = %d, want %d", tt.err, rec.Code, tt.status)
		}

		var body APIResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Success {
			t.Fatalf("Error(%v) success = true", tt.err)
		}
	}
}

func TestErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, errors.New("near \"SELEC\": syntax error"))

	var body APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != ErrInternal.Error() {
		t.Fatalf("error = %q, want %q", body.Error, ErrInternal.Error())
	}
}
