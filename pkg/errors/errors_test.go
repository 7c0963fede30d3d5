package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesWrappedCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", ErrOutOfOrderEvent.WithDetail("event precedes tail"))
	if !Is(err, CodeOutOfOrderEvent) {
		t.Error("wrapped AppError code not matched")
	}
	if Is(err, CodeWorldArchived) {
		t.Error("matched a different code")
	}
	if Is(errors.New("plain"), CodeOutOfOrderEvent) {
		t.Error("matched a non-AppError")
	}
	if Is(nil, CodeOutOfOrderEvent) {
		t.Error("matched nil")
	}
}

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	detailed := ErrWorldArchived.WithDetail("world w1")
	if detailed.Detail != "world w1" {
		t.Errorf("detail = %q", detailed.Detail)
	}
	if ErrWorldArchived.Detail != "" {
		t.Errorf("sentinel mutated: %q", ErrWorldArchived.Detail)
	}
	if detailed.Code != ErrWorldArchived.Code {
		t.Error("detail copy changed the code")
	}
}

func TestWithErrorUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := ErrPropagationFailure.WithError(cause)
	if !errors.Is(err, cause) {
		t.Error("cause not reachable via errors.Is")
	}
	if ErrPropagationFailure.Err != nil {
		t.Error("sentinel mutated by WithError")
	}
}

func TestAsAppErrorWrapsUnknown(t *testing.T) {
	appErr := AsAppError(errors.New("boom"))
	if appErr.Code != CodeInternalError {
		t.Errorf("code = %s, want internal error", appErr.Code)
	}

	same := AsAppError(ErrTimelineNotFound)
	if same.Code != CodeTimelineNotFound {
		t.Errorf("code = %s, want timeline not found", same.Code)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err  *AppError
		want int
	}{
		{ErrOutOfOrderEvent, http.StatusBadRequest},
		{ErrGenealogyCycle, http.StatusBadRequest},
		{ErrTimelineNotFound, http.StatusNotFound},
		{ErrWorldNotFound, http.StatusNotFound},
		{ErrDuplicateTimeline, http.StatusConflict},
		{ErrWorldArchived, http.StatusConflict},
		{ErrWorldPaused, http.StatusConflict},
		{ErrChoiceRejected, http.StatusUnprocessableEntity},
		{ErrTooManyRequests, http.StatusTooManyRequests},
		{ErrPersistenceFailure, http.StatusServiceUnavailable},
		{ErrPropagationFailure, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if tt.err.HTTPStatus != tt.want {
			t.Errorf("%s status = %d, want %d", tt.err.Code, tt.err.HTTPStatus, tt.want)
		}
	}
}
