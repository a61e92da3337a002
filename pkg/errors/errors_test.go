package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(cause, ErrCodeChannelUnreachable, "relay unreachable", http.StatusBadGateway)

	if err.Unwrap() != cause {
		t.Fatal("expected Unwrap to return the cause")
	}
	msg := err.Error()
	if msg == "" || msg == "relay unreachable" {
		t.Fatalf("expected code and cause in message, got %q", msg)
	}
}

func TestGetAppError_FindsWrappedError(t *testing.T) {
	inner := NewRoomFull("abc12345")
	wrapped := fmt.Errorf("join failed: %w", inner)

	got := GetAppError(wrapped)
	if got == nil {
		t.Fatal("expected to find AppError in chain")
	}
	if got.Code != ErrCodeRoomFull {
		t.Fatalf("unexpected code %s", got.Code)
	}
	if got.HTTPStatus != http.StatusConflict {
		t.Fatalf("unexpected http status %d", got.HTTPStatus)
	}
}

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{NewRoomNotFound("abc12345"), ErrCodeRoomNotFound},
		{NewInvalidPassword(), ErrCodeRoomInvalidPassword},
		{NewChannelTimeout("join timed out"), ErrCodeChannelTimeout},
		{fmt.Errorf("wrapped: %w", NewPermissionDenied("nope")), ErrCodePermissionDenied},
		{fmt.Errorf("plain error"), ErrCodeInternal},
		{nil, ErrCodeInternal},
	}
	for _, tc := range cases {
		if got := CodeOf(tc.err); got != tc.want {
			t.Errorf("CodeOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}
