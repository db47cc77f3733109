package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestFromStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{http.StatusBadRequest, KindValidation},
		{http.StatusUnprocessableEntity, KindValidation},
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusNotFound, KindNotFound},
		{http.StatusInternalServerError, KindInternal},
		{http.StatusBadGateway, KindInternal},
	}
	for _, tc := range cases {
		if got := FromStatus("op", tc.status, "msg").Kind; got != tc.want {
			t.Errorf("status %d: kind = %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestMessageOf(t *testing.T) {
	e := FromStatus("GET workflows", http.StatusNotFound, "Workflow not found or access denied")
	if MessageOf(e) != "Workflow not found or access denied" {
		t.Fatalf("MessageOf = %q", MessageOf(e))
	}
	wrapped := fmt.Errorf("outer: %w", e)
	if MessageOf(wrapped) != "Workflow not found or access denied" {
		t.Fatal("MessageOf should see through wrapping")
	}
	plain := errors.New("boom")
	if MessageOf(plain) != "boom" {
		t.Fatalf("MessageOf(plain) = %q", MessageOf(plain))
	}
}

func TestIsAuthAndUnwrap(t *testing.T) {
	cause := errors.New("expired")
	e := Wrap(KindAuth, "login", "Invalid email or password", cause)
	if !IsAuth(e) {
		t.Fatal("expected auth kind")
	}
	if !errors.Is(e, cause) {
		t.Fatal("cause should unwrap")
	}
	if IsAuth(New(KindNetwork, "login", "no route")) {
		t.Fatal("network error misclassified as auth")
	}
}
