// Package testutil holds assertion helpers shared by package tests.
package testutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// AssertEqual reports a cmp.Diff when got and want differ.
func AssertEqual(t *testing.T, got, want any, msgAndArgs ...any) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		if msg := formatMessage(msgAndArgs...); msg != "" {
			t.Errorf("%s: mismatch (-want +got):\n%s", msg, diff)
			return
		}
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func AssertNoError(t *testing.T, err error, msgAndArgs ...any) {
	t.Helper()
	if err != nil {
		if msg := formatMessage(msgAndArgs...); msg != "" {
			t.Fatalf("%s: unexpected error: %v", msg, err)
		}
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertErrorIs fails unless errors.Is(err, target).
func AssertErrorIs(t *testing.T, err, target error, msgAndArgs ...any) {
	t.Helper()
	if !errors.Is(err, target) {
		if msg := formatMessage(msgAndArgs...); msg != "" {
			t.Errorf("%s: error = %v, want %v", msg, err, target)
			return
		}
		t.Errorf("error = %v, want %v", err, target)
	}
}

func formatMessage(msgAndArgs ...any) string {
	if len(msgAndArgs) == 0 {
		return ""
	}
	if s, ok := msgAndArgs[0].(string); ok {
		if len(msgAndArgs) == 1 {
			return s
		}
		return fmt.Sprintf(s, msgAndArgs[1:]...)
	}
	return fmt.Sprint(msgAndArgs[0])
}
