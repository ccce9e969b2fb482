package util

import (
	"testing"
	"time"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("NUNER_TEST_INT", "7")
	t.Setenv("NUNER_TEST_BAD_INT", "seven")
	t.Setenv("NUNER_TEST_BOOL", "true")
	t.Setenv("NUNER_TEST_SECONDS", "2.5")
	t.Setenv("NUNER_TEST_FLOAT", "0.85")

	if got := GetEnvInt("NUNER_TEST_INT", 1); got != 7 {
		t.Fatalf("GetEnvInt = %d, want 7", got)
	}
	if got := GetEnvInt("NUNER_TEST_BAD_INT", 1); got != 1 {
		t.Fatalf("GetEnvInt on bad value = %d, want default 1", got)
	}
	if got := GetEnvInt("NUNER_TEST_UNSET", 3); got != 3 {
		t.Fatalf("GetEnvInt unset = %d, want 3", got)
	}
	if !GetEnvBool("NUNER_TEST_BOOL", false) {
		t.Fatal("GetEnvBool = false, want true")
	}
	if got := GetEnvSeconds("NUNER_TEST_SECONDS", time.Second); got != 2500*time.Millisecond {
		t.Fatalf("GetEnvSeconds = %v, want 2.5s", got)
	}
	if got := GetEnvNumeric("NUNER_TEST_FLOAT", 0); got != 0.85 {
		t.Fatalf("GetEnvNumeric = %v, want 0.85", got)
	}
	if got := GetEnvString("NUNER_TEST_UNSET", "x"); got != "x" {
		t.Fatalf("GetEnvString unset = %q, want x", got)
	}
}
