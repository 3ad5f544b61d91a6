package util

import "testing"

func TestGetenvDefault(t *testing.T) {
	t.Setenv("SIT_TEST_KEY", "value")
	if got := GetenvDefault("SIT_TEST_KEY", "fallback"); got != "value" {
		t.Errorf("expected value, got %q", got)
	}
	if got := GetenvDefault("SIT_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
}

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("SIT_TEST_BOOL", "yes")
	if !ParseBoolEnv("SIT_TEST_BOOL", false) {
		t.Error("expected true for yes")
	}
	t.Setenv("SIT_TEST_BOOL", "junk")
	if ParseBoolEnv("SIT_TEST_BOOL", false) {
		t.Error("expected default for invalid value")
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("SIT_TEST_INT", "42")
	if got := ParseIntEnv("SIT_TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("SIT_TEST_INT", "nope")
	if got := ParseIntEnv("SIT_TEST_INT", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}

func TestGenerateRandomID(t *testing.T) {
	id := GenerateRandomID("watch_", 16)
	if len(id) != len("watch_")+16 {
		t.Errorf("unexpected id length: %s", id)
	}
	if id == GenerateRandomID("watch_", 16) {
		t.Error("two generated ids should differ")
	}
	if GenerateRandomHex(0) != "" {
		t.Error("zero length should give empty string")
	}
}
