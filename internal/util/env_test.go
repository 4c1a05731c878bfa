package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value    string
		fallback bool
		want     bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"ON", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"OFF", true, false},
		{" true ", false, true},
		{"garbage", true, true},
		{"garbage", false, false},
	}
	for _, tc := range cases {
		t.Setenv("STEPTIMER_TEST_BOOL", tc.value)
		if got := ParseBoolEnv("STEPTIMER_TEST_BOOL", tc.fallback); got != tc.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tc.value, tc.fallback, got, tc.want)
		}
	}
}

func TestParseBoolEnvUnset(t *testing.T) {
	if got := ParseBoolEnv("STEPTIMER_TEST_BOOL_UNSET", true); !got {
		t.Error("expected default true for unset variable")
	}
	if got := ParseBoolEnv("STEPTIMER_TEST_BOOL_UNSET", false); got {
		t.Error("expected default false for unset variable")
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("STEPTIMER_TEST_INT", "42")
	if got := ParseIntEnv("STEPTIMER_TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}

	t.Setenv("STEPTIMER_TEST_INT", " -3 ")
	if got := ParseIntEnv("STEPTIMER_TEST_INT", 7); got != -3 {
		t.Errorf("expected -3, got %d", got)
	}

	t.Setenv("STEPTIMER_TEST_INT", "not a number")
	if got := ParseIntEnv("STEPTIMER_TEST_INT", 7); got != 7 {
		t.Errorf("expected default 7 for invalid value, got %d", got)
	}

	if got := ParseIntEnv("STEPTIMER_TEST_INT_UNSET", 7); got != 7 {
		t.Errorf("expected default 7 for unset variable, got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("STEPTIMER_TEST_DURATION", "90s")
	if got := ParseDurationEnv("STEPTIMER_TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Errorf("expected 90s, got %v", got)
	}

	t.Setenv("STEPTIMER_TEST_DURATION", "bogus")
	if got := ParseDurationEnv("STEPTIMER_TEST_DURATION", time.Minute); got != time.Minute {
		t.Errorf("expected default 1m for invalid value, got %v", got)
	}

	if got := ParseDurationEnv("STEPTIMER_TEST_DURATION_UNSET", 5*time.Minute); got != 5*time.Minute {
		t.Errorf("expected default 5m for unset variable, got %v", got)
	}
}
