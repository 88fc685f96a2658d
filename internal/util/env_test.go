package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value      string
		defaultVal bool
		want       bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"No", true, false},
		{"off", true, false},
		{" true ", false, true},
		{"maybe", true, true},
		{"maybe", false, false},
		{"", true, true},
	}
	for _, tt := range tests {
		t.Setenv("DIETPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("DIETPIPE_TEST_BOOL", tt.defaultVal); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.defaultVal, got, tt.want)
		}
	}
}
