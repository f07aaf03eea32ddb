package timeutil

import (
	"testing"
	"time"
)

func TestNow_AlwaysUTC(t *testing.T) {
	now := Now()

	if now.Location() != time.UTC {
		t.Errorf("Now() returned non-UTC timezone: %v", now.Location())
	}
}

func TestMillisRoundTrip(t *testing.T) {
	ts := time.Date(2025, 11, 20, 12, 30, 45, 123000000, time.UTC)

	got := FromMillis(ts.UnixMilli())
	if !got.Equal(ts) {
		t.Errorf("FromMillis() = %v, want %v", got, ts)
	}
	if got.Location() != time.UTC {
		t.Errorf("FromMillis() returned non-UTC timezone: %v", got.Location())
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "RFC3339 with offset",
			input:    "2025-11-20T08:00:00+08:00",
			expected: "2025-11-20 00:00:00 +0000 UTC",
		},
		{
			name:     "RFC3339 UTC",
			input:    "2025-11-20T12:30:45Z",
			expected: "2025-11-20 12:30:45 +0000 UTC",
		},
		{
			name:     "date time without zone",
			input:    "2025-11-20 12:30:45",
			expected: "2025-11-20 12:30:45 +0000 UTC",
		},
		{
			name:     "date only",
			input:    "2025-11-20",
			expected: "2025-11-20 00:00:00 +0000 UTC",
		},
		{
			name:    "garbage",
			input:   "20/11/2025",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDate(%q) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDate(%q) unexpected error: %v", tt.input, err)
			}
			if got.String() != tt.expected {
				t.Errorf("ParseDate(%q) = %s, want %s", tt.input, got.String(), tt.expected)
			}
		})
	}
}

func TestStartOfDay(t *testing.T) {
	input := time.Date(2025, 11, 20, 23, 59, 59, 0, time.UTC)
	expected := "2025-11-20 00:00:00 +0000 UTC"

	if got := StartOfDay(input).String(); got != expected {
		t.Errorf("StartOfDay() = %s, want %s", got, expected)
	}
}
