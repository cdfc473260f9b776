package timeutil

import (
	"testing"
	"time"
)

func TestToUTC(t *testing.T) {
	tests := []struct {
		name   string
		date   string
		clock  string
		offset time.Duration
		want   time.Time
	}{
		{"utc+7 morning", "2026-03-10", "09:30", 7 * time.Hour, time.Date(2026, 3, 10, 2, 30, 0, 0, time.UTC)},
		{"utc+7 crosses midnight", "2026-03-10", "05:00", 7 * time.Hour, time.Date(2026, 3, 9, 22, 0, 0, 0, time.UTC)},
		{"utc-5 evening", "2026-03-10", "10:15 PM", -5 * time.Hour, time.Date(2026, 3, 11, 3, 15, 0, 0, time.UTC)},
		{"utc", "2026-12-31", "23:59:30", 0, time.Date(2026, 12, 31, 23, 59, 30, 0, time.UTC)},
		{"lowercase meridiem", "2026-03-10", "3:04pm", 0, time.Date(2026, 3, 10, 15, 4, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToUTC(tt.date, tt.clock, tt.offset)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ToUTC = %v, want %v", got, tt.want)
			}
			if got.Location() != time.UTC {
				t.Errorf("location = %v, want UTC", got.Location())
			}
		})
	}
}

func TestToUTCInvalid(t *testing.T) {
	if _, err := ToUTC("10/03/2026", "09:30", 0); err == nil {
		t.Error("expected error for malformed date")
	}
	if _, err := ToUTC("2026-03-10", "half past nine", 0); err == nil {
		t.Error("expected error for malformed time")
	}
}
