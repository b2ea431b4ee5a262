package cron

import (
	"errors"
	"testing"
	"time"
)

var ref = time.Date(2024, 1, 15, 9, 20, 0, 0, time.UTC)

func TestParse_ResyncSchedules(t *testing.T) {
	tests := []struct {
		expr string
		want time.Time // first run after ref
	}{
		{"@hourly", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"@daily", time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)},
		{"@every 30m", ref.Add(30 * time.Minute)},
		{"*/15 * * * *", time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2024, 1, 16, 3, 0, 0, 0, time.UTC)},
		{"0 9-17 * * 1-5", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"  @hourly  ", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			sched, err := p.Parse(tt.expr, "UTC")
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.expr, err)
			}
			if got := sched.Next(ref); !got.Equal(tt.want) {
				t.Errorf("Next = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		tz      string
		wantErr error
	}{
		{"empty", "", "UTC", ErrEmpty},
		{"blank", "   ", "UTC", ErrEmpty},
		{"sub-minute every", "@every 10s", "UTC", ErrTooFrequent},
		{"six fields", "0 * * * * *", "UTC", nil},
		{"minute out of range", "60 * * * *", "UTC", nil},
		{"unknown descriptor", "@fortnightly", "UTC", nil},
		{"bad duration", "@every soon", "UTC", nil},
		{"unknown timezone", "@hourly", "Mars/Olympus", nil},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(tt.expr, tt.tz)
			if err == nil {
				t.Fatalf("Parse(%q, %q) should fail", tt.expr, tt.tz)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParse_MinIntervalBoundary(t *testing.T) {
	if _, err := NewParser().Parse("@every 1m", "UTC"); err != nil {
		t.Errorf("one minute interval rejected: %v", err)
	}
}

func TestParse_EmptyTimezoneIsUTC(t *testing.T) {
	p := NewParser()
	a, err := p.Parse("0 3 * * *", "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, _ := p.Parse("0 3 * * *", "UTC")

	if !a.Next(ref).Equal(b.Next(ref)) {
		t.Errorf("empty timezone: %v, UTC: %v", a.Next(ref), b.Next(ref))
	}
}

func TestParse_NightlyResyncInLocalTime(t *testing.T) {
	sched, err := NewParser().Parse("0 3 * * *", "Europe/Paris")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	// 03:00 CET is 02:00 UTC in January.
	want := time.Date(2024, 1, 16, 2, 0, 0, 0, time.UTC)
	if got := sched.Next(ref); !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got.UTC(), want)
	}
}

func TestUpcoming(t *testing.T) {
	sched, err := NewParser().Parse("@every 2h", "UTC")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	runs := Upcoming(sched, ref, 3)
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i, run := range runs {
		want := ref.Add(time.Duration(i+1) * 2 * time.Hour)
		if !run.Equal(want) {
			t.Errorf("runs[%d] = %v, want %v", i, run, want)
		}
		if run.Location() != time.UTC {
			t.Errorf("runs[%d] not in UTC", i)
		}
	}

	if got := Upcoming(sched, ref, 0); len(got) != 0 {
		t.Errorf("Upcoming(0) = %v", got)
	}
}
