package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func nyDate(year int, month time.Month, day, hour int) time.Time {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// fallback. still deterministic. hours will be interpreted as UTC
		return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
	}
	return time.Date(year, month, day, hour, 0, 0, 0, loc)
}

func distinctMultipliers(window bool) SessionMultipliers {
	return SessionMultipliers{
		WeekendHoliday:      decimal.RequireFromString("10"),
		DeadZone:            decimal.RequireFromString("20"),
		Asia:                decimal.RequireFromString("30"),
		London:              decimal.RequireFromString("40"),
		US:                  decimal.RequireFromString("50"),
		Default:             decimal.RequireFromString("60"),
		EnableNoTradeWindow: window,
	}
}

func TestSessionGateSizeWithNoTradeWindow(t *testing.T) {
	gate := NewSessionGate(distinctMultipliers(true))
	base := decimal.NewFromInt(1)

	tests := []struct {
		name        string
		at          time.Time
		wantSession Session
		wantSize    string
	}{
		{"Asia session Tuesday 21.00 NY", nyDate(2025, time.March, 4, 21), SessionAsia, "30"},
		{"London session Tuesday 04.00 NY", nyDate(2025, time.March, 4, 4), SessionLondon, "40"},
		{"US session Tuesday 10.00 NY", nyDate(2025, time.March, 4, 10), SessionUS, "50"},
		{"Dead zone Tuesday 18.00 NY", nyDate(2025, time.March, 4, 18), SessionDeadZone, "20"},
		{"Friday before no trade window", nyDate(2025, time.March, 7, 8), SessionLondon, "40"},
		{"Friday in no trade window", nyDate(2025, time.March, 7, 10), SessionNoTrade, "0"},
		{"Saturday always no trade", nyDate(2025, time.March, 8, 12), SessionNoTrade, "0"},
		{"Sunday in no trade window", nyDate(2025, time.March, 9, 1), SessionNoTrade, "0"},
		{"Sunday after no trade window", nyDate(2025, time.March, 9, 3), SessionLondon, "40"},
		{"Independence Day", nyDate(2025, time.July, 4, 12), SessionNoTrade, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSize, gotSession := gate.Size(base, tt.at)
			if gotSession != tt.wantSession {
				t.Fatalf("session mismatch. got=%s want=%s", gotSession, tt.wantSession)
			}
			if !gotSize.Equal(decimal.RequireFromString(tt.wantSize)) {
				t.Fatalf("size mismatch. got=%s want=%s", gotSize, tt.wantSize)
			}
		})
	}
}

func TestSessionGateWithoutNoTradeWindow(t *testing.T) {
	gate := NewSessionGate(distinctMultipliers(false))

	for _, at := range []time.Time{nyDate(2025, time.March, 8, 12), nyDate(2025, time.July, 4, 12)} {
		gotSize, gotSession := gate.Size(decimal.NewFromInt(1), at)
		if gotSession != SessionWeekendHoliday {
			t.Fatalf("session mismatch at %s. got=%s", at, gotSession)
		}
		if !gotSize.Equal(decimal.NewFromInt(10)) {
			t.Fatalf("size mismatch at %s. got=%s", at, gotSize)
		}
	}
}

func TestSessionGateNonPositiveBase(t *testing.T) {
	gate := NewSessionGate(NeutralMultipliers())
	gotSize, gotSession := gate.Size(decimal.Zero, nyDate(2025, time.March, 4, 10))
	if !gotSize.IsZero() || gotSession != SessionDefault {
		t.Fatalf("expected zero default, got %s %s", gotSize, gotSession)
	}
}

func TestNeutralMultipliersKeepSize(t *testing.T) {
	gate := NewSessionGate(NeutralMultipliers())
	base := decimal.RequireFromString("0.001")
	gotSize, _ := gate.Size(base, nyDate(2025, time.March, 8, 12))
	if !gotSize.Equal(base) {
		t.Fatalf("expected %s, got %s", base, gotSize)
	}
}

func TestUSHolidays(t *testing.T) {
	cases := map[string]bool{
		"2025-01-01": true,  // New Year
		"2025-01-20": true,  // MLK, third Monday
		"2025-05-26": true,  // Memorial Day
		"2025-09-01": true,  // Labor Day
		"2025-11-27": true,  // Thanksgiving
		"2022-12-26": true,  // Christmas observed on Monday
		"2025-03-04": false, // regular Tuesday
	}
	for day, want := range cases {
		d, _ := time.Parse("2006-01-02", day)
		if got := isUSHoliday(d); got != want {
			t.Fatalf("%s: expected %v, got %v", day, want, got)
		}
	}
}

func TestConfigMultipliers(t *testing.T) {
	m := Config{EnableNoTradeWindow: true, WeekendHoliday: 0.5, DeadZone: 1, Asia: 1, London: 1, US: 1.25, Default: 1}.Multipliers()
	if !m.US.Equal(decimal.RequireFromString("1.25")) || !m.EnableNoTradeWindow {
		t.Fatalf("unexpected multipliers %+v", m)
	}
}
