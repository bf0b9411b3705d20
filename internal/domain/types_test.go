package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	bar := Bar{}
	if bar.Symbol != "" {
		t.Error("expected empty Symbol for zero-value Bar")
	}
	if !bar.Timestamp.IsZero() {
		t.Error("expected zero Timestamp for zero-value Bar")
	}
	if bar.Open != 0 || bar.High != 0 || bar.Low != 0 || bar.Close != 0 {
		t.Error("expected zero OHLC values for zero-value Bar")
	}

	var p Position
	if p != PositionFlat {
		t.Errorf("zero Position = %v, want flat", p)
	}
	var s Signal
	if s != SignalNone {
		t.Errorf("zero Signal = %d, want 0", s)
	}

	if PositionLong != 1 || PositionShort != -1 {
		t.Error("Position constants have unexpected values")
	}
	if SignalLong != 1 || SignalShort != -1 {
		t.Error("Signal constants have unexpected values")
	}
}

func TestSeriesKeyAndCloses(t *testing.T) {
	s := Series{
		Instrument: "eurusd",
		Timeframe:  "h1",
		Bars: []Bar{
			{Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: 1.10},
			{Timestamp: time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC), Close: 1.11},
		},
	}
	if got := s.Key(); got != "EURUSD_H1" {
		t.Errorf("Key() = %q, want %q", got, "EURUSD_H1")
	}
	closes := s.Closes()
	if len(closes) != 2 || closes[0] != 1.10 || closes[1] != 1.11 {
		t.Errorf("Closes() = %v, want [1.1 1.11]", closes)
	}
}

func TestPositionString(t *testing.T) {
	tests := []struct {
		p    Position
		want string
	}{
		{PositionFlat, "flat"},
		{PositionLong, "long"},
		{PositionShort, "short"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.want {
			t.Errorf("Position(%d).String() = %q, want %q", tt.p, got, tt.want)
		}
	}
}

func TestErrorsWrap(t *testing.T) {
	err := fmt.Errorf("EURUSD_H1: %w", ErrData)
	if !errors.Is(err, ErrData) {
		t.Error("wrapped ErrData not detected by errors.Is")
	}
	if errors.Is(err, ErrConfiguration) {
		t.Error("ErrData must not match ErrConfiguration")
	}
}
