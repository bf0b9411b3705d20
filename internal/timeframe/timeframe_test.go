package timeframe

import (
	"errors"
	"math"
	"testing"

	"fxrange/internal/domain"
)

func TestPeriodsPerYear(t *testing.T) {
	tests := []struct {
		label string
		want  float64
	}{
		{"M1", 252 * 1440},
		{"M5", 252 * 288},
		{"M15", 252 * 96},
		{"M30", 48 * 252},
		{"H1", 24 * 252},
		{"h4", 6 * 252},
		{"D1", 252},
		{"W1", 252.0 / 7},
		{"MN", 252.0 / 30},
	}
	for _, tt := range tests {
		got, err := PeriodsPerYear(tt.label)
		if err != nil {
			t.Fatalf("PeriodsPerYear(%q) returned error: %v", tt.label, err)
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("PeriodsPerYear(%q) = %v, want %v", tt.label, got, tt.want)
		}
	}
}

func TestParseUnsupported(t *testing.T) {
	_, err := Parse("H2")
	if err == nil {
		t.Fatal("Parse(H2) should fail")
	}
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("Parse(H2) error = %v, want ErrConfiguration", err)
	}
}

func TestLabelsOrdered(t *testing.T) {
	labels := Labels()
	if len(labels) != 9 {
		t.Fatalf("Labels() returned %d labels, want 9", len(labels))
	}
	if labels[0] != "M1" || labels[len(labels)-1] != "MN" {
		t.Errorf("Labels() = %v, want M1 first and MN last", labels)
	}
}

func TestFromFilename(t *testing.T) {
	inst, tf, err := FromFilename("/data/AUDNZD_H4.csv")
	if err != nil {
		t.Fatalf("FromFilename returned error: %v", err)
	}
	if inst != "AUDNZD" || tf != "H4" {
		t.Errorf("FromFilename = (%q, %q), want (AUDNZD, H4)", inst, tf)
	}

	inst, tf, err = FromFilename("xau_usd_m15.parquet")
	if err != nil {
		t.Fatalf("FromFilename returned error: %v", err)
	}
	if inst != "XAU_USD" || tf != "M15" {
		t.Errorf("FromFilename = (%q, %q), want (XAU_USD, M15)", inst, tf)
	}

	for _, bad := range []string{"EURUSD.csv", "_H1.csv", "EURUSD_.csv", "EURUSD_H7.csv"} {
		if _, _, err := FromFilename(bad); !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("FromFilename(%q) error = %v, want ErrConfiguration", bad, err)
		}
	}
}
