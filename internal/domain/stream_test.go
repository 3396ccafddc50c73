package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseCadence(t *testing.T) {
	tests := []struct {
		input  string
		want   Cadence
		wantOK bool
	}{
		{input: "monthly", want: CadenceMonthly, wantOK: true},
		{input: " Weekly ", want: CadenceWeekly, wantOK: true},
		{input: "BIWEEKLY", want: CadenceBiweekly, wantOK: true},
		{input: "daily", want: CadenceDaily, wantOK: true},
		{input: "hourly", wantOK: false},
		{input: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseCadence(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%t, got %t", tt.wantOK, ok)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCadenceProviderFrequency(t *testing.T) {
	if f, ok := CadenceMonthly.ProviderFrequency(); !ok || f != "monthly" {
		t.Fatalf("expected monthly frequency, got %q ok=%t", f, ok)
	}
	if f, ok := CadenceWeekly.ProviderFrequency(); !ok || f != "weekly" {
		t.Fatalf("expected weekly frequency, got %q ok=%t", f, ok)
	}
	for _, c := range []Cadence{CadenceDaily, CadenceBiweekly} {
		if _, ok := c.ProviderFrequency(); ok {
			t.Fatalf("expected %s to have no provider frequency", c)
		}
	}
}

func TestCadenceExecutionAmount(t *testing.T) {
	monthly := decimal.NewFromInt(5200)

	if got := CadenceMonthly.ExecutionAmount(monthly); !got.Equal(decimal.NewFromInt(5200)) {
		t.Fatalf("expected monthly amount unchanged, got %s", got)
	}
	if got := CadenceWeekly.ExecutionAmount(monthly); !got.Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("expected weekly amount 1200, got %s", got)
	}
	if got := CadenceWeekly.ExecutionAmount(decimal.NewFromInt(1000)); got.String() != "230.77" {
		t.Fatalf("expected weekly amount rounded to 230.77, got %s", got)
	}
}

func TestStreamStatusTerminal(t *testing.T) {
	if !StreamStatusStopped.Terminal() {
		t.Fatal("expected stopped to be terminal")
	}
	if StreamStatusActive.Terminal() || StreamStatusPaused.Terminal() {
		t.Fatal("expected active and paused to be non-terminal")
	}
	if StreamStatus("archived").Valid() {
		t.Fatal("expected unknown status to be invalid")
	}
}

func TestPayrollStreamTrackable(t *testing.T) {
	var nilStream *PayrollStream
	if nilStream.Trackable() {
		t.Fatal("expected nil stream to be untrackable")
	}

	blank := "  "
	if (&PayrollStream{StandingOrderID: &blank}).Trackable() {
		t.Fatal("expected blank standing order id to be untrackable")
	}

	id := "so_1"
	if !(&PayrollStream{StandingOrderID: &id}).Trackable() {
		t.Fatal("expected stream with standing order id to be trackable")
	}
}
