package types

import (
	"errors"
	"math"
	"testing"
)

func TestApplyFraction(t *testing.T) {
	cases := []struct {
		name  string
		total Money
		bp    BasisPoints
		unit  Money
		want  Money
	}{
		{"plain rounding", 516000, 3000, 1, 154800},
		{"thousand rounding", 516000, 3000, 1000, 155000},
		{"half rounds up", 5, 5000, 1, 3},
		{"below half rounds down", 514999, 3000, 1000, 154000},
		{"exact half of unit rounds up", 515000, 3000, 1000, 155000},
		{"zero unit treated as one", 100, 3000, 0, 30},
		{"zero total", 0, 3000, 1000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.total.ApplyFraction(tc.bp, tc.unit); got != tc.want {
				t.Fatalf("ApplyFraction(%d, %d, %d) = %d, want %d", tc.total, tc.bp, tc.unit, got, tc.want)
			}
		})
	}
}

func TestBasisPointsFromFraction(t *testing.T) {
	if got := BasisPointsFromFraction(0.3); got != 3000 {
		t.Fatalf("0.3 -> %d, want 3000", got)
	}
	if got := BasisPointsFromFraction(0.125); got != 1250 {
		t.Fatalf("0.125 -> %d, want 1250", got)
	}
}

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		in      float64
		want    Money
		wantErr bool
	}{
		{3.2 * 5000, 16000, false},
		{2.5, 3, false},
		{0, 0, false},
		{-1, 0, true},
		{math.NaN(), 0, true},
		{math.Inf(1), 0, true},
		{1e16 * 5000, 0, true},
	}
	for _, tc := range cases {
		got, err := RoundHalfUp(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrAmountOutOfRange) {
				t.Fatalf("RoundHalfUp(%v) err = %v, want ErrAmountOutOfRange", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("RoundHalfUp(%v) = %d, %v; want %d", tc.in, got, err, tc.want)
		}
	}
}

func TestAddStaysInRange(t *testing.T) {
	if got, err := Money(500000).Add(16000); err != nil || got != 516000 {
		t.Fatalf("500000 + 16000 = %d, %v", got, err)
	}
	if _, err := MaxMoney.Add(1); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("expected overflow refusal, got %v", err)
	}
	if _, err := Money(-5).Add(1); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("expected negative refusal, got %v", err)
	}
}
