package money

import "testing"

func TestString(t *testing.T) {
	cases := []struct {
		money Money
		want  string
	}{
		{Money{Currency: "USD", Amount: 2999}, "29.99 USD"},
		{Money{Currency: "USD", Amount: 5}, "0.05 USD"},
		{Money{Currency: "USD", Amount: 0}, "0.00 USD"},
		{Money{Currency: "USD", Amount: -150}, "-1.50 USD"},
		{Money{Currency: "EUR", Amount: -5}, "-0.05 EUR"},
	}
	for _, tc := range cases {
		if got := tc.money.String(); got != tc.want {
			t.Errorf("String(%d %s) = %q, want %q", tc.money.Amount, tc.money.Currency, got, tc.want)
		}
	}
}

func TestPredicates(t *testing.T) {
	if !(Money{Currency: "USD", Amount: 1}).IsPositive() {
		t.Fatal("1 minor unit should be positive")
	}
	if (Money{Currency: "USD", Amount: -1}).IsPositive() {
		t.Fatal("negative amount reported positive")
	}
	if !(Money{Currency: "USD"}).IsZero() {
		t.Fatal("zero amount not reported zero")
	}
}
