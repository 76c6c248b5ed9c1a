package commissionpkg

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCompute(t *testing.T) {
	testCases := []struct {
		name           string
		amount         string
		wantCommission string
		wantNet        string
	}{
		{name: "Rent", amount: "100.00", wantCommission: "3.00", wantNet: "97.00"},
		{name: "Twenty", amount: "20.00", wantCommission: "0.60", wantNet: "19.40"},
		{name: "Minimum", amount: "1", wantCommission: "0.03", wantNet: "0.97"},
		{name: "HalfUp", amount: "16.50", wantCommission: "0.50", wantNet: "16.00"},
		{name: "RoundDown", amount: "16.49", wantCommission: "0.49", wantNet: "16.00"},
		{name: "SmallHalfUp", amount: "1.50", wantCommission: "0.05", wantNet: "1.45"},
		{name: "Large", amount: "123456789.99", wantCommission: "3703703.70", wantNet: "119753086.29"},
	}

	for i := range testCases {
		tc := testCases[i]

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			amount := decimal.RequireFromString(tc.amount)

			commission, net := Compute(amount)

			if !commission.Equal(decimal.RequireFromString(tc.wantCommission)) {
				t.Errorf("Compute(%v) commission = %v, want %v", amount, commission, tc.wantCommission)
			}

			if !net.Equal(decimal.RequireFromString(tc.wantNet)) {
				t.Errorf("Compute(%v) net = %v, want %v", amount, net, tc.wantNet)
			}
		})
	}
}

func TestComputeSplitsExactly(t *testing.T) {
	t.Parallel()

	// Every cent from 1.00 to 2000.00.
	for cents := int64(100); cents <= 200_000; cents++ {
		amount := decimal.New(cents, -Places)

		commission, net := Compute(amount)

		if !commission.Add(net).Equal(amount) {
			t.Fatalf("Compute(%v) = (%v, %v), commission + net != amount", amount, commission, net)
		}

		if !commission.Equal(commission.Round(Places)) {
			t.Fatalf("Compute(%v) commission %v has more than %d decimals", amount, commission, Places)
		}

		if net.IsNegative() || commission.IsNegative() {
			t.Fatalf("Compute(%v) = (%v, %v), want non-negative parts", amount, commission, net)
		}
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	t.Parallel()

	amount := decimal.RequireFromString("987.65")

	c1, n1 := Compute(amount)
	c2, n2 := Compute(amount)

	if !c1.Equal(c2) || !n1.Equal(n2) {
		t.Errorf("Compute(%v) returned (%v, %v) then (%v, %v)", amount, c1, n1, c2, n2)
	}
}
