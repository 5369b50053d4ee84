package receipt

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/RTNSmart/tier3-engine/internal/discount"
	"github.com/RTNSmart/tier3-engine/internal/money"
	"github.com/RTNSmart/tier3-engine/internal/pricing"
)

func testBuilder() *Builder {
	return NewBuilder(Geometry{}, zerolog.Nop())
}

func summaryWith(totals map[discount.Bucket]money.Cents) pricing.Summary {
	var total money.Cents
	for _, amount := range totals {
		total += amount
	}
	return pricing.Summary{TotalDiscount: total, TotalsByBucket: totals}
}

func oneReward(value money.Cents) []pricing.Reward {
	return []pricing.Reward{{
		RewardID:   "1-1-B2_S150",
		LineNumber: 1,
		Value:      value,
		ShortDesc:  "LOYALTY",
		LongDesc:   "LOYALTY SAVINGS APPLIED",
	}}
}

func assertReceiptContract(t *testing.T, lines []string) {
	t.Helper()
	if len(lines) > 10 {
		t.Errorf("receipt has %d lines, limit 10", len(lines))
	}
	for i, line := range lines {
		if len(line) > 32 {
			t.Errorf("line %d is %d chars: %q", i, len(line), line)
		}
	}
}

func TestBuild_SingleLoyaltyReward(t *testing.T) {
	in := Input{
		Rewards: oneReward(money.MustParse("0.97")),
		Summary: summaryWith(map[discount.Bucket]money.Cents{
			discount.BucketLoyalty: money.MustParse("0.97"),
		}),
		Tier3Eligible:   true,
		CIDFundEligible: true,
		AgeVerified:     true,
	}

	resp := testBuilder().Build(in)
	assertReceiptContract(t, resp.ReceiptLines)

	want := []string{
		"*** LOYALTY REWARDS ***",
		"LOYALTY SAVINGS        -$0.97",
		strings.Repeat("-", 29),
		"TOTAL SAVINGS          -$0.97",
		"*** THANK YOU ***",
		"APP BONUS AVAILABLE",
		"VERIFY ID IN APP TO UNLOCK",
	}
	if len(resp.ReceiptLines) != len(want) {
		t.Fatalf("receipt = %q, want %d lines", resp.ReceiptLines, len(want))
	}
	for i, line := range want {
		if resp.ReceiptLines[i] != line {
			t.Errorf("line %d = %q, want %q", i, resp.ReceiptLines[i], line)
		}
	}
	if len(resp.Rewards) != 1 || resp.Rewards[0].RewardID != "1-1-B2_S150" {
		t.Errorf("rewards not passed through: %+v", resp.Rewards)
	}
}

func TestBuild_AllBucketRowsAggregateAndOrder(t *testing.T) {
	in := Input{
		Rewards: oneReward(money.MustParse("6.00")),
		Summary: summaryWith(map[discount.Bucket]money.Cents{
			discount.BucketLoyalty:            money.MustParse("0.97"),
			discount.BucketManufacturerCoupon: money.MustParse("1.00"),
			discount.BucketOtherManufacturer:  money.MustParse("0.50"),
			discount.BucketMultiUnit:          money.MustParse("2.00"),
			discount.BucketRetailer:           money.MustParse("1.03"),
			discount.BucketTransaction:        money.MustParse("0.50"),
		}),
		Tier3Eligible:   true,
		CIDFundEligible: true,
		AgeVerified:     true,
	}

	resp := testBuilder().Build(in)
	assertReceiptContract(t, resp.ReceiptLines)

	want := []string{
		"*** LOYALTY REWARDS ***",
		"LOYALTY SAVINGS        -$0.97",
		"MFG COUPON             -$1.50",
		"MULTI-BUY SAVINGS      -$2.00",
		"STORE SAVINGS          -$1.53",
		strings.Repeat("-", 29),
		"TOTAL SAVINGS          -$6.00",
		"*** THANK YOU ***",
		"APP BONUS AVAILABLE",
		"VERIFY ID IN APP TO UNLOCK",
	}
	if len(resp.ReceiptLines) != 10 {
		t.Fatalf("receipt = %q, want exactly 10 lines", resp.ReceiptLines)
	}
	for i, line := range want {
		if resp.ReceiptLines[i] != line {
			t.Errorf("line %d = %q, want %q", i, resp.ReceiptLines[i], line)
		}
	}
}

func TestBuild_ZeroBucketsDoNotPrint(t *testing.T) {
	in := Input{
		Rewards: oneReward(money.MustParse("0.97")),
		Summary: summaryWith(map[discount.Bucket]money.Cents{
			discount.BucketLoyalty:            money.MustParse("0.97"),
			discount.BucketManufacturerCoupon: 0,
			discount.BucketMultiPack:          0,
		}),
		Tier3Eligible: true,
		AgeVerified:   true,
		EAIVVerified:  true,
	}

	resp := testBuilder().Build(in)
	for _, line := range resp.ReceiptLines {
		if strings.HasPrefix(line, "MFG COUPON") || strings.Contains(line, "MULTI") {
			t.Errorf("zero bucket printed: %q", line)
		}
	}
}

func TestBuild_EAIVVerifiedSkipsUpsell(t *testing.T) {
	in := Input{
		Rewards: oneReward(money.MustParse("0.97")),
		Summary: summaryWith(map[discount.Bucket]money.Cents{
			discount.BucketLoyalty: money.MustParse("0.97"),
		}),
		Tier3Eligible: true,
		AgeVerified:   true,
		EAIVVerified:  true,
	}

	resp := testBuilder().Build(in)
	for _, line := range resp.ReceiptLines {
		if line == "APP BONUS AVAILABLE" || line == "VERIFY ID IN APP TO UNLOCK" {
			t.Errorf("upsell printed for EAIV-verified customer: %q", resp.ReceiptLines)
		}
	}
	if last := resp.ReceiptLines[len(resp.ReceiptLines)-1]; last != "*** THANK YOU ***" {
		t.Errorf("last line = %q, want footer", last)
	}
}

func TestBuild_NoRewardsBodyPrecedence(t *testing.T) {
	tests := []struct {
		name  string
		tier3 bool
		age   bool
		want  string
	}{
		{"invalid loyalty ID wins", false, false, "Loyalty ID not eligible"},
		{"age gate next", true, false, "Age verification required"},
		{"nothing matched last", true, true, "No eligible rewards"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := testBuilder().Build(Input{
				Tier3Eligible: tt.tier3,
				AgeVerified:   tt.age,
				EAIVVerified:  true,
			})
			assertReceiptContract(t, resp.ReceiptLines)

			want := []string{"*** LOYALTY REWARDS ***", tt.want, "*** THANK YOU ***"}
			if len(resp.ReceiptLines) != len(want) {
				t.Fatalf("receipt = %q", resp.ReceiptLines)
			}
			for i, line := range want {
				if resp.ReceiptLines[i] != line {
					t.Errorf("line %d = %q, want %q", i, resp.ReceiptLines[i], line)
				}
			}
		})
	}
}

func TestBuild_UpsellOnEmptyReceipt(t *testing.T) {
	// Age-gated customer with a valid LID still gets nudged toward the app.
	resp := testBuilder().Build(Input{Tier3Eligible: true})
	assertReceiptContract(t, resp.ReceiptLines)

	want := []string{
		"*** LOYALTY REWARDS ***",
		"Age verification required",
		"*** THANK YOU ***",
		"APP BONUS AVAILABLE",
		"VERIFY ID IN APP TO UNLOCK",
	}
	if len(resp.ReceiptLines) != len(want) {
		t.Fatalf("receipt = %q", resp.ReceiptLines)
	}
	for i, line := range want {
		if resp.ReceiptLines[i] != line {
			t.Errorf("line %d = %q, want %q", i, resp.ReceiptLines[i], line)
		}
	}
}

func TestBuild_FlagsEcho(t *testing.T) {
	resp := testBuilder().Build(Input{
		Tier3Eligible:   true,
		CIDFundEligible: true,
		AgeVerified:     true,
		EAIVVerified:    true,
	})
	want := Flags{Tier3Eligible: true, CIDFundEligible: true, AgeVerified: true, EAIVVerified: true}
	if resp.Flags != want {
		t.Errorf("Flags = %+v, want %+v", resp.Flags, want)
	}
}

func TestAmountLine(t *testing.T) {
	tests := []struct {
		label  string
		amount money.Cents
		want   string
	}{
		{"LOYALTY SAVINGS", money.MustParse("0.97"), "LOYALTY SAVINGS        -$0.97"},
		{"TOTAL SAVINGS", money.MustParse("0.97"), "TOTAL SAVINGS          -$0.97"},
		{"MULTI-BUY SAVINGS", money.MustParse("12.00"), "MULTI-BUY SAVINGS     -$12.00"},
		{"TOTAL SAVINGS", money.MustParse("1234.56"), "TOTAL SAVINGS       -$1234.56"},
	}
	b := testBuilder()
	for _, tt := range tests {
		got := b.amountLine(tt.label, tt.amount)
		if got != tt.want {
			t.Errorf("amountLine(%q, %v) = %q, want %q", tt.label, tt.amount, got, tt.want)
		}
		if len(got) > 32 {
			t.Errorf("amountLine(%q, %v) is %d chars", tt.label, tt.amount, len(got))
		}
	}
}

func TestClamp(t *testing.T) {
	b := testBuilder()
	if got := b.clamp(strings.Repeat("X", 40)); got != strings.Repeat("X", 29)+"..." {
		t.Errorf("clamp = %q", got)
	}
	if got := b.clamp("SHORT"); got != "SHORT" {
		t.Errorf("clamp = %q", got)
	}
}

func TestBuild_NarrowPrinterGeometry(t *testing.T) {
	b := NewBuilder(Geometry{Width: 24, MaxLines: 6}, zerolog.Nop())
	resp := b.Build(Input{
		Rewards: oneReward(money.MustParse("0.97")),
		Summary: summaryWith(map[discount.Bucket]money.Cents{
			discount.BucketLoyalty: money.MustParse("0.97"),
		}),
		Tier3Eligible: true,
		AgeVerified:   true,
		EAIVVerified:  true,
	})

	if len(resp.ReceiptLines) > 6 {
		t.Errorf("receipt has %d lines, limit 6", len(resp.ReceiptLines))
	}
	for i, line := range resp.ReceiptLines {
		if len(line) > 24 {
			t.Errorf("line %d is %d chars: %q", i, len(line), line)
		}
	}
	if resp.ReceiptLines[1] != "LOYALTY SAVINGS -$0.97" {
		t.Errorf("amount line = %q, want row aligned to column 21", resp.ReceiptLines[1])
	}
}
