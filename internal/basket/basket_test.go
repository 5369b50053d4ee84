package basket

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/RTNSmart/tier3-engine/internal/catalog"
	"github.com/RTNSmart/tier3-engine/internal/money"
)

// mockResolver serves a fixed UPC table.
type mockResolver struct {
	entries map[string]catalog.Resolution
	err     error
}

func (m *mockResolver) ResolveUPC(_ context.Context, upc string) (catalog.Resolution, error) {
	if m.err != nil {
		return catalog.Resolution{}, m.err
	}
	r, ok := m.entries[upc]
	if !ok {
		return catalog.Resolution{}, catalog.ErrUPCNotFound
	}
	return r, nil
}

func testResolver() *mockResolver {
	marlboro := catalog.Entry{
		SKUGUID:      "SKU-MARL-GOLD",
		SKUName:      "Marlboro Gold Pack",
		Brand:        "Marlboro",
		Manufacturer: "PM USA",
		Category:     catalog.CategoryCigarettes,
		Carton:       catalog.UPCBlock{UPC: "012345678912", SuppressedUPC: "112345678912", ConversionFactor: 10},
		Pack:         catalog.UPCBlock{UPC: "012345678905", ConversionFactor: 1},
	}
	copenhagen := catalog.Entry{
		SKUGUID:      "SKU-COPEN-LC",
		SKUName:      "Copenhagen Long Cut",
		Brand:        "Copenhagen",
		Manufacturer: "USSTC",
		Category:     catalog.CategoryMoistSmokeless,
		Pack:         catalog.UPCBlock{UPC: "073100008597", ConversionFactor: 1, IsPromotional: true},
	}
	return &mockResolver{entries: map[string]catalog.Resolution{
		"012345678912": {Entry: marlboro, MatchedType: catalog.UPCMatchCarton, UnitOfMeasure: catalog.UOMCarton},
		"112345678912": {Entry: marlboro, MatchedType: catalog.UPCMatchCartonSuppressed, UnitOfMeasure: catalog.UOMCarton},
		"012345678905": {Entry: marlboro, MatchedType: catalog.UPCMatchPack, UnitOfMeasure: catalog.UOMPack},
		"073100008597": {Entry: copenhagen, MatchedType: catalog.UPCMatchPack, UnitOfMeasure: catalog.UOMPack},
	}}
}

func TestNormalize_ResolvesCatalogFields(t *testing.T) {
	n := NewNormalizer(testResolver(), nil, zerolog.Nop())

	res, err := n.Normalize(context.Background(), []RawLine{
		{LineNumber: 1, UPC: "012345678905", Quantity: 1, UnitPrice: money.MustParse("7.00")},
	})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(res.Lines) != 1 {
		t.Fatalf("Normalize() lines = %d, want 1", len(res.Lines))
	}

	line := res.Lines[0]
	if line.SKUGUID != "SKU-MARL-GOLD" || line.Brand != "Marlboro" {
		t.Errorf("line = %+v", line)
	}
	if line.UnitOfMeasure != catalog.UOMPack || line.MatchedUPCType != catalog.UPCMatchPack {
		t.Errorf("line sell unit = %q/%q", line.UnitOfMeasure, line.MatchedUPCType)
	}
	if line.IsUnknown {
		t.Error("known UPC flagged as unknown")
	}
	if !line.IsMarlboro() {
		t.Error("IsMarlboro() = false for a Marlboro pack")
	}
	if res.MergedCount != 0 || len(res.UnknownUPCs) != 0 || len(res.Dropped) != 0 {
		t.Errorf("Result counters = %+v", res)
	}
}

func TestNormalize_SuppressedUPCSellsAsCarton(t *testing.T) {
	n := NewNormalizer(testResolver(), nil, zerolog.Nop())

	res, err := n.Normalize(context.Background(), []RawLine{
		{LineNumber: 1, UPC: "112345678912", Quantity: 1, UnitPrice: money.MustParse("65.00")},
	})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	line := res.Lines[0]
	if line.UnitOfMeasure != catalog.UOMCarton {
		t.Errorf("UnitOfMeasure = %q, want CARTON", line.UnitOfMeasure)
	}
	if line.MatchedUPCType != catalog.UPCMatchCartonSuppressed {
		t.Errorf("MatchedUPCType = %q", line.MatchedUPCType)
	}
}

func TestNormalize_UnknownUPCFlowsThrough(t *testing.T) {
	n := NewNormalizer(testResolver(), nil, zerolog.Nop())

	res, err := n.Normalize(context.Background(), []RawLine{
		{LineNumber: 1, UPC: "999999999999", Quantity: 2, UnitPrice: money.MustParse("4.50")},
	})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(res.Lines) != 1 {
		t.Fatalf("unknown UPC dropped from basket")
	}

	line := res.Lines[0]
	if !line.IsUnknown {
		t.Error("IsUnknown = false")
	}
	if line.Category != "UNKNOWN_TOBACCO" {
		t.Errorf("Category = %q, want UNKNOWN_TOBACCO", line.Category)
	}
	if line.SKUGUID != "" || line.Brand != "" {
		t.Errorf("unknown line carries catalog fields: %+v", line)
	}
	if line.Quantity != 2 || line.UnitPrice != money.MustParse("4.50") {
		t.Errorf("unknown line lost POS fields: %+v", line)
	}
	if len(res.UnknownUPCs) != 1 || res.UnknownUPCs[0] != "999999999999" {
		t.Errorf("UnknownUPCs = %v", res.UnknownUPCs)
	}
}

func TestNormalize_DropsLinesWithoutUPC(t *testing.T) {
	n := NewNormalizer(testResolver(), nil, zerolog.Nop())

	res, err := n.Normalize(context.Background(), []RawLine{
		{LineNumber: 1, UPC: "", Quantity: 1, UnitPrice: money.MustParse("7.00")},
		{LineNumber: 2, UPC: "  ", Quantity: 1, UnitPrice: money.MustParse("7.00")},
		{LineNumber: 3, UPC: "012345678905", Quantity: 1, UnitPrice: money.MustParse("7.00")},
	})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(res.Lines) != 1 || res.Lines[0].LineNumber != 3 {
		t.Fatalf("Normalize() lines = %+v, want only line 3", res.Lines)
	}
	if len(res.Dropped) != 2 {
		t.Fatalf("Dropped = %+v, want 2 entries", res.Dropped)
	}
	if res.Dropped[0].LineNumber != 1 || res.Dropped[1].LineNumber != 2 {
		t.Errorf("Dropped = %+v", res.Dropped)
	}
	if res.Dropped[0].Reason == "" {
		t.Error("dropped line carries no reason")
	}
}

func TestNormalize_MergesSameUPCAndPrice(t *testing.T) {
	n := NewNormalizer(testResolver(), nil, zerolog.Nop())

	// A POS that rings the same pack twice sends two separate lines.
	res, err := n.Normalize(context.Background(), []RawLine{
		{LineNumber: 1, UPC: "012345678905", Quantity: 1, UnitPrice: money.MustParse("7.00")},
		{LineNumber: 2, UPC: "073100008597", Quantity: 1, UnitPrice: money.MustParse("5.49")},
		{LineNumber: 3, UPC: "012345678905", Quantity: 1, UnitPrice: money.MustParse("7.00")},
	})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if len(res.Lines) != 2 {
		t.Fatalf("Normalize() lines = %d, want 2", len(res.Lines))
	}
	if res.MergedCount != 1 {
		t.Errorf("MergedCount = %d, want 1", res.MergedCount)
	}

	first := res.Lines[0]
	if first.UPC != "012345678905" || first.Quantity != 2 {
		t.Errorf("merged line = %+v, want quantity 2", first)
	}
	if first.LineNumber != 1 {
		t.Errorf("merged line number = %d, want first occurrence 1", first.LineNumber)
	}
	if res.Lines[1].UPC != "073100008597" {
		t.Errorf("merge broke first-occurrence order: %+v", res.Lines)
	}
}

func TestNormalize_DifferentPricesDoNotMerge(t *testing.T) {
	n := NewNormalizer(testResolver(), nil, zerolog.Nop())

	res, err := n.Normalize(context.Background(), []RawLine{
		{LineNumber: 1, UPC: "012345678905", Quantity: 1, UnitPrice: money.MustParse("7.00")},
		{LineNumber: 2, UPC: "012345678905", Quantity: 1, UnitPrice: money.MustParse("6.50")},
	})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(res.Lines) != 2 {
		t.Fatalf("lines at different prices merged: %+v", res.Lines)
	}
	if res.MergedCount != 0 {
		t.Errorf("MergedCount = %d, want 0", res.MergedCount)
	}
}

func TestNormalize_IsIdempotent(t *testing.T) {
	n := NewNormalizer(testResolver(), nil, zerolog.Nop())
	raw := []RawLine{
		{LineNumber: 1, UPC: "012345678905", Quantity: 1, UnitPrice: money.MustParse("7.00")},
		{LineNumber: 2, UPC: "012345678905", Quantity: 2, UnitPrice: money.MustParse("7.00")},
		{LineNumber: 3, UPC: "073100008597", Quantity: 1, UnitPrice: money.MustParse("5.49")},
	}

	res, err := n.Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	// Feed the normalized output back in; nothing should change.
	again := make([]RawLine, 0, len(res.Lines))
	for _, l := range res.Lines {
		again = append(again, RawLine{
			LineNumber: l.LineNumber,
			UPC:        l.UPC,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice,
		})
	}
	res2, err := n.Normalize(context.Background(), again)
	if err != nil {
		t.Fatalf("Normalize() second pass error = %v", err)
	}
	if len(res2.Lines) != len(res.Lines) || res2.MergedCount != 0 {
		t.Fatalf("second pass changed the basket: %+v", res2)
	}
	for i := range res.Lines {
		if res2.Lines[i].Quantity != res.Lines[i].Quantity || res2.Lines[i].UPC != res.Lines[i].UPC {
			t.Errorf("line %d drifted: %+v vs %+v", i, res.Lines[i], res2.Lines[i])
		}
	}
}

func TestNormalize_PreservesQuantityAndValueTotals(t *testing.T) {
	n := NewNormalizer(testResolver(), nil, zerolog.Nop())
	raw := []RawLine{
		{LineNumber: 1, UPC: "012345678905", Quantity: 1, UnitPrice: money.MustParse("7.00")},
		{LineNumber: 2, UPC: "012345678905", Quantity: 2, UnitPrice: money.MustParse("7.00")},
		{LineNumber: 3, UPC: "012345678905", Quantity: 1, UnitPrice: money.MustParse("6.50")},
	}

	res, err := n.Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	var rawQty, normQty int
	var rawValue, normValue money.Cents
	for _, l := range raw {
		rawQty += l.Quantity
		ext, _ := l.UnitPrice.Mul(int64(l.Quantity))
		rawValue += ext
	}
	for _, l := range res.Lines {
		normQty += l.Quantity
		ext, err := l.BaseExtendedPrice()
		if err != nil {
			t.Fatalf("BaseExtendedPrice() error = %v", err)
		}
		normValue += ext
	}
	if rawQty != normQty {
		t.Errorf("merge changed total quantity: %d vs %d", rawQty, normQty)
	}
	if rawValue != normValue {
		t.Errorf("merge changed total value: %v vs %v", rawValue, normValue)
	}
}

func TestNormalize_PromotionalFlagFollowsMatchedBlock(t *testing.T) {
	n := NewNormalizer(testResolver(), nil, zerolog.Nop())

	res, err := n.Normalize(context.Background(), []RawLine{
		{LineNumber: 1, UPC: "073100008597", Quantity: 1, UnitPrice: money.MustParse("5.49")},
		{LineNumber: 2, UPC: "012345678912", Quantity: 1, UnitPrice: money.MustParse("65.00")},
	})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !res.Lines[0].IsPromotional {
		t.Error("promotional pack UPC lost its flag")
	}
	if res.Lines[1].IsPromotional {
		t.Error("regular carton UPC gained a promotional flag")
	}
}

func TestNormalize_CatalogOutageIsFatal(t *testing.T) {
	n := NewNormalizer(&mockResolver{err: errors.New("catalog unavailable")}, nil, zerolog.Nop())

	_, err := n.Normalize(context.Background(), []RawLine{
		{LineNumber: 1, UPC: "012345678905", Quantity: 1, UnitPrice: money.MustParse("7.00")},
	})
	if err == nil {
		t.Fatal("Normalize() error = nil, want catalog failure surfaced")
	}
}

func TestNormalize_EmptyBasket(t *testing.T) {
	n := NewNormalizer(testResolver(), nil, zerolog.Nop())

	res, err := n.Normalize(context.Background(), nil)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(res.Lines) != 0 || res.MergedCount != 0 {
		t.Errorf("Normalize(nil) = %+v", res)
	}
}
