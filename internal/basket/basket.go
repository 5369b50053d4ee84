// Package basket normalizes raw POS basket lines against the SKU catalog:
// each UPC is resolved to its SKU and sell unit, unmatched UPCs flow through
// as unknown tobacco, and lines that share a UPC and unit price merge into
// one line so quantity-based rules see the true purchase quantity.
package basket

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/RTNSmart/tier3-engine/internal/catalog"
	"github.com/RTNSmart/tier3-engine/internal/metrics"
	"github.com/RTNSmart/tier3-engine/internal/money"
)

// RawLine is one basket line as the POS sent it.
type RawLine struct {
	LineNumber  int
	UPC         string
	Quantity    int
	UnitPrice   money.Cents
	Description string
}

// NormalizedLine is a basket line after catalog resolution and merging.
// Catalog fields are zero-valued when IsUnknown is set.
type NormalizedLine struct {
	LineNumber  int // first occurrence when lines merged
	UPC         string
	Quantity    int
	UnitPrice   money.Cents
	Description string

	SKUGUID        string
	SKUName        string
	Brand          string
	Manufacturer   string
	Category       string
	UnitOfMeasure  catalog.UnitOfMeasure
	MatchedUPCType catalog.UPCMatch
	IsPromotional  bool // promotional flag of the matched UPC block
	IsUnknown      bool
}

// IsMarlboro reports whether the line resolved to the Marlboro brand family.
func (l NormalizedLine) IsMarlboro() bool {
	return strings.Contains(strings.ToUpper(l.Brand), "MARLBORO")
}

// BaseExtendedPrice is unit price times quantity before any discounts.
func (l NormalizedLine) BaseExtendedPrice() (money.Cents, error) {
	return l.UnitPrice.Mul(int64(l.Quantity))
}

// LineError records a raw line the normalizer had to drop.
type LineError struct {
	LineNumber int
	Reason     string
}

// Result is the normalizer output for one basket.
type Result struct {
	Lines       []NormalizedLine
	UnknownUPCs []string
	Dropped     []LineError

	// MergedCount is how many raw lines disappeared into another line
	// during merging: pre-merge count minus post-merge count.
	MergedCount int
}

// Resolver is the catalog lookup the normalizer depends on.
type Resolver interface {
	ResolveUPC(ctx context.Context, upc string) (catalog.Resolution, error)
}

// Normalizer resolves and merges baskets.
type Normalizer struct {
	catalog Resolver
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewNormalizer constructs a basket normalizer.
func NewNormalizer(resolver Resolver, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Normalizer {
	return &Normalizer{
		catalog: resolver,
		logger:  logger.With().Str("component", "basket").Logger(),
		metrics: metricsCollector,
	}
}

// Normalize resolves every raw line and merges duplicates. A UPC the catalog
// does not know stays in the basket as UNKNOWN_TOBACCO; only a catalog that
// cannot answer at all fails the basket.
func (n *Normalizer) Normalize(ctx context.Context, raw []RawLine) (Result, error) {
	var res Result

	resolved := make([]NormalizedLine, 0, len(raw))
	for _, line := range raw {
		if strings.TrimSpace(line.UPC) == "" {
			res.Dropped = append(res.Dropped, LineError{
				LineNumber: line.LineNumber,
				Reason:     fmt.Sprintf("line %d has no UPC", line.LineNumber),
			})
			continue
		}

		nl, err := n.resolve(ctx, line)
		if err != nil {
			return Result{}, err
		}
		if nl.IsUnknown {
			res.UnknownUPCs = append(res.UnknownUPCs, nl.UPC)
		}
		resolved = append(resolved, nl)
	}

	res.Lines = merge(resolved)
	res.MergedCount = len(resolved) - len(res.Lines)

	if n.metrics != nil {
		n.metrics.ObserveBasket(len(res.Lines), len(res.UnknownUPCs), len(res.Dropped))
	}
	if len(res.UnknownUPCs) > 0 || len(res.Dropped) > 0 {
		n.logger.Info().
			Strs("unknown_upcs", res.UnknownUPCs).
			Int("dropped", len(res.Dropped)).
			Msg("basket.lines_not_resolved")
	}

	return res, nil
}

func (n *Normalizer) resolve(ctx context.Context, line RawLine) (NormalizedLine, error) {
	nl := NormalizedLine{
		LineNumber:  line.LineNumber,
		UPC:         strings.TrimSpace(line.UPC),
		Quantity:    line.Quantity,
		UnitPrice:   line.UnitPrice,
		Description: line.Description,
	}

	r, err := n.catalog.ResolveUPC(ctx, nl.UPC)
	if errors.Is(err, catalog.ErrUPCNotFound) {
		nl.Category = catalog.CategoryUnknownTobacco
		nl.IsUnknown = true
		return nl, nil
	}
	if err != nil {
		return NormalizedLine{}, fmt.Errorf("resolve upc %s: %w", nl.UPC, err)
	}

	nl.SKUGUID = r.Entry.SKUGUID
	nl.SKUName = r.Entry.SKUName
	nl.Brand = r.Entry.Brand
	nl.Manufacturer = r.Entry.Manufacturer
	nl.Category = r.Entry.Category
	nl.UnitOfMeasure = r.UnitOfMeasure
	nl.MatchedUPCType = r.MatchedType
	switch r.MatchedType {
	case catalog.UPCMatchPack:
		nl.IsPromotional = r.Entry.Pack.IsPromotional
	default:
		nl.IsPromotional = r.Entry.Carton.IsPromotional
	}
	return nl, nil
}

// merge combines lines sharing (upc, unit_price), preserving first-occurrence
// order. Quantities sum; every other field keeps the first occurrence's
// value. The same UPC at two different prices stays split.
func merge(lines []NormalizedLine) []NormalizedLine {
	type key struct {
		upc   string
		price money.Cents
	}

	out := make([]NormalizedLine, 0, len(lines))
	index := make(map[key]int, len(lines))
	for _, line := range lines {
		k := key{upc: line.UPC, price: line.UnitPrice}
		if i, seen := index[k]; seen {
			out[i].Quantity += line.Quantity
			continue
		}
		index[k] = len(out)
		out = append(out, line)
	}
	return out
}
