package catalog

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/RTNSmart/tier3-engine/internal/money"
)

// YAMLRepository implements Repository from a catalog file, for development
// and tests. The file is read once at construction.
type YAMLRepository struct {
	entries    []Entry
	allowances []AllowanceRule
}

type yamlCatalogFile struct {
	Entries    []yamlEntry     `yaml:"entries"`
	Allowances []yamlAllowance `yaml:"allowances"`
}

type yamlEntry struct {
	SKUGUID            string       `yaml:"skuguid"`
	SKUName            string       `yaml:"sku_name"`
	Brand              string       `yaml:"brand"`
	Manufacturer       string       `yaml:"manufacturer"`
	Category           string       `yaml:"category"`
	ProgramEligibility string       `yaml:"program_eligibility"`
	Carton             yamlUPCBlock `yaml:"carton"`
	Pack               yamlUPCBlock `yaml:"pack"`
}

type yamlUPCBlock struct {
	UPC              string  `yaml:"upc"`
	SuppressedUPC    string  `yaml:"suppressed_upc"`
	ConversionFactor float64 `yaml:"conversion_factor"`
	IsPromotional    bool    `yaml:"is_promotional"`
}

type yamlAllowance struct {
	AllowanceID                    string   `yaml:"allowance_id"`
	AllowanceType                  string   `yaml:"allowance_type"`
	SKUGUIDs                       []string `yaml:"skuguids"`
	EligibleUOMs                   []string `yaml:"eligible_uoms"`
	MinQty                         int      `yaml:"min_qty"`
	MaxAllowancePerTransaction     string   `yaml:"max_allowance_per_transaction"`
	MaxDailyTransactionsPerLoyalty int      `yaml:"max_daily_transactions_per_loyalty"`
	ManufacturerFundedAmount       string   `yaml:"manufacturer_funded_amount"`
	PromoCode                      string   `yaml:"promo_code"`
	PromotionalUPCsEligible        bool     `yaml:"promotional_upcs_eligible"`
	StartDate                      string   `yaml:"start_date"`
	EndDate                        string   `yaml:"end_date"`
}

// NewYAMLRepository loads a catalog file.
func NewYAMLRepository(path string) (*YAMLRepository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return ParseYAMLCatalog(data)
}

// ParseYAMLCatalog parses catalog YAML bytes (exported for tests).
func ParseYAMLCatalog(data []byte) (*YAMLRepository, error) {
	var file yamlCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}

	repo := &YAMLRepository{
		entries:    make([]Entry, 0, len(file.Entries)),
		allowances: make([]AllowanceRule, 0, len(file.Allowances)),
	}

	// A UPC may appear in only one row across the searched columns; the
	// synchronizer upholds that for database sources, so hand-written files
	// get a warning instead of silent shadowing.
	seenUPCs := make(map[string]string)
	noteUPC := func(upc, skuguid string) {
		if upc == "" {
			return
		}
		if owner, ok := seenUPCs[upc]; ok && owner != skuguid {
			log.Warn().
				Str("upc", upc).
				Str("skuguid", skuguid).
				Str("already_on", owner).
				Msg("yaml_catalog.duplicate_upc")
			return
		}
		seenUPCs[upc] = skuguid
	}

	for _, e := range file.Entries {
		if e.SKUGUID == "" {
			return nil, fmt.Errorf("catalog entry %q missing skuguid", e.SKUName)
		}
		noteUPC(e.Carton.UPC, e.SKUGUID)
		noteUPC(e.Carton.SuppressedUPC, e.SKUGUID)
		noteUPC(e.Pack.UPC, e.SKUGUID)
		repo.entries = append(repo.entries, Entry{
			SKUGUID:            e.SKUGUID,
			SKUName:            e.SKUName,
			Brand:              e.Brand,
			Manufacturer:       e.Manufacturer,
			Category:           e.Category,
			ProgramEligibility: e.ProgramEligibility,
			Carton: UPCBlock{
				UPC:              e.Carton.UPC,
				SuppressedUPC:    e.Carton.SuppressedUPC,
				ConversionFactor: e.Carton.ConversionFactor,
				IsPromotional:    e.Carton.IsPromotional,
			},
			Pack: UPCBlock{
				UPC:              e.Pack.UPC,
				ConversionFactor: e.Pack.ConversionFactor,
				IsPromotional:    e.Pack.IsPromotional,
			},
		})
	}

	for _, a := range file.Allowances {
		rule, err := a.toRule()
		if err != nil {
			return nil, fmt.Errorf("allowance %q: %w", a.AllowanceID, err)
		}
		repo.allowances = append(repo.allowances, rule)
	}

	return repo, nil
}

func (a yamlAllowance) toRule() (AllowanceRule, error) {
	rule := AllowanceRule{
		AllowanceID:                    a.AllowanceID,
		AllowanceType:                  a.AllowanceType,
		SKUGUIDs:                       a.SKUGUIDs,
		MinQty:                         a.MinQty,
		MaxDailyTransactionsPerLoyalty: a.MaxDailyTransactionsPerLoyalty,
		PromoCode:                      a.PromoCode,
		PromotionalUPCsEligible:        a.PromotionalUPCsEligible,
	}

	for _, uom := range a.EligibleUOMs {
		rule.EligibleUOMs = append(rule.EligibleUOMs, UnitOfMeasure(uom))
	}

	if a.MaxAllowancePerTransaction != "" {
		amount, err := money.Parse(a.MaxAllowancePerTransaction)
		if err != nil {
			return AllowanceRule{}, fmt.Errorf("max_allowance_per_transaction: %w", err)
		}
		rule.MaxAllowancePerTransaction = amount
	}
	if a.ManufacturerFundedAmount != "" {
		amount, err := money.Parse(a.ManufacturerFundedAmount)
		if err != nil {
			return AllowanceRule{}, fmt.Errorf("manufacturer_funded_amount: %w", err)
		}
		rule.ManufacturerFundedAmount = amount
	}

	if a.StartDate != "" {
		start, err := time.Parse(dateLayout, a.StartDate)
		if err != nil {
			return AllowanceRule{}, fmt.Errorf("start_date: %w", err)
		}
		rule.StartDate = start
	}
	if a.EndDate != "" {
		end, err := time.Parse(dateLayout, a.EndDate)
		if err != nil {
			return AllowanceRule{}, fmt.Errorf("end_date: %w", err)
		}
		rule.EndDate = end
	}

	return rule, nil
}

// ListEntries returns every SKU row.
func (r *YAMLRepository) ListEntries(_ context.Context) ([]Entry, error) {
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return entries, nil
}

// ListAllowances returns every allowance rule.
func (r *YAMLRepository) ListAllowances(_ context.Context) ([]AllowanceRule, error) {
	allowances := make([]AllowanceRule, len(r.allowances))
	copy(allowances, r.allowances)
	return allowances, nil
}

// Close is a no-op for YAML repository.
func (r *YAMLRepository) Close() error {
	return nil
}
