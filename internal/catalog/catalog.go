package catalog

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/RTNSmart/tier3-engine/internal/config"
	"github.com/RTNSmart/tier3-engine/internal/money"
)

// ErrUPCNotFound is returned when a UPC matches no catalog row.
var ErrUPCNotFound = errors.New("upc not found in catalog")

// UnitOfMeasure is the sell unit implied by the matched UPC column family.
type UnitOfMeasure string

const (
	UOMCarton UnitOfMeasure = "CARTON"
	UOMPack   UnitOfMeasure = "PACK"
)

// UPCMatch identifies which catalog column matched a basket UPC.
type UPCMatch string

const (
	UPCMatchCarton           UPCMatch = "CARTON"
	UPCMatchPack             UPCMatch = "PACK"
	UPCMatchCartonSuppressed UPCMatch = "CARTON_SUPPRESSED"
)

// Product categories as the synchronizer writes them.
const (
	CategoryCigarettes     = "CIG"
	CategoryMoistSmokeless = "MST"
	CategoryCigar          = "CIGAR"
	CategoryOralNicotine   = "ONP"
	CategoryUnknownTobacco = "UNKNOWN_TOBACCO"
)

// UPCBlock is one sell-unit's identifiers on a SKU row. Only the carton
// block carries a suppressed UPC.
type UPCBlock struct {
	UPC              string
	SuppressedUPC    string
	ConversionFactor float64
	IsPromotional    bool
}

// Entry is one SKU row. A physical UPC appears in at most one entry across
// the three searched columns; the synchronizer upholds that.
type Entry struct {
	SKUGUID            string
	SKUName            string
	Brand              string
	Manufacturer       string
	Category           string
	ProgramEligibility string
	Carton             UPCBlock
	Pack               UPCBlock
}

// IsMarlboro reports whether the SKU belongs to the Marlboro brand family.
func (e Entry) IsMarlboro() bool {
	return strings.Contains(strings.ToUpper(e.Brand), "MARLBORO")
}

// Resolution is the result of matching a basket UPC against the catalog.
type Resolution struct {
	Entry         Entry
	MatchedType   UPCMatch
	UnitOfMeasure UnitOfMeasure
}

// AllowanceRule is one manufacturer allowance row joined with its SKU set.
type AllowanceRule struct {
	AllowanceID                    string
	AllowanceType                  string
	SKUGUIDs                       []string // empty set means "all products"
	EligibleUOMs                   []UnitOfMeasure
	MinQty                         int
	MaxAllowancePerTransaction     money.Cents
	MaxDailyTransactionsPerLoyalty int
	ManufacturerFundedAmount       money.Cents
	PromoCode                      string
	PromotionalUPCsEligible        bool
	StartDate                      time.Time
	EndDate                        time.Time
}

const dateLayout = "2006-01-02"

// ActiveOn reports whether the rule's effective window covers the given day.
// Comparison is date-granular. Rows the synchronizer writes without an end
// date never expire.
func (r AllowanceRule) ActiveOn(today time.Time) bool {
	day := today.Format(dateLayout)
	if !r.StartDate.IsZero() && day < r.StartDate.Format(dateLayout) {
		return false
	}
	if !r.EndDate.IsZero() && day > r.EndDate.Format(dateLayout) {
		return false
	}
	return true
}

// AppliesToSKU reports whether the rule covers a SKU. An empty SKU set
// covers all products.
func (r AllowanceRule) AppliesToSKU(skuguid string) bool {
	if len(r.SKUGUIDs) == 0 {
		return true
	}
	for _, id := range r.SKUGUIDs {
		if id == skuguid {
			return true
		}
	}
	return false
}

// AppliesToUOM reports whether the rule covers a sell unit. An empty UOM
// set covers both.
func (r AllowanceRule) AppliesToUOM(uom UnitOfMeasure) bool {
	if len(r.EligibleUOMs) == 0 {
		return true
	}
	for _, u := range r.EligibleUOMs {
		if u == uom {
			return true
		}
	}
	return false
}

// Repository is a catalog data source. Sources return full listings; the
// cached snapshot layer owns lookup structure and refresh cadence.
type Repository interface {
	// ListEntries returns every SKU row.
	ListEntries(ctx context.Context) ([]Entry, error)

	// ListAllowances returns every allowance rule with its SKU set resolved.
	ListAllowances(ctx context.Context) ([]AllowanceRule, error)

	// Close closes any open connections.
	Close() error
}

// NewRepository creates a catalog repository based on config.
func NewRepository(cfg config.CatalogConfig) (Repository, error) {
	return NewRepositoryWithDB(cfg, nil)
}

// NewRepositoryWithDB creates a catalog repository with an optional shared
// database pool. If sharedDB is non-nil for the postgres source, it is used
// instead of opening a new connection.
func NewRepositoryWithDB(cfg config.CatalogConfig, sharedDB *sql.DB) (Repository, error) {
	source := cfg.Source
	if source == "" || source == "disabled" {
		return NewDisabledRepository(), nil
	}

	switch source {
	case "yaml":
		if cfg.YAMLPath == "" {
			return nil, errors.New("yaml_path required when catalog source is 'yaml'")
		}
		return NewYAMLRepository(cfg.YAMLPath)
	case "postgres":
		if cfg.PostgresURL == "" && sharedDB == nil {
			return nil, errors.New("postgres_url required when catalog source is 'postgres'")
		}
		var pgRepo *PostgresRepository
		if sharedDB != nil {
			pgRepo = NewPostgresRepositoryWithDB(sharedDB)
		} else {
			var err error
			pgRepo, err = NewPostgresRepository(cfg.PostgresURL, cfg.PostgresPool)
			if err != nil {
				return nil, err
			}
		}
		return pgRepo.WithTableNames(cfg.UPCTable, cfg.AllowancesTable, cfg.AllowanceSKUsTable), nil
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, errors.New("mongodb_url required when catalog source is 'mongodb'")
		}
		if cfg.MongoDBDatabase == "" {
			return nil, errors.New("mongodb_database required when catalog source is 'mongodb'")
		}
		return NewMongoDBRepository(cfg)
	default:
		return nil, errors.New("invalid catalog source: must be 'yaml', 'postgres', 'mongodb', or 'disabled'")
	}
}
