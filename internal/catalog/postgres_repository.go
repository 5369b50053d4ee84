package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/RTNSmart/tier3-engine/internal/config"
	"github.com/RTNSmart/tier3-engine/internal/money"
)

// PostgresRepository implements Repository over the synchronizer-owned
// catalog tables. This service never writes them.
type PostgresRepository struct {
	db                 *sql.DB
	ownsDB             bool
	upcTable           string
	allowancesTable    string
	allowanceSKUsTable string
}

// NewPostgresRepository creates a PostgreSQL-backed catalog repository.
func NewPostgresRepository(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		// NOTE: db.Close() error is intentionally ignored during initialization cleanup.
		// The primary error (ping failure) is returned to the caller.
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	return newPostgresRepository(db, true), nil
}

// NewPostgresRepositoryWithDB creates a PostgreSQL-backed catalog repository
// using an existing connection pool shared with the decision store.
func NewPostgresRepositoryWithDB(db *sql.DB) *PostgresRepository {
	return newPostgresRepository(db, false)
}

func newPostgresRepository(db *sql.DB, ownsDB bool) *PostgresRepository {
	return &PostgresRepository{
		db:                 db,
		ownsDB:             ownsDB,
		upcTable:           "upc_master",
		allowancesTable:    "loyalty_allowances",
		allowanceSKUsTable: "loyalty_allowance_skus",
	}
}

// WithTableNames overrides the synchronizer table names (for schema_mapping
// support). Empty names keep the defaults.
func (r *PostgresRepository) WithTableNames(upcTable, allowancesTable, allowanceSKUsTable string) *PostgresRepository {
	if upcTable != "" {
		r.upcTable = upcTable
	}
	if allowancesTable != "" {
		r.allowancesTable = allowancesTable
	}
	if allowanceSKUsTable != "" {
		r.allowanceSKUsTable = allowanceSKUsTable
	}
	return r
}

// ListEntries returns every SKU row.
func (r *PostgresRepository) ListEntries(ctx context.Context) ([]Entry, error) {
	query := fmt.Sprintf(`
		SELECT skuguid,
		       COALESCE(sku_name, ''),
		       COALESCE(brand, ''),
		       COALESCE(manufacturer, ''),
		       COALESCE(category, ''),
		       COALESCE(program_eligibility, ''),
		       COALESCE(carton_upc, ''),
		       COALESCE(carton_suppressed_upc, ''),
		       COALESCE(carton_conversion_factor, 0),
		       COALESCE(carton_is_promotional, FALSE),
		       COALESCE(pack_upc, ''),
		       COALESCE(pack_conversion_factor, 0),
		       COALESCE(pack_is_promotional, FALSE)
		FROM %s
	`, r.upcTable)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query catalog entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		err := rows.Scan(
			&e.SKUGUID,
			&e.SKUName,
			&e.Brand,
			&e.Manufacturer,
			&e.Category,
			&e.ProgramEligibility,
			&e.Carton.UPC,
			&e.Carton.SuppressedUPC,
			&e.Carton.ConversionFactor,
			&e.Carton.IsPromotional,
			&e.Pack.UPC,
			&e.Pack.ConversionFactor,
			&e.Pack.IsPromotional,
		)
		if err != nil {
			return nil, fmt.Errorf("scan catalog entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListAllowances returns every allowance rule with its SKU set joined in
// from the many-to-many mapping table.
func (r *PostgresRepository) ListAllowances(ctx context.Context) ([]AllowanceRule, error) {
	query := fmt.Sprintf(`
		SELECT allowance_id,
		       COALESCE(allowance_type, ''),
		       COALESCE(eligible_uoms, '[]'),
		       COALESCE(min_qty, 0),
		       COALESCE(max_allowance_per_transaction, 0),
		       COALESCE(max_daily_transactions_per_loyalty, 0),
		       COALESCE(manufacturer_funded_amount, 0),
		       COALESCE(promo_code, ''),
		       COALESCE(promotional_upcs_eligible, FALSE),
		       start_date,
		       end_date
		FROM %s
	`, r.allowancesTable)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query allowances: %w", err)
	}
	defer rows.Close()

	var rules []AllowanceRule
	for rows.Next() {
		var (
			rule         AllowanceRule
			uomsJSON     []byte
			maxAllowance int64
			mfgFunded    int64
			startDate    sql.NullTime
			endDate      sql.NullTime
		)
		err := rows.Scan(
			&rule.AllowanceID,
			&rule.AllowanceType,
			&uomsJSON,
			&rule.MinQty,
			&maxAllowance,
			&rule.MaxDailyTransactionsPerLoyalty,
			&mfgFunded,
			&rule.PromoCode,
			&rule.PromotionalUPCsEligible,
			&startDate,
			&endDate,
		)
		if err != nil {
			return nil, fmt.Errorf("scan allowance: %w", err)
		}

		var uoms []string
		if len(uomsJSON) > 0 {
			if err := json.Unmarshal(uomsJSON, &uoms); err != nil {
				return nil, fmt.Errorf("parse eligible_uoms for %s: %w", rule.AllowanceID, err)
			}
		}
		for _, uom := range uoms {
			rule.EligibleUOMs = append(rule.EligibleUOMs, UnitOfMeasure(uom))
		}

		rule.MaxAllowancePerTransaction = money.Cents(maxAllowance)
		rule.ManufacturerFundedAmount = money.Cents(mfgFunded)
		if startDate.Valid {
			rule.StartDate = startDate.Time
		}
		if endDate.Valid {
			rule.EndDate = endDate.Time
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	skuSets, err := r.listAllowanceSKUs(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		rules[i].SKUGUIDs = skuSets[rules[i].AllowanceID]
	}
	return rules, nil
}

// listAllowanceSKUs loads the allowance→SKU mapping grouped by allowance.
func (r *PostgresRepository) listAllowanceSKUs(ctx context.Context) (map[string][]string, error) {
	query := fmt.Sprintf(`SELECT allowance_id, skuguid FROM %s`, r.allowanceSKUsTable)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query allowance skus: %w", err)
	}
	defer rows.Close()

	sets := make(map[string][]string)
	for rows.Next() {
		var allowanceID, skuguid string
		if err := rows.Scan(&allowanceID, &skuguid); err != nil {
			return nil, fmt.Errorf("scan allowance sku: %w", err)
		}
		sets[allowanceID] = append(sets[allowanceID], skuguid)
	}
	return sets, rows.Err()
}

// Ping verifies database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

// Close closes the database connection if this repository owns it.
func (r *PostgresRepository) Close() error {
	if !r.ownsDB {
		return nil
	}
	return r.db.Close()
}
