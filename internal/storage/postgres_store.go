package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/RTNSmart/tier3-engine/internal/config"
	"github.com/RTNSmart/tier3-engine/internal/money"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db           *sql.DB
	ownsDB       bool // Track if we created the DB connection (for Close())
	queryTimeout time.Duration

	profilesTableName      string // Default: "customer_profiles"
	dailyCountsTableName   string // Default: "daily_transaction_counts"
	validationLogTableName string // Default: "loyalty_validation_log"
	avtTableName           string // Default: "avt_transactions"
	transactionsTableName  string // Default: "transactions"
	linesTableName         string // Default: "transaction_lines"
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		// NOTE: db.Close() error is intentionally ignored during initialization cleanup.
		// If connection fails, the Close() error is not actionable and would only obscure
		// the original connection failure. The primary error is returned to the caller.
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	// Apply connection pool settings from config
	config.ApplyPostgresPoolSettings(db, poolConfig)

	store := newPostgresStore(db, true)

	// Create tables if they don't exist (using default table names)
	if err := store.createPostgresTables(); err != nil {
		// Same rationale: Close() error during initialization cleanup is not actionable
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// NewPostgresStoreWithDB creates a PostgreSQL-backed store using an existing connection pool.
// This allows sharing a single connection pool across multiple stores/repositories.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := newPostgresStore(db, false)

	// Create tables if they don't exist (using default table names)
	if err := store.createPostgresTables(); err != nil {
		return nil, err
	}

	return store, nil
}

func newPostgresStore(db *sql.DB, ownsDB bool) *PostgresStore {
	return &PostgresStore{
		db:                     db,
		ownsDB:                 ownsDB,
		profilesTableName:      "customer_profiles",
		dailyCountsTableName:   "daily_transaction_counts",
		validationLogTableName: "loyalty_validation_log",
		avtTableName:           "avt_transactions",
		transactionsTableName:  "transactions",
		linesTableName:         "transaction_lines",
	}
}

// WithTableNames sets custom table names (for schema_mapping support).
// After setting table names, it recreates tables with the new names.
func (s *PostgresStore) WithTableNames(profiles, dailyCounts, validationLog, avt, transactions, lines string) *PostgresStore {
	if profiles != "" {
		s.profilesTableName = profiles
	}
	if dailyCounts != "" {
		s.dailyCountsTableName = dailyCounts
	}
	if validationLog != "" {
		s.validationLogTableName = validationLog
	}
	if avt != "" {
		s.avtTableName = avt
	}
	if transactions != "" {
		s.transactionsTableName = transactions
	}
	if lines != "" {
		s.linesTableName = lines
	}

	// Recreate tables with new names (CREATE TABLE IF NOT EXISTS will only create missing tables)
	_ = s.createPostgresTables()

	return s
}

// createPostgresTables creates the necessary tables if they don't exist.
// Monetary columns are BIGINT cents. Tables created using configured table
// names from schema_mapping.
func (s *PostgresStore) createPostgresTables() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			loyalty_id TEXT PRIMARY KEY,
			cid_customer_id TEXT NOT NULL UNIQUE,
			format_type TEXT NOT NULL,
			store_id TEXT NOT NULL DEFAULT '',
			first_seen TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL,
			total_transactions BIGINT NOT NULL DEFAULT 0,
			is_manager_card BOOLEAN NOT NULL DEFAULT FALSE,
			avt_verified BOOLEAN NOT NULL DEFAULT FALSE,
			eaiv_verified BOOLEAN NOT NULL DEFAULT FALSE,
			last_avt_verified TIMESTAMP,
			last_eaiv_verified TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS %s (
			loyalty_id TEXT NOT NULL,
			transaction_date TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (loyalty_id, transaction_date)
		);

		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			loyalty_id TEXT NOT NULL DEFAULT '',
			store_id TEXT NOT NULL DEFAULT '',
			valid BOOLEAN NOT NULL,
			eligible_for_tier3 BOOLEAN NOT NULL,
			eligible_for_cid_fund BOOLEAN NOT NULL,
			is_manager_card BOOLEAN NOT NULL,
			daily_count INTEGER NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			transaction_id TEXT NOT NULL,
			store_id TEXT NOT NULL,
			loyalty_id TEXT NOT NULL DEFAULT '',
			cid_customer_id TEXT NOT NULL DEFAULT '',
			avt_performed BOOLEAN NOT NULL,
			avt_method TEXT NOT NULL,
			avt_timestamp TIMESTAMP NOT NULL,
			cashier_id TEXT NOT NULL DEFAULT '',
			eaiv_verified BOOLEAN
		);

		CREATE TABLE IF NOT EXISTS %s (
			transaction_id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL DEFAULT '',
			loyalty_id TEXT NOT NULL DEFAULT '',
			cashier_id TEXT NOT NULL DEFAULT '',
			tier3_eligible BOOLEAN NOT NULL,
			cid_fund_eligible BOOLEAN NOT NULL,
			age_verified BOOLEAN NOT NULL,
			eaiv_verified BOOLEAN NOT NULL,
			total_discount BIGINT NOT NULL,
			reward_count INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %s (
			transaction_id TEXT NOT NULL,
			line_number INTEGER NOT NULL,
			upc TEXT NOT NULL DEFAULT '',
			skuguid TEXT NOT NULL DEFAULT '',
			quantity INTEGER NOT NULL,
			unit_price BIGINT NOT NULL,
			base_extended_price BIGINT NOT NULL,
			loyalty_discount BIGINT NOT NULL,
			manufacturer_coupon BIGINT NOT NULL,
			multi_unit_discount BIGINT NOT NULL,
			retailer_discount BIGINT NOT NULL,
			other_manufacturer_discount BIGINT NOT NULL,
			transaction_discount BIGINT NOT NULL,
			total_discount BIGINT NOT NULL,
			final_unit_price BIGINT NOT NULL,
			final_extended_price BIGINT NOT NULL,
			PRIMARY KEY (transaction_id, line_number)
		);

		CREATE INDEX IF NOT EXISTS idx_daily_counts_date ON %s(transaction_date);
		CREATE INDEX IF NOT EXISTS idx_validation_log_lid ON %s(loyalty_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_validation_log_created ON %s(created_at);
		CREATE INDEX IF NOT EXISTS idx_avt_transaction ON %s(transaction_id);
		CREATE INDEX IF NOT EXISTS idx_avt_lid ON %s(loyalty_id);
		CREATE INDEX IF NOT EXISTS idx_transactions_lid ON %s(loyalty_id, created_at DESC);
	`,
		// Table names
		s.profilesTableName,
		s.dailyCountsTableName,
		s.validationLogTableName,
		s.avtTableName,
		s.transactionsTableName,
		s.linesTableName,
		// Index table references
		s.dailyCountsTableName,
		s.validationLogTableName, s.validationLogTableName,
		s.avtTableName, s.avtTableName,
		s.transactionsTableName,
	)

	_, err := s.db.Exec(schema)
	return err
}

// TouchProfile upserts the profile row for a sighting and returns the result.
// A CID collision with another profile retries once with the fallback CID.
func (s *PostgresStore) TouchProfile(ctx context.Context, sighting ProfileSighting) (CustomerProfile, error) {
	if err := validateAndPrepareSighting(&sighting); err != nil {
		return CustomerProfile{}, err
	}

	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	profile, err := s.touchProfileOnce(ctx, sighting, sighting.CIDCandidate)
	if isCIDCollision(err) {
		profile, err = s.touchProfileOnce(ctx, sighting, sighting.CIDFallback)
	}
	return profile, err
}

func (s *PostgresStore) touchProfileOnce(ctx context.Context, sighting ProfileSighting, cid string) (CustomerProfile, error) {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (loyalty_id, cid_customer_id, format_type, store_id, first_seen, last_seen, total_transactions, is_manager_card)
		VALUES ($1, $2, $3, $4, $5, $5, 1, $6)
		ON CONFLICT (loyalty_id) DO UPDATE SET
			last_seen = GREATEST(%[1]s.last_seen, EXCLUDED.last_seen),
			total_transactions = %[1]s.total_transactions + 1,
			is_manager_card = %[1]s.is_manager_card OR EXCLUDED.is_manager_card
		RETURNING loyalty_id, cid_customer_id, format_type, store_id, first_seen, last_seen,
			total_transactions, is_manager_card, avt_verified, eaiv_verified,
			last_avt_verified, last_eaiv_verified
	`, s.profilesTableName)

	row := s.db.QueryRowContext(ctx, query,
		sighting.LoyaltyID, cid, sighting.FormatType, sighting.StoreID,
		sighting.SeenAt.UTC(), sighting.ManagerCard)

	return scanProfile(row)
}

// isCIDCollision reports whether err is a unique violation on the CID column.
func isCIDCollision(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && strings.Contains(pqErr.Constraint, "cid")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (CustomerProfile, error) {
	var profile CustomerProfile
	var lastAVT, lastEAIV sql.NullTime

	err := row.Scan(
		&profile.LoyaltyID, &profile.CIDCustomerID, &profile.FormatType, &profile.StoreID,
		&profile.FirstSeen, &profile.LastSeen, &profile.TotalTransactions,
		&profile.IsManagerCard, &profile.AVTVerified, &profile.EAIVVerified,
		&lastAVT, &lastEAIV)
	if err == sql.ErrNoRows {
		return CustomerProfile{}, ErrNotFound
	}
	if err != nil {
		return CustomerProfile{}, err
	}

	if lastAVT.Valid {
		profile.LastAVTVerified = ptrTime(lastAVT.Time)
	}
	if lastEAIV.Valid {
		profile.LastEAIVVerified = ptrTime(lastEAIV.Time)
	}
	return profile, nil
}

// GetProfile retrieves a profile by loyalty ID.
func (s *PostgresStore) GetProfile(ctx context.Context, loyaltyID string) (CustomerProfile, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT loyalty_id, cid_customer_id, format_type, store_id, first_seen, last_seen,
			total_transactions, is_manager_card, avt_verified, eaiv_verified,
			last_avt_verified, last_eaiv_verified
		FROM %s
		WHERE loyalty_id = $1
	`, s.profilesTableName)

	return scanProfile(s.db.QueryRowContext(ctx, query, loyaltyID))
}

// MarkProfileAgeVerified refreshes the AVT fields on an existing profile.
// A missing profile is not an error.
func (s *PostgresStore) MarkProfileAgeVerified(ctx context.Context, loyaltyID string, verifiedAt time.Time) error {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s SET avt_verified = TRUE, last_avt_verified = $2
		WHERE loyalty_id = $1
	`, s.profilesTableName)

	_, err := s.db.ExecContext(ctx, query, loyaltyID, verifiedAt.UTC())
	return err
}

// IncrementDailyCount atomically bumps the counter and returns the new value.
// The upsert and the read are a single statement so concurrent requests each
// observe their own post-increment count.
func (s *PostgresStore) IncrementDailyCount(ctx context.Context, loyaltyID, day string) (int, error) {
	if loyaltyID == "" {
		return 0, fmt.Errorf("daily count requires loyalty_id")
	}

	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (loyalty_id, transaction_date, count, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (loyalty_id, transaction_date) DO UPDATE SET
			count = %[1]s.count + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING count
	`, s.dailyCountsTableName)

	var count int
	err := s.db.QueryRowContext(ctx, query, loyaltyID, day, time.Now().UTC()).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetDailyCount returns the current count, or 0 when the row is absent.
func (s *PostgresStore) GetDailyCount(ctx context.Context, loyaltyID, day string) (int, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT count FROM %s
		WHERE loyalty_id = $1 AND transaction_date = $2
	`, s.dailyCountsTableName)

	var count int
	err := s.db.QueryRowContext(ctx, query, loyaltyID, day).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// AppendValidationLog appends one audit row.
func (s *PostgresStore) AppendValidationLog(ctx context.Context, entry ValidationLogEntry) error {
	if err := validateAndPrepareValidationEntry(&entry); err != nil {
		return err
	}

	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (loyalty_id, store_id, valid, eligible_for_tier3, eligible_for_cid_fund,
			is_manager_card, daily_count, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.validationLogTableName)

	_, err := s.db.ExecContext(ctx, query,
		entry.LoyaltyID, entry.StoreID, entry.Valid, entry.EligibleForTier3,
		entry.EligibleForCIDFund, entry.IsManagerCard, entry.DailyCount,
		entry.Reason, entry.CreatedAt.UTC())
	return err
}

// ListValidationLog returns the most recent entries for a loyalty ID, newest first.
// An empty loyaltyID lists across all IDs.
func (s *PostgresStore) ListValidationLog(ctx context.Context, loyaltyID string, limit int) ([]ValidationLogEntry, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT loyalty_id, store_id, valid, eligible_for_tier3, eligible_for_cid_fund,
			is_manager_card, daily_count, reason, created_at
		FROM %s
		WHERE ($1 = '' OR loyalty_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, s.validationLogTableName)

	rows, err := s.db.QueryContext(ctx, query, loyaltyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ValidationLogEntry
	for rows.Next() {
		var entry ValidationLogEntry
		if err := rows.Scan(
			&entry.LoyaltyID, &entry.StoreID, &entry.Valid, &entry.EligibleForTier3,
			&entry.EligibleForCIDFund, &entry.IsManagerCard, &entry.DailyCount,
			&entry.Reason, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// AppendAVTRecord appends one age-verification audit row.
func (s *PostgresStore) AppendAVTRecord(ctx context.Context, record AVTRecord) error {
	if err := validateAndPrepareAVTRecord(&record); err != nil {
		return err
	}

	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (transaction_id, store_id, loyalty_id, cid_customer_id,
			avt_performed, avt_method, avt_timestamp, cashier_id, eaiv_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.avtTableName)

	var eaiv sql.NullBool
	if record.EAIVVerified != nil {
		eaiv = sql.NullBool{Bool: *record.EAIVVerified, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		record.TransactionID, record.StoreID, record.LoyaltyID, record.CIDCustomerID,
		record.AVTPerformed, record.AVTMethod, record.AVTTimestamp.UTC(),
		record.CashierID, eaiv)
	return err
}

// SaveTransaction persists the transaction row and all lines in a single SQL
// transaction. Replays of the same transaction ID replace the previous lines.
func (s *PostgresStore) SaveTransaction(ctx context.Context, txn TransactionRecord, lines []TransactionLine) error {
	if err := validateAndPrepareTransaction(&txn, lines); err != nil {
		return err
	}

	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Rollback is a no-op after Commit.
	defer func() { _ = tx.Rollback() }()

	txnQuery := fmt.Sprintf(`
		INSERT INTO %s (transaction_id, store_id, loyalty_id, cashier_id,
			tier3_eligible, cid_fund_eligible, age_verified, eaiv_verified,
			total_discount, reward_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (transaction_id) DO UPDATE SET
			store_id = EXCLUDED.store_id,
			loyalty_id = EXCLUDED.loyalty_id,
			cashier_id = EXCLUDED.cashier_id,
			tier3_eligible = EXCLUDED.tier3_eligible,
			cid_fund_eligible = EXCLUDED.cid_fund_eligible,
			age_verified = EXCLUDED.age_verified,
			eaiv_verified = EXCLUDED.eaiv_verified,
			total_discount = EXCLUDED.total_discount,
			reward_count = EXCLUDED.reward_count,
			created_at = EXCLUDED.created_at
	`, s.transactionsTableName)

	_, err = tx.ExecContext(ctx, txnQuery,
		txn.TransactionID, txn.StoreID, txn.LoyaltyID, txn.CashierID,
		txn.Tier3Eligible, txn.CIDFundEligible, txn.AgeVerified, txn.EAIVVerified,
		int64(txn.TotalDiscount), txn.RewardCount, txn.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE transaction_id = $1`, s.linesTableName)
	if _, err := tx.ExecContext(ctx, deleteQuery, txn.TransactionID); err != nil {
		return fmt.Errorf("clear transaction lines: %w", err)
	}

	if len(lines) > 0 {
		// Multi-row INSERT: one round-trip for all lines
		baseQuery := fmt.Sprintf(`
			INSERT INTO %s (transaction_id, line_number, upc, skuguid, quantity,
				unit_price, base_extended_price, loyalty_discount, manufacturer_coupon,
				multi_unit_discount, retailer_discount, other_manufacturer_discount,
				transaction_discount, total_discount, final_unit_price, final_extended_price)
			VALUES `, s.linesTableName)

		const cols = 16
		valuePlaceholders := make([]string, 0, len(lines))
		args := make([]interface{}, 0, len(lines)*cols)

		for i, line := range lines {
			offset := i * cols
			placeholders := make([]string, cols)
			for j := 0; j < cols; j++ {
				placeholders[j] = fmt.Sprintf("$%d", offset+j+1)
			}
			valuePlaceholders = append(valuePlaceholders, "("+strings.Join(placeholders, ", ")+")")

			args = append(args,
				line.TransactionID, line.LineNumber, line.UPC, line.SKUGUID, line.Quantity,
				int64(line.UnitPrice), int64(line.BaseExtendedPrice),
				int64(line.LoyaltyDiscount), int64(line.ManufacturerCoupon),
				int64(line.MultiUnitDiscount), int64(line.RetailerDiscount),
				int64(line.OtherManufacturer), int64(line.TransactionDiscount),
				int64(line.TotalDiscount), int64(line.FinalUnitPrice),
				int64(line.FinalExtendedPrice),
			)
		}

		query := baseQuery + strings.Join(valuePlaceholders, ", ")
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert transaction lines: %w", err)
		}
	}

	return tx.Commit()
}

// GetTransaction retrieves a transaction and its lines.
func (s *PostgresStore) GetTransaction(ctx context.Context, transactionID string) (TransactionRecord, []TransactionLine, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	txnQuery := fmt.Sprintf(`
		SELECT transaction_id, store_id, loyalty_id, cashier_id,
			tier3_eligible, cid_fund_eligible, age_verified, eaiv_verified,
			total_discount, reward_count, created_at
		FROM %s
		WHERE transaction_id = $1
	`, s.transactionsTableName)

	var txn TransactionRecord
	var totalDiscount int64
	err := s.db.QueryRowContext(ctx, txnQuery, transactionID).Scan(
		&txn.TransactionID, &txn.StoreID, &txn.LoyaltyID, &txn.CashierID,
		&txn.Tier3Eligible, &txn.CIDFundEligible, &txn.AgeVerified, &txn.EAIVVerified,
		&totalDiscount, &txn.RewardCount, &txn.CreatedAt)
	if err == sql.ErrNoRows {
		return TransactionRecord{}, nil, ErrNotFound
	}
	if err != nil {
		return TransactionRecord{}, nil, err
	}
	txn.TotalDiscount = money.Cents(totalDiscount)

	linesQuery := fmt.Sprintf(`
		SELECT transaction_id, line_number, upc, skuguid, quantity,
			unit_price, base_extended_price, loyalty_discount, manufacturer_coupon,
			multi_unit_discount, retailer_discount, other_manufacturer_discount,
			transaction_discount, total_discount, final_unit_price, final_extended_price
		FROM %s
		WHERE transaction_id = $1
		ORDER BY line_number
	`, s.linesTableName)

	rows, err := s.db.QueryContext(ctx, linesQuery, transactionID)
	if err != nil {
		return TransactionRecord{}, nil, err
	}
	defer rows.Close()

	var lines []TransactionLine
	for rows.Next() {
		var line TransactionLine
		var unitPrice, baseExtended, loyalty, coupon, multiUnit, retailer, otherMfg, txnDisc, total, finalUnit, finalExtended int64
		if err := rows.Scan(
			&line.TransactionID, &line.LineNumber, &line.UPC, &line.SKUGUID, &line.Quantity,
			&unitPrice, &baseExtended, &loyalty, &coupon, &multiUnit, &retailer,
			&otherMfg, &txnDisc, &total, &finalUnit, &finalExtended); err != nil {
			return TransactionRecord{}, nil, err
		}
		line.UnitPrice = money.Cents(unitPrice)
		line.BaseExtendedPrice = money.Cents(baseExtended)
		line.LoyaltyDiscount = money.Cents(loyalty)
		line.ManufacturerCoupon = money.Cents(coupon)
		line.MultiUnitDiscount = money.Cents(multiUnit)
		line.RetailerDiscount = money.Cents(retailer)
		line.OtherManufacturer = money.Cents(otherMfg)
		line.TransactionDiscount = money.Cents(txnDisc)
		line.TotalDiscount = money.Cents(total)
		line.FinalUnitPrice = money.Cents(finalUnit)
		line.FinalExtendedPrice = money.Cents(finalExtended)
		lines = append(lines, line)
	}
	return txn, lines, rows.Err()
}

// PurgeDailyCountsBefore deletes count rows with a date before the cutoff.
func (s *PostgresStore) PurgeDailyCountsBefore(ctx context.Context, cutoffDate string) (int64, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE transaction_date < $1`, s.dailyCountsTableName)
	result, err := s.db.ExecContext(ctx, query, cutoffDate)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// PurgeValidationLogBefore deletes audit rows older than the cutoff.
func (s *PostgresStore) PurgeValidationLogBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1`, s.validationLogTableName)
	result, err := s.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the database connection if this store owns it.
func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		// Shared pool: the owner closes it.
		return nil
	}
	return s.db.Close()
}
