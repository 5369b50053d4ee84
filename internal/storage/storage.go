package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RTNSmart/tier3-engine/internal/config"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// Store captures the persistence requirements of the decision pipeline:
// customer profiles, the per-day loyalty counter, the two audit trails
// (validation log, AVT), and the priced transaction itself.
//
// Within one request the engine writes in a fixed order: daily count,
// profile, validation log, AVT (if confirmed), transaction + lines. The
// first two must be serialized per loyalty ID by the caller; the store
// only guarantees that each individual operation is atomic.
type Store interface {
	// Customer profiles
	// TouchProfile upserts the profile for a sighting and returns the
	// post-update row. Inserts set first_seen, CID, format type, and the
	// first-sighting store; updates bump last_seen and total_transactions.
	TouchProfile(ctx context.Context, sighting ProfileSighting) (CustomerProfile, error)
	GetProfile(ctx context.Context, loyaltyID string) (CustomerProfile, error)
	// MarkProfileAgeVerified refreshes avt_verified/last_avt_verified after
	// an AVT append. A missing profile is not an error.
	MarkProfileAgeVerified(ctx context.Context, loyaltyID string, verifiedAt time.Time) error

	// Daily transaction counts
	// IncrementDailyCount atomically bumps the (loyalty_id, day) counter
	// and returns the post-increment value. The returned count is what the
	// manager-card decision must use; increment and read are never split.
	IncrementDailyCount(ctx context.Context, loyaltyID, day string) (int, error)
	GetDailyCount(ctx context.Context, loyaltyID, day string) (int, error)

	// Audit trails (append-only)
	AppendValidationLog(ctx context.Context, entry ValidationLogEntry) error
	ListValidationLog(ctx context.Context, loyaltyID string, limit int) ([]ValidationLogEntry, error)
	AppendAVTRecord(ctx context.Context, record AVTRecord) error

	// Decision transactions
	// SaveTransaction persists the transaction row and all lines atomically:
	// a cancelled request leaves either both or neither.
	SaveTransaction(ctx context.Context, txn TransactionRecord, lines []TransactionLine) error
	GetTransaction(ctx context.Context, transactionID string) (TransactionRecord, []TransactionLine, error)

	// Retention
	PurgeDailyCountsBefore(ctx context.Context, cutoffDate string) (int64, error)
	PurgeValidationLogBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// StoreConfig holds storage backend configuration.
type StoreConfig struct {
	Backend         string // "memory", "postgres", or "mongodb"
	PostgresURL     string
	MongoDBURL      string
	MongoDBDatabase string
	PostgresPool    config.PostgresPoolConfig // PostgreSQL connection pool settings
	QueryTimeout    time.Duration             // Per-call deadline when the caller's context has none

	// Schema mapping (table names for Postgres, collection names for MongoDB)
	ProfilesTableName         string // Default: "customer_profiles"
	DailyCountsTableName      string // Default: "daily_transaction_counts"
	ValidationLogTableName    string // Default: "loyalty_validation_log"
	AVTTransactionsTableName  string // Default: "avt_transactions"
	TransactionsTableName     string // Default: "transactions"
	TransactionLinesTableName string // Default: "transaction_lines"
}

// NewStore creates a Store instance based on the provided configuration.
func NewStore(cfg StoreConfig) (Store, error) {
	return NewStoreWithDB(cfg, nil)
}

// NewStoreWithDB creates a Store instance with an optional shared database pool.
// If sharedDB is provided (non-nil) for postgres backends, it will be used instead
// of creating a new connection. Pass nil to create a new connection pool.
func NewStoreWithDB(cfg StoreConfig, sharedDB *sql.DB) (Store, error) {
	switch cfg.Backend {
	case "memory", "":
		// Memory backend loses daily counts and audit trails on restart.
		// Only use for development/testing - NEVER in production.
		return NewMemoryStore(), nil
	case "postgres":
		if cfg.PostgresURL == "" && sharedDB == nil {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		var store *PostgresStore
		var err error
		if sharedDB != nil {
			store, err = NewPostgresStoreWithDB(sharedDB)
		} else {
			store, err = NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool)
		}
		if err != nil {
			return nil, err
		}
		store.queryTimeout = cfg.QueryTimeout
		// Apply schema_mapping table names
		return store.WithTableNames(
			cfg.ProfilesTableName,
			cfg.DailyCountsTableName,
			cfg.ValidationLogTableName,
			cfg.AVTTransactionsTableName,
			cfg.TransactionsTableName,
			cfg.TransactionLinesTableName,
		), nil
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_url")
		}
		if cfg.MongoDBDatabase == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_database")
		}
		return NewMongoDBStore(cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// MemoryStore is an in-memory Store implementation suitable for tests and
// single-instance development deployments.
type MemoryStore struct {
	mu            sync.RWMutex
	profiles      map[string]CustomerProfile // loyaltyID -> profile
	profilesByCID map[string]string          // cid -> loyaltyID (secondary index for uniqueness)
	dailyCounts   map[string]DailyCount      // loyaltyID + "|" + date -> count row
	validationLog []ValidationLogEntry
	avtRecords    []AVTRecord
	transactions  map[string]TransactionRecord
	txnLines      map[string][]TransactionLine
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:      make(map[string]CustomerProfile),
		profilesByCID: make(map[string]string),
		dailyCounts:   make(map[string]DailyCount),
		transactions:  make(map[string]TransactionRecord),
		txnLines:      make(map[string][]TransactionLine),
	}
}

func dailyCountKey(loyaltyID, day string) string {
	return loyaltyID + "|" + day
}

// TouchProfile upserts the profile for a sighting.
func (m *MemoryStore) TouchProfile(_ context.Context, sighting ProfileSighting) (CustomerProfile, error) {
	if err := validateAndPrepareSighting(&sighting); err != nil {
		return CustomerProfile{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if profile, ok := m.profiles[sighting.LoyaltyID]; ok {
		if sighting.SeenAt.After(profile.LastSeen) {
			profile.LastSeen = sighting.SeenAt
		}
		profile.TotalTransactions++
		if sighting.ManagerCard {
			profile.IsManagerCard = true
		}
		m.profiles[sighting.LoyaltyID] = profile
		return profile, nil
	}

	cid := sighting.CIDCandidate
	if owner, taken := m.profilesByCID[cid]; taken && owner != sighting.LoyaltyID {
		cid = sighting.CIDFallback
	}

	profile := CustomerProfile{
		LoyaltyID:         sighting.LoyaltyID,
		CIDCustomerID:     cid,
		FormatType:        sighting.FormatType,
		StoreID:           sighting.StoreID,
		FirstSeen:         sighting.SeenAt,
		LastSeen:          sighting.SeenAt,
		TotalTransactions: 1,
		IsManagerCard:     sighting.ManagerCard,
	}
	m.profiles[sighting.LoyaltyID] = profile
	m.profilesByCID[cid] = sighting.LoyaltyID
	return profile, nil
}

// GetProfile retrieves a profile by loyalty ID.
func (m *MemoryStore) GetProfile(_ context.Context, loyaltyID string) (CustomerProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profile, ok := m.profiles[loyaltyID]
	if !ok {
		return CustomerProfile{}, ErrNotFound
	}
	return profile, nil
}

// MarkProfileAgeVerified refreshes the AVT fields on an existing profile.
func (m *MemoryStore) MarkProfileAgeVerified(_ context.Context, loyaltyID string, verifiedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile, ok := m.profiles[loyaltyID]
	if !ok {
		// Profile may not exist yet; the RTN app owns some profiles.
		return nil
	}
	profile.AVTVerified = true
	profile.LastAVTVerified = ptrTime(verifiedAt)
	m.profiles[loyaltyID] = profile
	return nil
}

// IncrementDailyCount atomically bumps the counter and returns the new value.
func (m *MemoryStore) IncrementDailyCount(_ context.Context, loyaltyID, day string) (int, error) {
	if loyaltyID == "" {
		return 0, fmt.Errorf("daily count requires loyalty_id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := dailyCountKey(loyaltyID, day)
	row, ok := m.dailyCounts[key]
	if !ok {
		row = DailyCount{LoyaltyID: loyaltyID, TransactionDate: day}
	}
	row.Count++
	row.UpdatedAt = time.Now()
	m.dailyCounts[key] = row
	return row.Count, nil
}

// GetDailyCount returns the current count, or 0 when the row is absent.
func (m *MemoryStore) GetDailyCount(_ context.Context, loyaltyID, day string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.dailyCounts[dailyCountKey(loyaltyID, day)]
	if !ok {
		return 0, nil
	}
	return row.Count, nil
}

// AppendValidationLog appends one audit row.
func (m *MemoryStore) AppendValidationLog(_ context.Context, entry ValidationLogEntry) error {
	if err := validateAndPrepareValidationEntry(&entry); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.validationLog = append(m.validationLog, entry)
	return nil
}

// ListValidationLog returns the most recent entries for a loyalty ID, newest first.
func (m *MemoryStore) ListValidationLog(_ context.Context, loyaltyID string, limit int) ([]ValidationLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []ValidationLogEntry
	for _, entry := range m.validationLog {
		if loyaltyID == "" || entry.LoyaltyID == loyaltyID {
			matched = append(matched, entry)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// AppendAVTRecord appends one age-verification audit row.
func (m *MemoryStore) AppendAVTRecord(_ context.Context, record AVTRecord) error {
	if err := validateAndPrepareAVTRecord(&record); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.avtRecords = append(m.avtRecords, record)
	return nil
}

// AVTRecords returns a copy of all appended AVT rows (test helper).
func (m *MemoryStore) AVTRecords() []AVTRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]AVTRecord, len(m.avtRecords))
	copy(out, m.avtRecords)
	return out
}

// SaveTransaction persists the transaction and its lines together.
func (m *MemoryStore) SaveTransaction(_ context.Context, txn TransactionRecord, lines []TransactionLine) error {
	if err := validateAndPrepareTransaction(&txn, lines); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]TransactionLine, len(lines))
	copy(stored, lines)
	m.transactions[txn.TransactionID] = txn
	m.txnLines[txn.TransactionID] = stored
	return nil
}

// GetTransaction retrieves a transaction and its lines.
func (m *MemoryStore) GetTransaction(_ context.Context, transactionID string) (TransactionRecord, []TransactionLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txn, ok := m.transactions[transactionID]
	if !ok {
		return TransactionRecord{}, nil, ErrNotFound
	}
	lines := make([]TransactionLine, len(m.txnLines[transactionID]))
	copy(lines, m.txnLines[transactionID])
	return txn, lines, nil
}

// PurgeDailyCountsBefore deletes count rows with a date before the cutoff.
// ISO date keys compare correctly as strings.
func (m *MemoryStore) PurgeDailyCountsBefore(_ context.Context, cutoffDate string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := int64(0)
	for key, row := range m.dailyCounts {
		if row.TransactionDate < cutoffDate {
			delete(m.dailyCounts, key)
			count++
		}
	}
	return count, nil
}

// PurgeValidationLogBefore deletes audit rows older than the cutoff.
func (m *MemoryStore) PurgeValidationLogBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.validationLog[:0]
	count := int64(0)
	for _, entry := range m.validationLog {
		if entry.CreatedAt.Before(cutoff) {
			count++
			continue
		}
		kept = append(kept, entry)
	}
	m.validationLog = kept
	return count, nil
}

// Ping implements the Store interface; memory is always reachable.
func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close implements the Store interface.
func (m *MemoryStore) Close() error {
	return nil
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
