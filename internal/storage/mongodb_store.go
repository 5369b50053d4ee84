package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/RTNSmart/tier3-engine/internal/money"
)

// MongoDBStore implements Store using MongoDB.
type MongoDBStore struct {
	client        *mongo.Client
	db            *mongo.Database
	queryTimeout  time.Duration
	profiles      *mongo.Collection
	dailyCounts   *mongo.Collection
	validationLog *mongo.Collection
	avtRecords    *mongo.Collection
	transactions  *mongo.Collection
}

// NewMongoDBStore creates a new MongoDB-backed store. Collection names come
// from the schema mapping in cfg; transactions embed their lines so a request
// writes one document and the all-or-nothing contract holds without
// multi-document transactions.
func NewMongoDBStore(cfg StoreConfig) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDBURL))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		// NOTE: client.Disconnect() error is intentionally ignored during initialization cleanup.
		// If connection fails, the Disconnect() error is not actionable and would only obscure
		// the original connection failure. The primary error is returned to the caller.
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(cfg.MongoDBDatabase)

	store := &MongoDBStore{
		client:        client,
		db:            db,
		queryTimeout:  cfg.QueryTimeout,
		profiles:      db.Collection(collectionName(cfg.ProfilesTableName, "customer_profiles")),
		dailyCounts:   db.Collection(collectionName(cfg.DailyCountsTableName, "daily_transaction_counts")),
		validationLog: db.Collection(collectionName(cfg.ValidationLogTableName, "loyalty_validation_log")),
		avtRecords:    db.Collection(collectionName(cfg.AVTTransactionsTableName, "avt_transactions")),
		transactions:  db.Collection(collectionName(cfg.TransactionsTableName, "transactions")),
	}

	// Create indexes
	if err := store.createIndexes(ctx); err != nil {
		// Same rationale: Disconnect() error during initialization cleanup is not actionable
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return store, nil
}

func collectionName(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

// createIndexes creates necessary indexes for collections.
func (s *MongoDBStore) createIndexes(ctx context.Context) error {
	// Profiles: _id is the loyalty ID; CID must be globally unique
	_, err := s.profiles.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "cid_customer_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("create profile indexes: %w", err)
	}

	// Daily counts: unique per (loyalty_id, transaction_date)
	_, err = s.dailyCounts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "loyalty_id", Value: 1}, {Key: "transaction_date", Value: 1}},
			Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "transaction_date", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create daily count indexes: %w", err)
	}

	// Validation log: query path is per-LID newest-first, purge path by created_at
	_, err = s.validationLog.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "loyalty_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create validation log indexes: %w", err)
	}

	// AVT records: looked up by transaction for audits
	_, err = s.avtRecords.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "transaction_id", Value: 1}}},
		{Keys: bson.D{{Key: "loyalty_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create avt indexes: %w", err)
	}

	// Transactions: _id is the transaction ID; secondary lookup by LID
	_, err = s.transactions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "loyalty_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create transaction indexes: %w", err)
	}

	return nil
}

// mongoProfile is the BSON shape of CustomerProfile (keyed by loyalty ID).
type mongoProfile struct {
	LoyaltyID         string     `bson:"_id"`
	CIDCustomerID     string     `bson:"cid_customer_id"`
	FormatType        string     `bson:"format_type"`
	StoreID           string     `bson:"store_id"`
	FirstSeen         time.Time  `bson:"first_seen"`
	LastSeen          time.Time  `bson:"last_seen"`
	TotalTransactions int64      `bson:"total_transactions"`
	IsManagerCard     bool       `bson:"is_manager_card"`
	AVTVerified       bool       `bson:"avt_verified"`
	EAIVVerified      bool       `bson:"eaiv_verified"`
	LastAVTVerified   *time.Time `bson:"last_avt_verified,omitempty"`
	LastEAIVVerified  *time.Time `bson:"last_eaiv_verified,omitempty"`
}

func (p mongoProfile) toProfile() CustomerProfile {
	return CustomerProfile{
		LoyaltyID:         p.LoyaltyID,
		CIDCustomerID:     p.CIDCustomerID,
		FormatType:        p.FormatType,
		StoreID:           p.StoreID,
		FirstSeen:         p.FirstSeen,
		LastSeen:          p.LastSeen,
		TotalTransactions: p.TotalTransactions,
		IsManagerCard:     p.IsManagerCard,
		AVTVerified:       p.AVTVerified,
		EAIVVerified:      p.EAIVVerified,
		LastAVTVerified:   p.LastAVTVerified,
		LastEAIVVerified:  p.LastEAIVVerified,
	}
}

// TouchProfile upserts the profile document for a sighting.
// A CID collision with another profile retries once with the fallback CID.
func (s *MongoDBStore) TouchProfile(ctx context.Context, sighting ProfileSighting) (CustomerProfile, error) {
	if err := validateAndPrepareSighting(&sighting); err != nil {
		return CustomerProfile{}, err
	}

	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	profile, err := s.touchProfileOnce(ctx, sighting, sighting.CIDCandidate)
	if mongo.IsDuplicateKeyError(err) {
		profile, err = s.touchProfileOnce(ctx, sighting, sighting.CIDFallback)
	}
	return profile, err
}

func (s *MongoDBStore) touchProfileOnce(ctx context.Context, sighting ProfileSighting, cid string) (CustomerProfile, error) {
	filter := bson.M{"_id": sighting.LoyaltyID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"cid_customer_id": cid,
			"format_type":     sighting.FormatType,
			"store_id":        sighting.StoreID,
			"first_seen":      sighting.SeenAt,
			"avt_verified":    false,
			"eaiv_verified":   false,
		},
		"$max": bson.M{"last_seen": sighting.SeenAt},
		"$inc": bson.M{"total_transactions": 1},
	}
	if sighting.ManagerCard {
		update["$set"] = bson.M{"is_manager_card": true}
	} else {
		update["$setOnInsert"].(bson.M)["is_manager_card"] = false
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc mongoProfile
	if err := s.profiles.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return CustomerProfile{}, err
	}
	return doc.toProfile(), nil
}

// GetProfile retrieves a profile by loyalty ID.
func (s *MongoDBStore) GetProfile(ctx context.Context, loyaltyID string) (CustomerProfile, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	var doc mongoProfile
	err := s.profiles.FindOne(ctx, bson.M{"_id": loyaltyID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return CustomerProfile{}, ErrNotFound
	}
	if err != nil {
		return CustomerProfile{}, err
	}
	return doc.toProfile(), nil
}

// MarkProfileAgeVerified refreshes the AVT fields on an existing profile.
// A missing profile is not an error.
func (s *MongoDBStore) MarkProfileAgeVerified(ctx context.Context, loyaltyID string, verifiedAt time.Time) error {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"avt_verified":      true,
		"last_avt_verified": verifiedAt,
	}}
	_, err := s.profiles.UpdateOne(ctx, bson.M{"_id": loyaltyID}, update)
	return err
}

// IncrementDailyCount atomically bumps the counter and returns the new value.
// FindOneAndUpdate with $inc + upsert + After is the single atomic
// increment-and-read the manager-card decision requires.
func (s *MongoDBStore) IncrementDailyCount(ctx context.Context, loyaltyID, day string) (int, error) {
	if loyaltyID == "" {
		return 0, fmt.Errorf("daily count requires loyalty_id")
	}

	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	filter := bson.M{"loyalty_id": loyaltyID, "transaction_date": day}
	update := bson.M{
		"$inc": bson.M{"count": 1},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc struct {
		Count int `bson:"count"`
	}
	if err := s.dailyCounts.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return 0, err
	}
	return doc.Count, nil
}

// GetDailyCount returns the current count, or 0 when the document is absent.
func (s *MongoDBStore) GetDailyCount(ctx context.Context, loyaltyID, day string) (int, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	var doc struct {
		Count int `bson:"count"`
	}
	err := s.dailyCounts.FindOne(ctx, bson.M{"loyalty_id": loyaltyID, "transaction_date": day}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Count, nil
}

type mongoValidationEntry struct {
	LoyaltyID          string    `bson:"loyalty_id"`
	StoreID            string    `bson:"store_id"`
	Valid              bool      `bson:"valid"`
	EligibleForTier3   bool      `bson:"eligible_for_tier3"`
	EligibleForCIDFund bool      `bson:"eligible_for_cid_fund"`
	IsManagerCard      bool      `bson:"is_manager_card"`
	DailyCount         int       `bson:"daily_count"`
	Reason             string    `bson:"reason"`
	CreatedAt          time.Time `bson:"created_at"`
}

// AppendValidationLog appends one audit document.
func (s *MongoDBStore) AppendValidationLog(ctx context.Context, entry ValidationLogEntry) error {
	if err := validateAndPrepareValidationEntry(&entry); err != nil {
		return err
	}

	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	doc := mongoValidationEntry{
		LoyaltyID:          entry.LoyaltyID,
		StoreID:            entry.StoreID,
		Valid:              entry.Valid,
		EligibleForTier3:   entry.EligibleForTier3,
		EligibleForCIDFund: entry.EligibleForCIDFund,
		IsManagerCard:      entry.IsManagerCard,
		DailyCount:         entry.DailyCount,
		Reason:             entry.Reason,
		CreatedAt:          entry.CreatedAt.UTC(),
	}
	_, err := s.validationLog.InsertOne(ctx, doc)
	return err
}

// ListValidationLog returns the most recent entries for a loyalty ID, newest first.
// An empty loyaltyID lists across all IDs.
func (s *MongoDBStore) ListValidationLog(ctx context.Context, loyaltyID string, limit int) ([]ValidationLogEntry, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	filter := bson.M{}
	if loyaltyID != "" {
		filter["loyalty_id"] = loyaltyID
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.validationLog.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []ValidationLogEntry
	for cursor.Next(ctx) {
		var doc mongoValidationEntry
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		entries = append(entries, ValidationLogEntry{
			LoyaltyID:          doc.LoyaltyID,
			StoreID:            doc.StoreID,
			Valid:              doc.Valid,
			EligibleForTier3:   doc.EligibleForTier3,
			EligibleForCIDFund: doc.EligibleForCIDFund,
			IsManagerCard:      doc.IsManagerCard,
			DailyCount:         doc.DailyCount,
			Reason:             doc.Reason,
			CreatedAt:          doc.CreatedAt,
		})
	}
	return entries, cursor.Err()
}

// AppendAVTRecord appends one age-verification audit document.
func (s *MongoDBStore) AppendAVTRecord(ctx context.Context, record AVTRecord) error {
	if err := validateAndPrepareAVTRecord(&record); err != nil {
		return err
	}

	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	doc := bson.M{
		"transaction_id":  record.TransactionID,
		"store_id":        record.StoreID,
		"loyalty_id":      record.LoyaltyID,
		"cid_customer_id": record.CIDCustomerID,
		"avt_performed":   record.AVTPerformed,
		"avt_method":      record.AVTMethod,
		"avt_timestamp":   record.AVTTimestamp.UTC(),
		"cashier_id":      record.CashierID,
	}
	if record.EAIVVerified != nil {
		doc["eaiv_verified"] = *record.EAIVVerified
	}
	_, err := s.avtRecords.InsertOne(ctx, doc)
	return err
}

// mongoTransaction embeds the line breakdown so the whole decision persists
// as one document write.
type mongoTransaction struct {
	TransactionID   string                 `bson:"_id"`
	StoreID         string                 `bson:"store_id"`
	LoyaltyID       string                 `bson:"loyalty_id"`
	CashierID       string                 `bson:"cashier_id"`
	Tier3Eligible   bool                   `bson:"tier3_eligible"`
	CIDFundEligible bool                   `bson:"cid_fund_eligible"`
	AgeVerified     bool                   `bson:"age_verified"`
	EAIVVerified    bool                   `bson:"eaiv_verified"`
	TotalDiscount   int64                  `bson:"total_discount"`
	RewardCount     int                    `bson:"reward_count"`
	CreatedAt       time.Time              `bson:"created_at"`
	Lines           []mongoTransactionLine `bson:"lines"`
}

type mongoTransactionLine struct {
	LineNumber          int    `bson:"line_number"`
	UPC                 string `bson:"upc"`
	SKUGUID             string `bson:"skuguid"`
	Quantity            int    `bson:"quantity"`
	UnitPrice           int64  `bson:"unit_price"`
	BaseExtendedPrice   int64  `bson:"base_extended_price"`
	LoyaltyDiscount     int64  `bson:"loyalty_discount"`
	ManufacturerCoupon  int64  `bson:"manufacturer_coupon"`
	MultiUnitDiscount   int64  `bson:"multi_unit_discount"`
	RetailerDiscount    int64  `bson:"retailer_discount"`
	OtherManufacturer   int64  `bson:"other_manufacturer_discount"`
	TransactionDiscount int64  `bson:"transaction_discount"`
	TotalDiscount       int64  `bson:"total_discount"`
	FinalUnitPrice      int64  `bson:"final_unit_price"`
	FinalExtendedPrice  int64  `bson:"final_extended_price"`
}

// SaveTransaction persists the transaction with embedded lines as a single
// document replace, so cancellation cannot leave lines without their header.
func (s *MongoDBStore) SaveTransaction(ctx context.Context, txn TransactionRecord, lines []TransactionLine) error {
	if err := validateAndPrepareTransaction(&txn, lines); err != nil {
		return err
	}

	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	doc := mongoTransaction{
		TransactionID:   txn.TransactionID,
		StoreID:         txn.StoreID,
		LoyaltyID:       txn.LoyaltyID,
		CashierID:       txn.CashierID,
		Tier3Eligible:   txn.Tier3Eligible,
		CIDFundEligible: txn.CIDFundEligible,
		AgeVerified:     txn.AgeVerified,
		EAIVVerified:    txn.EAIVVerified,
		TotalDiscount:   int64(txn.TotalDiscount),
		RewardCount:     txn.RewardCount,
		CreatedAt:       txn.CreatedAt.UTC(),
		Lines:           make([]mongoTransactionLine, 0, len(lines)),
	}
	for _, line := range lines {
		doc.Lines = append(doc.Lines, mongoTransactionLine{
			LineNumber:          line.LineNumber,
			UPC:                 line.UPC,
			SKUGUID:             line.SKUGUID,
			Quantity:            line.Quantity,
			UnitPrice:           int64(line.UnitPrice),
			BaseExtendedPrice:   int64(line.BaseExtendedPrice),
			LoyaltyDiscount:     int64(line.LoyaltyDiscount),
			ManufacturerCoupon:  int64(line.ManufacturerCoupon),
			MultiUnitDiscount:   int64(line.MultiUnitDiscount),
			RetailerDiscount:    int64(line.RetailerDiscount),
			OtherManufacturer:   int64(line.OtherManufacturer),
			TransactionDiscount: int64(line.TransactionDiscount),
			TotalDiscount:       int64(line.TotalDiscount),
			FinalUnitPrice:      int64(line.FinalUnitPrice),
			FinalExtendedPrice:  int64(line.FinalExtendedPrice),
		})
	}

	opts := options.Replace().SetUpsert(true)
	_, err := s.transactions.ReplaceOne(ctx, bson.M{"_id": txn.TransactionID}, doc, opts)
	return err
}

// GetTransaction retrieves a transaction and its lines.
func (s *MongoDBStore) GetTransaction(ctx context.Context, transactionID string) (TransactionRecord, []TransactionLine, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	var doc mongoTransaction
	err := s.transactions.FindOne(ctx, bson.M{"_id": transactionID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return TransactionRecord{}, nil, ErrNotFound
	}
	if err != nil {
		return TransactionRecord{}, nil, err
	}

	txn := TransactionRecord{
		TransactionID:   doc.TransactionID,
		StoreID:         doc.StoreID,
		LoyaltyID:       doc.LoyaltyID,
		CashierID:       doc.CashierID,
		Tier3Eligible:   doc.Tier3Eligible,
		CIDFundEligible: doc.CIDFundEligible,
		AgeVerified:     doc.AgeVerified,
		EAIVVerified:    doc.EAIVVerified,
		TotalDiscount:   money.Cents(doc.TotalDiscount),
		RewardCount:     doc.RewardCount,
		CreatedAt:       doc.CreatedAt,
	}
	lines := make([]TransactionLine, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		lines = append(lines, TransactionLine{
			TransactionID:       doc.TransactionID,
			LineNumber:          line.LineNumber,
			UPC:                 line.UPC,
			SKUGUID:             line.SKUGUID,
			Quantity:            line.Quantity,
			UnitPrice:           money.Cents(line.UnitPrice),
			BaseExtendedPrice:   money.Cents(line.BaseExtendedPrice),
			LoyaltyDiscount:     money.Cents(line.LoyaltyDiscount),
			ManufacturerCoupon:  money.Cents(line.ManufacturerCoupon),
			MultiUnitDiscount:   money.Cents(line.MultiUnitDiscount),
			RetailerDiscount:    money.Cents(line.RetailerDiscount),
			OtherManufacturer:   money.Cents(line.OtherManufacturer),
			TransactionDiscount: money.Cents(line.TransactionDiscount),
			TotalDiscount:       money.Cents(line.TotalDiscount),
			FinalUnitPrice:      money.Cents(line.FinalUnitPrice),
			FinalExtendedPrice:  money.Cents(line.FinalExtendedPrice),
		})
	}
	return txn, lines, nil
}

// PurgeDailyCountsBefore deletes count documents with a date before the cutoff.
// ISO date keys compare correctly as strings.
func (s *MongoDBStore) PurgeDailyCountsBefore(ctx context.Context, cutoffDate string) (int64, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	result, err := s.dailyCounts.DeleteMany(ctx, bson.M{"transaction_date": bson.M{"$lt": cutoffDate}})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// PurgeValidationLogBefore deletes audit documents older than the cutoff.
func (s *MongoDBStore) PurgeValidationLogBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()

	result, err := s.validationLog.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": cutoff.UTC()}})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// Ping verifies database connectivity.
func (s *MongoDBStore) Ping(ctx context.Context) error {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
