package catalog

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/RTNSmart/tier3-engine/internal/config"
	"github.com/RTNSmart/tier3-engine/internal/money"
)

// MongoDBRepository implements Repository over synchronizer-owned
// collections. Allowance documents embed their SKU set, so no mapping
// collection is read.
type MongoDBRepository struct {
	client     *mongo.Client
	entries    *mongo.Collection
	allowances *mongo.Collection
}

// NewMongoDBRepository creates a MongoDB-backed catalog repository.
func NewMongoDBRepository(cfg config.CatalogConfig) (*MongoDBRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDBURL))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		// NOTE: client.Disconnect() error is intentionally ignored during initialization cleanup.
		// The primary error is returned to the caller.
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(cfg.MongoDBDatabase)

	upcCollection := cfg.UPCTable
	if upcCollection == "" {
		upcCollection = "upc_master"
	}
	allowanceCollection := cfg.AllowancesTable
	if allowanceCollection == "" {
		allowanceCollection = "loyalty_allowances"
	}

	return &MongoDBRepository{
		client:     client,
		entries:    db.Collection(upcCollection),
		allowances: db.Collection(allowanceCollection),
	}, nil
}

type mongoEntry struct {
	SKUGUID            string        `bson:"_id"`
	SKUName            string        `bson:"sku_name"`
	Brand              string        `bson:"brand"`
	Manufacturer       string        `bson:"manufacturer"`
	Category           string        `bson:"category"`
	ProgramEligibility string        `bson:"program_eligibility"`
	Carton             mongoUPCBlock `bson:"carton"`
	Pack               mongoUPCBlock `bson:"pack"`
}

type mongoUPCBlock struct {
	UPC              string  `bson:"upc"`
	SuppressedUPC    string  `bson:"suppressed_upc,omitempty"`
	ConversionFactor float64 `bson:"conversion_factor"`
	IsPromotional    bool    `bson:"is_promotional"`
}

type mongoAllowance struct {
	AllowanceID                    string     `bson:"_id"`
	AllowanceType                  string     `bson:"allowance_type"`
	SKUGUIDs                       []string   `bson:"skuguids"`
	EligibleUOMs                   []string   `bson:"eligible_uoms"`
	MinQty                         int        `bson:"min_qty"`
	MaxAllowancePerTransaction     int64      `bson:"max_allowance_per_transaction"`
	MaxDailyTransactionsPerLoyalty int        `bson:"max_daily_transactions_per_loyalty"`
	ManufacturerFundedAmount       int64      `bson:"manufacturer_funded_amount"`
	PromoCode                      string     `bson:"promo_code"`
	PromotionalUPCsEligible        bool       `bson:"promotional_upcs_eligible"`
	StartDate                      *time.Time `bson:"start_date"`
	EndDate                        *time.Time `bson:"end_date"`
}

// ListEntries returns every SKU row.
func (r *MongoDBRepository) ListEntries(ctx context.Context) ([]Entry, error) {
	cursor, err := r.entries.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("query catalog entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []Entry
	for cursor.Next(ctx) {
		var doc mongoEntry
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode catalog entry: %w", err)
		}
		entries = append(entries, Entry{
			SKUGUID:            doc.SKUGUID,
			SKUName:            doc.SKUName,
			Brand:              doc.Brand,
			Manufacturer:       doc.Manufacturer,
			Category:           doc.Category,
			ProgramEligibility: doc.ProgramEligibility,
			Carton: UPCBlock{
				UPC:              doc.Carton.UPC,
				SuppressedUPC:    doc.Carton.SuppressedUPC,
				ConversionFactor: doc.Carton.ConversionFactor,
				IsPromotional:    doc.Carton.IsPromotional,
			},
			Pack: UPCBlock{
				UPC:              doc.Pack.UPC,
				ConversionFactor: doc.Pack.ConversionFactor,
				IsPromotional:    doc.Pack.IsPromotional,
			},
		})
	}
	return entries, cursor.Err()
}

// ListAllowances returns every allowance rule.
func (r *MongoDBRepository) ListAllowances(ctx context.Context) ([]AllowanceRule, error) {
	cursor, err := r.allowances.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("query allowances: %w", err)
	}
	defer cursor.Close(ctx)

	var rules []AllowanceRule
	for cursor.Next(ctx) {
		var doc mongoAllowance
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode allowance: %w", err)
		}
		rule := AllowanceRule{
			AllowanceID:                    doc.AllowanceID,
			AllowanceType:                  doc.AllowanceType,
			SKUGUIDs:                       doc.SKUGUIDs,
			MinQty:                         doc.MinQty,
			MaxAllowancePerTransaction:     money.Cents(doc.MaxAllowancePerTransaction),
			MaxDailyTransactionsPerLoyalty: doc.MaxDailyTransactionsPerLoyalty,
			ManufacturerFundedAmount:       money.Cents(doc.ManufacturerFundedAmount),
			PromoCode:                      doc.PromoCode,
			PromotionalUPCsEligible:        doc.PromotionalUPCsEligible,
		}
		for _, uom := range doc.EligibleUOMs {
			rule.EligibleUOMs = append(rule.EligibleUOMs, UnitOfMeasure(uom))
		}
		if doc.StartDate != nil {
			rule.StartDate = *doc.StartDate
		}
		if doc.EndDate != nil {
			rule.EndDate = *doc.EndDate
		}
		rules = append(rules, rule)
	}
	return rules, cursor.Err()
}

// Close disconnects from MongoDB.
func (r *MongoDBRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}
