// Command seed-db loads a demo store: products with stock, one offer of every
// type, a merchant API key and a provider subscription.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-fulfillment/internal/domain/auth"
	"github.com/xenking/storefront-fulfillment/internal/domain/offer"
	"github.com/xenking/storefront-fulfillment/internal/domain/product"
	"github.com/xenking/storefront-fulfillment/internal/domain/subscription"
	"github.com/xenking/storefront-fulfillment/internal/storage/postgres"
)

const (
	demoStore  = "store-demo"
	seedBatch  = "seed"
	offersFrom = `{"from":"2026-01-01T00:00:00Z"}`
)

var products = []product.Product{
	{ID: "p-tee", Name: "Logo Tee", Price: decimal.RequireFromString("24.00"), Stock: 200,
		CollectionIDs: []string{"apparel"}, Tags: []string{"summer"}},
	{ID: "p-hoodie", Name: "Zip Hoodie", Price: decimal.RequireFromString("59.90"), Stock: 80,
		CollectionIDs: []string{"apparel"}, Tags: []string{"winter"}},
	{ID: "p-mug", Name: "Enamel Mug", Price: decimal.RequireFromString("12.50"), Stock: 150,
		CollectionIDs: []string{"kitchen"}},
	{ID: "p-socks", Name: "Crew Socks", Price: decimal.RequireFromString("8.00"), Stock: 300,
		CollectionIDs: []string{"apparel"}, Tags: []string{"bundle"}},
	{ID: "p-poster", Name: "Limited Poster", Price: decimal.RequireFromString("35.00"), Stock: 5},
}

var offers = []offer.Record{
	{
		ID: "offer-summer-10", Name: "Summer 10% off apparel", Type: string(offer.TypePercentageOff),
		Discount:     []byte(`{"percentage":10}`),
		ApplicableTo: []byte(`{"collectionIds":["apparel"]}`),
		Conditions:   []byte(`{"code":"SUMMER10"}`),
	},
	{
		ID: "offer-mug-2", Name: "2 off every mug", Type: string(offer.TypeFixedAmountOff),
		Discount:     []byte(`{"amount":"2.00"}`),
		ApplicableTo: []byte(`{"productIds":["p-mug"]}`),
	},
	{
		ID: "offer-socks-3for2", Name: "Socks: buy 2 get 1 free", Type: string(offer.TypeBuyNGetKFree),
		Discount:     []byte(`{"buyN":2,"getK":1}`),
		ApplicableTo: []byte(`{"tags":["bundle"]}`),
	},
	{
		ID: "offer-ship-50", Name: "Free shipping over 50", Type: string(offer.TypeFreeShipping),
		ApplicableTo: []byte(`{"storeWide":true}`),
		Conditions:   []byte(`{"minimumPurchaseAmount":50}`),
	},
}

func main() {
	var (
		databaseURL    string
		apiKey         string
		apiKeyPepper   string
		subscriptionID string
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or STOREFRONT_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STOREFRONT_API_KEY_PEPPER env)")
	flag.StringVar(&subscriptionID, "subscription-id", "sub_demo", "provider subscription id to seed")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}
	if apiKey == "" {
		apiKey = os.Getenv("STOREFRONT_SEED_API_KEY")
	}
	if apiKey == "" {
		lg.Fatal("API key is required: set --api-key or STOREFRONT_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("STOREFRONT_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, apiKey, apiKeyPepper, subscriptionID); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		os.Exit(1)
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, apiKey, pepper, subscriptionID string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	productRepo := postgres.NewProductRepository(pool)
	for _, p := range products {
		p.StoreID = demoStore
		if err := productRepo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		lg.Info("Upserted product", zap.String("id", p.ID), zap.Int("stock", p.Stock))
	}

	records := make([]offer.Record, 0, len(offers))
	for _, rec := range offers {
		rec.StoreID = demoStore
		rec.Validity = []byte(offersFrom)
		rec.Active = true
		if _, err := offer.Decode(rec); err != nil {
			return errors.Wrap(err, "seed offer")
		}
		records = append(records, rec)
	}
	if err := postgres.NewOfferRepository(pool).UpsertBatch(ctx, records, seedBatch); err != nil {
		return errors.Wrap(err, "upsert offers")
	}
	lg.Info("Upserted offers", zap.Int("count", len(records)))

	if err := postgres.NewAPIKeyRepository(pool).Upsert(ctx, auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey(apiKey, []byte(pepper)),
		Name:    "Demo merchant key",
		Scopes:  []string{"pricing", "orders"},
	}); err != nil {
		return errors.Wrap(err, "upsert api key")
	}
	lg.Info("Upserted API key", zap.String("id", "default"))

	if err := postgres.NewSubscriptionRepository(pool).Create(ctx, subscription.Subscription{
		ID:              "subscription-demo",
		ProviderID:      subscriptionID,
		StoreID:         demoStore,
		Status:          subscription.StatusCreated,
		StatusUpdatedAt: time.Now().UTC(),
	}); err != nil {
		return errors.Wrap(err, "create subscription")
	}
	lg.Info("Created subscription", zap.String("provider_id", subscriptionID))
	return nil
}
