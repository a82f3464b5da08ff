package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/code-payments/flipchat-iap/config"
	"github.com/code-payments/flipchat-iap/dispatch"
	"github.com/code-payments/flipchat-iap/iap"
	"github.com/code-payments/flipchat-iap/iap/google"
	"github.com/code-payments/flipchat-iap/ledger"
	ledger_memory "github.com/code-payments/flipchat-iap/ledger/memory"
	ledger_postgres "github.com/code-payments/flipchat-iap/ledger/postgres"
	ledger_redis "github.com/code-payments/flipchat-iap/ledger/redis"
	"github.com/code-payments/flipchat-iap/model"
	"github.com/code-payments/flipchat-iap/native/memory"
	"github.com/code-payments/flipchat-iap/retry"

	_ "github.com/jackc/pgx/v4/stdlib"
)

var (
	coins   = model.NewProductDefinition("coins", "com.flipchat.coins", model.ProductTypeConsumable)
	premium = model.NewProductDefinition("premium", "com.flipchat.premium", model.ProductTypeNonConsumable)
	monthly = model.NewProductDefinition("monthly", "com.flipchat.sub.monthly", model.ProductTypeSubscription)
	yearly  = model.NewProductDefinition("yearly", "com.flipchat.sub.yearly", model.ProductTypeSubscription)
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger, err := zapCfg.Build()
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Fatal("Session failed", zap.Error(err))
	}
}

func run(ctx context.Context, log *zap.Logger, cfg config.Config) error {
	records, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	loop := dispatch.NewLoop(log, cfg.LoopBuffer)
	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	go func() {
		_ = loop.Run(loopCtx)
	}()

	store := memory.NewStore(log, cfg.Store, map[string]model.ProductMetadata{
		coins.StoreSpecificID:   {Price: decimal.RequireFromString("0.99"), CurrencyCode: "USD", LocalizedTitle: "100 Coins"},
		premium.StoreSpecificID: {Price: decimal.RequireFromString("9.99"), CurrencyCode: "USD", LocalizedTitle: "Premium"},
		monthly.StoreSpecificID: {Price: decimal.RequireFromString("4.99"), CurrencyCode: "EUR", LocalizedTitle: "Monthly"},
		yearly.StoreSpecificID:  {Price: decimal.RequireFromString("49.99"), CurrencyCode: "EUR", LocalizedTitle: "Yearly"},
	})

	svc := iap.NewService(log, store, loop,
		iap.WithLedger(records),
		iap.WithRequestTimeout(cfg.RequestTimeout),
		iap.WithProductTTL(cfg.ProductCacheTTL),
	)
	changer := google.NewSubscriptionChanger(log, store, loop, svc.Faults(), cfg.RequestTimeout)

	services := iap.NewRegistry()
	if err := services.Add(svc); err != nil {
		return err
	}

	loop.Every(loopCtx, cfg.SweepInterval, func() {
		now := time.Now()
		services.Sweep(now)
		changer.Sweep(now)
	})

	s := &session{log: log, loop: loop, svc: svc, changer: changer}
	return s.run(ctx)
}

func openLedger(ctx context.Context, cfg config.Config) (ledger.Store, func(), error) {
	switch cfg.Ledger {
	case config.LedgerPostgres:
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to open postgres")
		}
		if err := ledger_postgres.CreateSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, errors.Wrap(err, "failed to create ledger schema")
		}
		return ledger_postgres.NewInPostgres(db), func() { db.Close() }, nil

	case config.LedgerRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, errors.Wrap(err, "failed to reach redis")
		}
		return ledger_redis.NewInRedis(client), func() { client.Close() }, nil

	default:
		return ledger_memory.NewInMemory(), func() {}, nil
	}
}

// session walks through fetch, purchase, confirmation, entitlement, and a
// subscription upgrade against the simulated store.
type session struct {
	log     *zap.Logger
	loop    *dispatch.Loop
	svc     *iap.Service
	changer *google.SubscriptionChanger
}

func (s *session) run(ctx context.Context) error {
	products, err := s.fetch(ctx)
	if err != nil {
		return err
	}

	for _, id := range []string{premium.StoreSpecificID, monthly.StoreSpecificID} {
		order, err := s.purchase(ctx, products[id])
		if err != nil {
			return err
		}
		if err := s.confirm(ctx, order); err != nil {
			return err
		}
		if err := s.checkEntitlement(ctx, products[id]); err != nil {
			return err
		}
	}

	upgraded, err := s.upgrade(ctx, products[monthly.StoreSpecificID], products[yearly.StoreSpecificID])
	if err != nil {
		return err
	}
	if err := s.confirm(ctx, upgraded); err != nil {
		return err
	}
	for _, id := range []string{monthly.StoreSpecificID, yearly.StoreSpecificID} {
		if err := s.checkEntitlement(ctx, products[id]); err != nil {
			return err
		}
	}

	s.log.Info("Session complete")
	return nil
}

func (s *session) fetch(ctx context.Context) (map[string]*model.Product, error) {
	backOff, err := retry.NewExponentialBackOff(100, 1000, 2)
	if err != nil {
		return nil, err
	}
	attempts, err := retry.NewMaximumNumberOfAttempts(3)
	if err != nil {
		return nil, err
	}
	policy := retry.Aggregate(attempts, backOff)

	retrieved := make(chan []*model.Product, 1)
	failed := make(chan *iap.FetchFailure, 1)

	var fetchErr error
	err = s.loop.Do(ctx, func() {
		fetchErr = s.svc.FetchProducts(ctx,
			[]*model.ProductDefinition{coins, premium, monthly, yearly},
			func(products []*model.Product) { retrieved <- products },
			func(f *iap.FetchFailure) { failed <- f },
			policy,
		)
	})
	if err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fetchErr
	}

	select {
	case products := <-retrieved:
		byID := make(map[string]*model.Product, len(products))
		for _, p := range products {
			byID[p.StoreSpecificID()] = p
			s.log.Info("Product available",
				zap.String("product_id", p.StoreSpecificID()),
				zap.String("title", p.Metadata.LocalizedTitle),
				zap.String("price", p.Metadata.PriceString(language.English)),
			)
		}
		select {
		case f := <-failed:
			return nil, errors.Errorf("missing products: %s", f.Message)
		default:
		}
		return byID, nil
	case f := <-failed:
		return nil, errors.Errorf("fetch failed: %s", f.Message)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *session) purchase(ctx context.Context, product *model.Product) (*model.PendingOrder, error) {
	pending := make(chan *model.PendingOrder, 1)
	failed := make(chan *model.FailedOrder, 1)
	deferred := make(chan *model.DeferredOrder, 1)

	const key = "session"
	var purchaseErr error
	err := s.loop.Do(ctx, func() {
		s.svc.PurchasePending().SubscribeFunc(key, func(o *model.PendingOrder) { pending <- o })
		s.svc.PurchaseFailed().SubscribeFunc(key, func(o *model.FailedOrder) { failed <- o })
		s.svc.PurchaseDeferred().SubscribeFunc(key, func(o *model.DeferredOrder) { deferred <- o })

		purchaseErr = s.svc.Purchase(model.NewSingleItemCart(product, 1))
	})
	if err != nil {
		return nil, err
	}
	defer s.loop.Post(func() {
		s.svc.PurchasePending().Unsubscribe(key)
		s.svc.PurchaseFailed().Unsubscribe(key)
		s.svc.PurchaseDeferred().Unsubscribe(key)
	})
	if purchaseErr != nil {
		return nil, purchaseErr
	}

	select {
	case order := <-pending:
		s.log.Info("Purchase pending", zap.String("product_id", product.StoreSpecificID()), zap.String("transaction_id", order.Info.TransactionID))
		return order, nil
	case order := <-failed:
		return nil, errors.Errorf("purchase failed: %s", order.Reason)
	case <-deferred:
		return nil, errors.New("purchase deferred")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *session) confirm(ctx context.Context, order *model.PendingOrder) error {
	confirmed := make(chan *model.ConfirmedOrder, 1)
	failed := make(chan *model.FailedOrder, 1)

	var confirmErr error
	err := s.loop.Do(ctx, func() {
		confirmErr = s.svc.ConfirmOrder(order,
			func(o *model.ConfirmedOrder) { confirmed <- o },
			func(o *model.FailedOrder) { failed <- o },
		)
	})
	if err != nil {
		return err
	}
	if confirmErr != nil {
		return confirmErr
	}

	select {
	case o := <-confirmed:
		s.log.Info("Order confirmed", zap.String("transaction_id", o.Info.TransactionID))
		return nil
	case o := <-failed:
		return errors.Errorf("confirmation failed: %s", o.Reason)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) checkEntitlement(ctx context.Context, product *model.Product) error {
	result := make(chan *model.Entitlement, 1)
	err := s.loop.Do(ctx, func() {
		s.svc.IsProductEntitled(product, func(e *model.Entitlement) { result <- e })
	})
	if err != nil {
		return err
	}

	select {
	case e := <-result:
		s.log.Info("Entitlement", zap.String("product_id", product.StoreSpecificID()), zap.Stringer("status", e.Status))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) upgrade(ctx context.Context, current, next *model.Product) (*model.PendingOrder, error) {
	succeeded := make(chan *model.PendingOrder, 1)
	failed := make(chan *model.FailedOrder, 1)

	const key = "session"
	var rejected *model.FailedOrder
	err := s.loop.Do(ctx, func() {
		s.changer.Succeeded().SubscribeFunc(key, func(o *model.PendingOrder) { succeeded <- o })
		s.changer.Failed().SubscribeFunc(key, func(o *model.FailedOrder) { failed <- o })

		currentOrder := &model.ConfirmedOrder{Cart: model.NewSingleItemCart(current, 1), Info: &model.OrderInfo{}}
		rejected = s.changer.ChangeSubscription(currentOrder, next, google.ReplacementModeChargeProratedPrice)
	})
	if err != nil {
		return nil, err
	}
	defer s.loop.Post(func() {
		s.changer.Succeeded().Unsubscribe(key)
		s.changer.Failed().Unsubscribe(key)
	})
	if rejected != nil {
		return nil, errors.Errorf("subscription change rejected: %s", rejected.Message)
	}

	select {
	case order := <-succeeded:
		s.log.Info("Subscription changed", zap.String("transaction_id", order.Info.TransactionID))
		return order, nil
	case order := <-failed:
		return nil, errors.Errorf("subscription change failed: %s", order.Reason)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
