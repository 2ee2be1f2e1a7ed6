package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/minerush/economy/internal/auth"
	"github.com/minerush/economy/internal/catalog"
	"github.com/minerush/economy/internal/config"
	"github.com/minerush/economy/internal/cooldown"
	"github.com/minerush/economy/internal/identity"
	"github.com/minerush/economy/internal/market"
	"github.com/minerush/economy/internal/middleware"
	"github.com/minerush/economy/internal/notification"
	"github.com/minerush/economy/internal/rewards"
	"github.com/minerush/economy/internal/store"
	"github.com/minerush/economy/internal/trade"
	"github.com/minerush/economy/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Services exposes the wired services that run outside of request handling.
type Services struct {
	Market *market.Service
	Trade  *trade.Service
}

// Setup configures middlewares and all application routes. Without a
// database the economy runs on in-memory state, and without Redis cooldowns
// are process-local and response replay is off; both are dev-only setups.
func Setup(app *fiber.App, d Deps) (Services, error) {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return Services{}, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return Services{}, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	cat, err := catalog.Load(d.Cfg.CatalogPath)
	if err != nil {
		return Services{}, err
	}

	var (
		runner    store.Runner
		users     identity.Repository
		cooldowns cooldown.Store
	)
	if d.DB != nil {
		runner = store.NewPostgresRunner(d.DB, d.Logger)
		users = identity.NewPostgresRepository(d.DB)
	} else {
		runner = store.NewMemoryRunner()
		users = identity.NewMemoryRepository()
	}
	if d.Cache != nil {
		cooldowns = cooldown.NewRedisStore(d.Cache)
	} else {
		cooldowns = cooldown.NewMemoryStore()
	}

	eco := d.Cfg.Economy
	notifier := notification.NewLoggerNotifier(d.Logger)
	marketSvc := market.NewService(runner, cat, notifier, d.Logger, market.Config{
		FeePercent:    eco.MarketFeePercent,
		MinPrice:      eco.MarketMinPrice,
		MaxOpenOrders: eco.MarketMaxOpenOrders,
		MaxItems:      eco.MarketMaxItems,
	})
	tradeSvc := trade.NewService(runner, cat, notifier, d.Logger, trade.Config{
		MaxOpenOffers: eco.TradeMaxOpenOffers,
		MaxItems:      eco.TradeMaxItems,
	})
	walletSvc := wallet.NewService(runner, d.Logger)
	rewardSvc := rewards.NewService(runner, cat, cooldowns, nil, eco.DigCooldown, d.Logger)

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Metrics())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	verifier := auth.NewVerifier(d.Cfg.JWTSecret, d.Cfg.JWTIssuer)
	protected := api.Group("", middleware.Authenticate(verifier, identity.NewService(users, true)))
	protected.Use(middleware.RateLimit(d.Cache, "api", d.Cfg.RateLimit))
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	wallet.NewHandler(walletSvc).Register(protected)
	market.NewHandler(marketSvc).Register(protected)
	trade.NewHandler(tradeSvc).Register(protected)
	rewards.NewHandler(rewardSvc).Register(protected)

	return Services{Market: marketSvc, Trade: tradeSvc}, nil
}
