package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bounty-board/config"
	"bounty-board/handlers"
	"bounty-board/ledger"
	"bounty-board/middleware"
	"bounty-board/notify"
	"bounty-board/repository"
	"bounty-board/services"
	"bounty-board/utils"
	"bounty-board/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}
	if len(cfg.Networks) == 0 {
		log.Fatal("no ledger network configured (set LEDGER_NETWORKS and LEDGER_RPC_URL_<NET>)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}
	store := repository.NewGormStore(db)
	if err := store.Migrate(); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	var documents services.DocumentVerifier
	if cfg.R2.Bucket != "" {
		bucket, err := utils.NewDocumentBucket(ctx, cfg.R2)
		if err != nil {
			log.Fatal("failed to initialize R2 client:", err)
		}
		documents = bucket
	} else {
		log.Println("⚠️  R2_BUCKET_NAME not set, signed documents will be rejected")
	}

	chain := ledger.NewChainClient(cfg.Networks, cfg.IndexerToken, cfg.LedgerTimeout)
	lifecycle := services.NewLifecycle(store, cfg.Settings)
	claims := services.NewClaimRegistry(store, lifecycle, documents, cfg.Settings)
	reconciler := services.NewReconciler(store, chain, lifecycle, cfg.Settings)

	// --- Notifiers ---
	sinks := notify.Fanout{notify.Log{}}
	if cfg.RedisURL != "" {
		rdb := notify.MustRedis(cfg.RedisURL)
		defer rdb.Close()
		sinks = append(sinks, notify.NewRedisStream(rdb, cfg.ActivityStream))
	}
	if cfg.DiscordToken != "" && cfg.DiscordChannelID != "" {
		session, err := notify.NewDiscordSession(cfg.DiscordToken)
		if err != nil {
			log.Fatal("failed to create discord session:", err)
		}
		sinks = append(sinks, notify.NewDiscord(session, cfg.DiscordChannelID, cfg.BaseURL))
	}

	// --- Background work ---
	if _, err := lifecycle.StartExpirySweep(ctx, cfg.ExpirySweepInterval); err != nil {
		log.Fatal("failed to start expiry sweep:", err)
	}
	workers.NewOutboxWorker(store, sinks, cfg.OutboxInterval).Start(ctx)
	workers.NewPendingSyncWorker(store, reconciler, cfg.PendingSyncInterval).Start(ctx)
	if cfg.ProfileSyncURL != "" {
		workers.NewProfileSyncWorker(store, cfg.ProfileSyncURL, cfg.ProfileSyncPath, cfg.ServiceToken, cfg.ProfileSyncInterval).Start(ctx)
	} else {
		log.Println("⚠️  PROFILE_SYNC_URL not set, claim ceilings use the default")
	}

	// --- HTTP ---
	app := fiber.New()

	// 🔐❗ GLOBAL: Only Gateway requests allowed, no exceptions
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken))

	origins := strings.Split(cfg.AllowedOrigins, ",")
	for i, o := range origins {
		origins[i] = strings.TrimSpace(o)
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(origins, ","),
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Handle, X-User-Roles",
		MaxAge:       86400,
	}))

	handlers.SetupBountyRoutes(app, handlers.NewBountyHandler(claims, lifecycle, reconciler))

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", cfg.Port)
	log.Printf("✅ Ledger networks: %v (default %s)", chain.Networks(), cfg.DefaultNetwork)
	log.Println("✅ Outbox, pending sync and expiry sweep running")

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
}
