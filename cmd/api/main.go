package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"golang.org/x/crypto/bcrypt"

	"github.com/tfchat/server/internal/auth"
	"github.com/tfchat/server/internal/config"
	"github.com/tfchat/server/internal/db"
	"github.com/tfchat/server/internal/geo"
	httphandler "github.com/tfchat/server/internal/http"
	"github.com/tfchat/server/internal/http/handlers"
	"github.com/tfchat/server/internal/limiter"
	"github.com/tfchat/server/internal/repo"
	"github.com/tfchat/server/internal/room"
	"github.com/tfchat/server/internal/sms"
	"github.com/tfchat/server/internal/verify"
	"github.com/tfchat/server/internal/ws"
)

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if err := runMigrations(database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	userRepo := repo.NewUserRepo(database)
	challengeRepo := repo.NewChallengeRepo(database)
	lockoutRepo := repo.NewLockoutRepo(database)
	roomRepo := repo.NewRoomRepo(database)
	messageRepo := repo.NewMessageRepo(database)
	sessionRepo := repo.NewSessionRepo(database)
	adminRepo := repo.NewAdminRepo(database)

	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.SessionTokenTTL, cfg.AdminTokenTTL)
	sender := newSender(cfg)
	lookup := geo.NewIPAPIClient(cfg.GeoEndpoint)

	verifier := verify.NewVerifier(challengeRepo, lockoutRepo, userRepo, roomRepo, jwtService, sender, cfg.OTPSalt, verify.Options{
		CodeTTL:          cfg.OTPTTL,
		RequestLimit:     cfg.OTPRequestLimit,
		RequestWindow:    cfg.OTPRequestWindow,
		LockoutThreshold: cfg.LockoutThreshold,
		LockoutDuration:  cfg.LockoutDuration,
	})

	registry := room.NewRegistry(roomRepo)
	coordinator := room.NewCoordinator(registry, sessionRepo, messageRepo, lookup)
	relay := room.NewRelay(coordinator, messageRepo)

	if err := seedAdmin(ctx, adminRepo); err != nil {
		log.Fatalf("Failed to seed admin account: %v", err)
	}

	var authLimiter limiter.Limiter
	if cfg.RedisAddr != "" {
		client, err := limiter.Open(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer client.Close()
		authLimiter = limiter.NewRedis(client, 10*time.Minute, 20, "authlimit")
		log.Printf("Using redis request limiter at %s", cfg.RedisAddr)
	}

	router := httphandler.NewRouter(httphandler.RouterDeps{
		Auth:        handlers.NewAuthHandler(verifier),
		Rooms:       handlers.NewRoomHandler(registry),
		Admin:       handlers.NewAdminHandler(adminRepo, sessionRepo, registry, coordinator, jwtService, sender),
		WS:          ws.NewHandler(jwtService, coordinator, relay),
		JWTService:  jwtService,
		AuthLimiter: authLimiter,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// newSender picks the SMS provider from config; the logging mock is the
// default outside production.
func newSender(cfg *config.Config) sms.Sender {
	if cfg.SMSProvider == "twilio" {
		if cfg.TwilioSID == "" || cfg.TwilioToken == "" || cfg.TwilioFrom == "" {
			log.Println("Twilio selected but credentials incomplete; falling back to log sender")
			return sms.LogSender{}
		}
		return sms.NewTwilioSender(cfg.TwilioSID, cfg.TwilioToken, cfg.TwilioFrom)
	}
	return sms.LogSender{}
}

// seedAdmin creates the bootstrap administrator when ADMIN_USERNAME and
// ADMIN_PASSWORD are set and the account does not exist yet.
func seedAdmin(ctx context.Context, admins repo.AdminRepo) error {
	username := os.Getenv("ADMIN_USERNAME")
	password := os.Getenv("ADMIN_PASSWORD")
	if username == "" || password == "" {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if err := admins.EnsureSeed(ctx, username, hash); err != nil {
		return err
	}
	log.Printf("Admin account %q ensured", username)
	return nil
}

// runMigrations runs database migrations using goose.
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the module root)")
	}

	absDir, _ := filepath.Abs(migrationDir)
	log.Printf("Running migrations from %s", absDir)

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
