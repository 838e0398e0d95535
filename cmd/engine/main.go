package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rawblock/trace-engine/internal/api"
	"github.com/rawblock/trace-engine/internal/db"
	"github.com/rawblock/trace-engine/internal/engine"
	"github.com/rawblock/trace-engine/internal/scheduler"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()

	log.Info().Msg("starting RawBlock Wallet Trace Engine (Microservice: wallet-trace-forensics)")

	// ─── Persistence ────────────────────────────────────────────────────
	// DATABASE_URL is optional: without it traces live in memory only,
	// which is fine for development and single-node evaluation.
	var store scheduler.TraceStore = db.NewMemoryStore()
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pgStore, err := db.Connect(dbURL)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to PostgreSQL, continuing with in-memory trace store")
		} else {
			defer pgStore.Close()
			if err := pgStore.InitSchema(); err != nil {
				log.Warn().Err(err).Msg("trace schema init failed")
			}
			store = pgStore
		}
	}

	// ─── Engine & Scheduler ─────────────────────────────────────────────
	traceEngine := engine.NewDefault()

	wsHub := api.NewHub()
	go wsHub.Run()
	notifier := api.NewHubNotifier(wsHub)

	cfg := scheduler.DefaultConfig()
	cfg.BatchWeekday = parseWeekday(getEnvOrDefault("BATCH_WEEKDAY", "Wednesday"), cfg.BatchWeekday)
	cfg.BatchHour = parseIntOrDefault("BATCH_HOUR", cfg.BatchHour)
	cfg.BatchMinute = parseIntOrDefault("BATCH_MINUTE", cfg.BatchMinute)

	sched := scheduler.New(store, traceEngine, notifier, cfg, nil)
	sched.Start()
	defer sched.Stop()

	// ─── HTTP API ───────────────────────────────────────────────────────
	r := api.SetupRouter(sched, traceEngine.Profiles(), wsHub, notifier)

	port := getEnvOrDefault("PORT", "5340")
	log.Info().Str("port", port).Msg("engine running (API Node: wallet-trace-forensics)")
	if err := r.Run(":" + port); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
}

// getEnvOrDefault returns the env var value or a safe default for
// non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseIntOrDefault(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Warn().Str("key", key).Str("value", val).Msg("invalid integer setting, using default")
		return fallback
	}
	return n
}

func parseWeekday(name string, fallback time.Weekday) time.Weekday {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), name) {
			return d
		}
	}
	log.Warn().Str("value", name).Msg("invalid BATCH_WEEKDAY, using default")
	return fallback
}
