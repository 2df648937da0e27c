// server.go — StreamHaven staging service: server struct, dependency wiring,
// route registration and response helpers.
package staging

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/adrian-purnama/streamhaven-be/internal/blobstore"
	"github.com/adrian-purnama/streamhaven-be/internal/config"
	"github.com/adrian-purnama/streamhaven-be/internal/logger"
	"github.com/adrian-purnama/streamhaven-be/internal/ratelimit"
	"github.com/adrian-purnama/streamhaven-be/internal/shutdown"
	"github.com/adrian-purnama/streamhaven-be/migrations"
	"github.com/adrian-purnama/streamhaven-be/pkg/telemetry"
	"github.com/adrian-purnama/streamhaven-be/services/staging/internal/vidhost"
)

// serverLedger is the slice of the ledger the HTTP handlers touch.
// *Ledger satisfies it; handler tests substitute an in-memory ledger.
type serverLedger interface {
	streamCreator
	List(ctx context.Context, p ListParams) ([]Item, int, error)
	OpenRead(ctx context.Context, id string) (rc io.ReadCloser, contentType, filename string, err error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) (int, error)
	ResetStaleUploading(ctx context.Context) (int64, error)
}

// publishedStore is the slice of the published repo the handlers touch.
type publishedStore interface {
	List(ctx context.Context, limit, skip int) ([]PublishedRecord, int, error)
	SyncReadiness(ctx context.Context, host SlugChecker, log *slog.Logger) (checked, flipped int, err error)
}

// Server holds all shared dependencies for the staging service.
type Server struct {
	cfg        *config.Config
	db         *sql.DB
	log        *slog.Logger
	assembler  *Assembler
	ledger     serverLedger
	published  publishedStore
	controller *Controller
	host       VideoHost
	runs       *RunTracker
	uploads    *UploadTracker
	limiter    *ratelimit.Limiter
}

// NewServer wires a server from pre-built collaborators. Used directly by
// tests; production wiring goes through Run.
func NewServer(cfg *config.Config, db *sql.DB, blobs BlobStore, host VideoHost, store ratelimit.Store, log *slog.Logger) *Server {
	runs := NewRunTracker()
	uploads := NewUploadTracker()
	ledger := NewLedger(db, blobs, cfg.MaxFileBytes)
	published := NewPublishedRepo(db)
	pipeline := NewPipeline(ledger, published, host, cfg.TempDir, log)

	return &Server{
		cfg:        cfg,
		db:         db,
		log:        log,
		ledger:     ledger,
		published:  published,
		assembler:  NewAssembler(ledger, uploads, cfg.TempDir, log),
		controller: NewController(ledger, pipeline, runs, cfg.RunBatchLimit, log),
		host:       host,
		runs:       runs,
		uploads:    uploads,
		limiter:    ratelimit.New(store),
	}
}

// Run performs full production wiring and serves until a shutdown signal:
// config, logger, Sentry, Postgres + migrations, blob store, optional Redis,
// video host client.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.LogFormat, cfg.LogLevel)

	if err := telemetry.InitSentry(cfg.SentryDSN, "streamhaven-staging", ""); err != nil {
		log.Warn("sentry init failed", "error", err)
	}
	defer telemetry.Flush()

	db, err := connectDB(cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := migrations.Up(ctx, db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	blobs, err := blobstore.New(ctx, blobstore.Options{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	var store ratelimit.Store
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		store = ratelimit.NewRedisStore(redis.NewClient(opt))
	} else {
		log.Warn("REDIS_URL not set, rate limiting disabled")
	}

	host := vidhost.New(cfg.VidHostBaseURL, cfg.VidHostAPIKey, vidhost.FieldMap{
		StorageLeft: cfg.QuotaFields.StorageLeft,
		DailyLeft:   cfg.QuotaFields.DailyLeft,
		UploadSlots: cfg.QuotaFields.UploadSlots,
	})

	s := NewServer(cfg, db, blobs, host, store, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info("staging service starting", "port", cfg.Port)
	return shutdown.GracefulServe(srv, 30*time.Second, log)
}

func connectDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// ─── response helpers ──────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

// clientIP returns the requester's IP, preferring the proxy header.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
