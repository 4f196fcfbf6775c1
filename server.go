package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/katsync_backend/appctx"
	"bitbucket.org/mmdatafocus/katsync_backend/batchjob"
	"bitbucket.org/mmdatafocus/katsync_backend/cleanup"
	"bitbucket.org/mmdatafocus/katsync_backend/config"
	"bitbucket.org/mmdatafocus/katsync_backend/dedup"
	"bitbucket.org/mmdatafocus/katsync_backend/katana"
	"bitbucket.org/mmdatafocus/katsync_backend/koza"
	"bitbucket.org/mmdatafocus/katsync_backend/models"
	"bitbucket.org/mmdatafocus/katsync_backend/syncer"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// remoteProxy defers accounting client construction until the first remote
// call, so startup does not require KOZA_API_KEY to be present before the
// port is open.
type remoteProxy struct {
	mu     sync.Mutex
	client *koza.Client
}

func (r *remoteProxy) get() (*koza.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	c, err := koza.NewClient()
	if err != nil {
		return nil, err
	}
	r.client = c
	return c, nil
}

func (r *remoteProxy) ListStockCards(ctx context.Context) ([]koza.StockCard, error) {
	c, err := r.get()
	if err != nil {
		return nil, err
	}
	return c.ListStockCards(ctx)
}

func (r *remoteProxy) GetStockCard(ctx context.Context, code string) (*koza.StockCard, error) {
	c, err := r.get()
	if err != nil {
		return nil, err
	}
	return c.GetStockCard(ctx, code)
}

func (r *remoteProxy) UpdateStockCard(ctx context.Context, card koza.StockCard) error {
	c, err := r.get()
	if err != nil {
		return err
	}
	return c.UpdateStockCard(ctx, card)
}

func (r *remoteProxy) DeleteStockCard(ctx context.Context, id int64) error {
	c, err := r.get()
	if err != nil {
		return err
	}
	return c.DeleteStockCard(ctx, id)
}

func (r *remoteProxy) CreateStockCard(ctx context.Context, card koza.StockCard) (*koza.StockCard, error) {
	c, err := r.get()
	if err != nil {
		return nil, err
	}
	return c.CreateStockCard(ctx, card)
}

func (r *remoteProxy) CreateCari(ctx context.Context, rec koza.CariRecord) (*koza.CariRecord, error) {
	c, err := r.get()
	if err != nil {
		return nil, err
	}
	return c.CreateCari(ctx, rec)
}

func (r *remoteProxy) CreateDepot(ctx context.Context, depot koza.Depot) (*koza.Depot, error) {
	c, err := r.get()
	if err != nil {
		return nil, err
	}
	return c.CreateDepot(ctx, depot)
}

func (r *remoteProxy) CreateInvoice(ctx context.Context, inv koza.Invoice) (*koza.Invoice, error) {
	c, err := r.get()
	if err != nil {
		return nil, err
	}
	return c.CreateInvoice(ctx, inv)
}

// sourceProxy defers manufacturing client construction the same way, so
// startup does not require KATANA_API_KEY either.
type sourceProxy struct {
	mu     sync.Mutex
	client *katana.Client
}

func (s *sourceProxy) get() (*katana.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	c, err := katana.NewClient()
	if err != nil {
		return nil, err
	}
	s.client = c
	return c, nil
}

func (s *sourceProxy) ListProducts(ctx context.Context) ([]katana.Product, error) {
	c, err := s.get()
	if err != nil {
		return nil, err
	}
	return c.ListProducts(ctx)
}

func (s *sourceProxy) ListCustomers(ctx context.Context) ([]katana.Customer, error) {
	c, err := s.get()
	if err != nil {
		return nil, err
	}
	return c.ListCustomers(ctx)
}

func (s *sourceProxy) ListSalesOrders(ctx context.Context) ([]katana.SalesOrder, error) {
	c, err := s.get()
	if err != nil {
		return nil, err
	}
	return c.ListSalesOrders(ctx)
}

func (s *sourceProxy) ListLocations(ctx context.Context) ([]katana.Location, error) {
	c, err := s.get()
	if err != nil {
		return nil, err
	}
	return c.ListLocations(ctx)
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	remote := &remoteProxy{}
	source := &sourceProxy{}
	registry := batchjob.NewRegistry()
	orchestrator := batchjob.NewOrchestrator(registry, logger)
	orchestrator.OnComplete = syncer.JobCompletionHook()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until the DB is ready, app endpoints return 503.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(appctx.Set(c.Request.Context(), appctx.ContextKeyCorrelationId, cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.POST("/sync/pull", syncer.PullHandler(source))
		api.POST("/sync/jobs", syncer.SubmitJobHandler(orchestrator, remote))
		api.GET("/sync/jobs", syncer.ListJobsHandler(orchestrator))
		api.GET("/sync/jobs/:id", syncer.GetJobHandler(orchestrator))
		api.POST("/sync/jobs/:id/cancel", syncer.CancelJobHandler(orchestrator))
		api.POST("/sync/mappings/:entityType/:localId/clear-error", syncer.ClearErrorHandler())

		api.POST("/dedup/analyze", dedup.AnalyzeHandler(remote))
		api.POST("/dedup/preview", dedup.PreviewHandler(remote))
		api.POST("/dedup/execute", dedup.ExecuteHandler(remote))
		api.POST("/dedup/export", dedup.ExportHandler(remote))

		api.GET("/sku/validate", cleanup.ValidateSKUHandler())
		api.POST("/sku/validate", cleanup.ValidateSKUHandler())
		api.POST("/sku/rename/preview", cleanup.RenamePreviewHandler())
		api.POST("/sku/rename", cleanup.RenameHandler())

		api.GET("/orders/duplicates", cleanup.DuplicateOrdersHandler())
		api.POST("/orders/cleanup", cleanup.CleanupOrdersHandler())
	}

	// Push subscription endpoint for scheduled sync triggers.
	r.POST("/pubsub", syncer.PubSubPushHandler(orchestrator, remote, source))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	// Evict finished jobs past the retention window.
	retention := 24 * time.Hour
	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	defer cancelCleanup()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				if removed := registry.CleanupOlderThan(retention); removed > 0 {
					logger.WithFields(logrus.Fields{
						"module":  "batchjob",
						"removed": removed,
					}).Info("evicted finished jobs")
				}
			}
		}
	}()

	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	cancelCleanup()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
