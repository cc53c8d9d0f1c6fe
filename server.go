package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/studentbank_backend/appctx"
	"bitbucket.org/mmdatafocus/studentbank_backend/config"
	"bitbucket.org/mmdatafocus/studentbank_backend/models"
	"bitbucket.org/mmdatafocus/studentbank_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// jobServer exposes the scheduled ledger jobs. The ledger is set once the database is ready;
// until then job endpoints answer 503.
type jobServer struct {
	ledger atomic.Pointer[workflow.Ledger]
	logger *logrus.Logger
}

type dividendJobRequest struct {
	ShareTypeId int   `json:"share_type_id" binding:"required,gt=0"`
	InstanceIds []int `json:"instance_ids" binding:"required,min=1,dive,gt=0"`
}

// limitResetJobRequest: a zero ShareTypeId resets every share type whose period has elapsed.
type limitResetJobRequest struct {
	ShareTypeId int `json:"share_type_id" binding:"gte=0"`
}

func newRouter(s *jobServer, settings config.ServiceSettings) *gin.Engine {
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(appctx.SetCorrelationId(c.Request.Context(), cid))
		c.Header("x-correlation-id", cid)
		c.Next()
	})

	corsConfig := cors.DefaultConfig()
	if origins := splitAndTrim(settings.CorsAllowedOrigins); len(origins) > 0 {
		corsConfig.AllowOrigins = origins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "x-correlation-id")
	r.Use(cors.New(corsConfig))
	// after CORS so 503s still carry the CORS headers
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if s.ledger.Load() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.Use(customErrorLogger(s.logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.POST("/jobs/dividends", s.dividendsHandler())
	r.POST("/jobs/withdrawal-limits/reset", s.limitResetHandler())
	r.NoRoute(customNotFoundHandler)
	return r
}

func (s *jobServer) dividendsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dividendJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		run, err := s.ledger.Load().PostDividends(c.Request.Context(), req.ShareTypeId, req.InstanceIds)
		if err != nil {
			_ = c.Error(err)
			c.JSON(statusForLedgerError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"share_type_id":   run.ShareTypeId,
			"rate":            run.Rate,
			"chunks":          run.Chunks,
			"shares_credited": run.SharesCredited,
			"total":           run.Total,
			"transactions":    run.Transactions,
		})
	}
}

func (s *jobServer) limitResetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req limitResetJobRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		ledger := s.ledger.Load()
		var runs []*workflow.LimitResetRun
		if req.ShareTypeId == 0 {
			var err error
			if runs, err = ledger.ResetDueWithdrawalLimits(c.Request.Context()); err != nil {
				_ = c.Error(err)
				c.JSON(statusForLedgerError(err), gin.H{"error": err.Error()})
				return
			}
		} else {
			run, err := ledger.ResetWithdrawalLimit(c.Request.Context(), req.ShareTypeId)
			if err != nil {
				_ = c.Error(err)
				c.JSON(statusForLedgerError(err), gin.H{"error": err.Error()})
				return
			}
			if run != nil {
				runs = append(runs, run)
			}
		}

		out := make([]gin.H, 0, len(runs))
		for _, run := range runs {
			out = append(out, gin.H{
				"share_type_id": run.ShareTypeId,
				"chunks":        run.Chunks,
				"shares_reset":  run.SharesReset,
				"reset_at":      run.ResetAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"runs": out})
	}
}

func statusForLedgerError(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrArgumentOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			cid, _ := appctx.GetCorrelationId(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"path":           c.Request.URL.Path,
				"correlation_id": cid,
			}).Error(c.Errors.String())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	settings, err := config.LoadSettings("settings")
	if err != nil {
		log.Fatalf("load settings: %v", err)
	}
	logger := config.NewLogger(settings.Service.LogLevel)

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server before dependencies so health probes pass; job endpoints answer 503 until ready.
	s := &jobServer{logger: logger}
	srv := &http.Server{
		Addr:    ":" + settings.Service.Port,
		Handler: newRouter(s, settings.Service),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	db, err := config.ConnectDatabaseWithRetry(sigCtx, settings.Database)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "database"}).Fatal(err.Error())
	}
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if settings.Database.SkipMigrations {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	} else if err := models.MigrateTable(db); err != nil {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
	}

	opts := workflow.Options{AtomicWorkflows: settings.Ledger.AtomicWorkflows}
	if settings.Redis.Address != "" {
		rdb, lockClient, err := config.ConnectRedis(sigCtx, settings.Redis)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "redis"}).Warn("redis unavailable; share locking relies on row locks: " + err.Error())
		} else {
			defer rdb.Close()
			ttl := time.Duration(settings.Ledger.ShareLockTTLSeconds) * time.Second
			opts.Locker = workflow.NewRedisShareLocker(lockClient, ttl, logger)
		}
	}
	s.ledger.Store(workflow.NewLedger(db, logger, opts))

	// Outbox dispatcher publishes ledger events after commit.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	if settings.PubSub.Topic != "" {
		publisher, err := config.NewPubSubPublisher(sigCtx, settings.PubSub)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "pubsub"}).Error("ledger events stay in the outbox: " + err.Error())
		} else {
			defer publisher.Close()
			go workflow.NewOutboxDispatcher(db, logger, publisher).Run(dispatcherCtx)
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Warn("PUBSUB_TOPIC not set; ledger events stay in the outbox")
	}

	logger.WithFields(logrus.Fields{"port": settings.Service.Port}).Info("ledger job server ready")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}
