package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/winstay/settlement/internal/booking"
	"github.com/winstay/settlement/internal/chain"
	"github.com/winstay/settlement/internal/config"
	"github.com/winstay/settlement/internal/group"
	"github.com/winstay/settlement/internal/mail"
	"github.com/winstay/settlement/internal/models"
	"github.com/winstay/settlement/internal/queue"
	"github.com/winstay/settlement/internal/rates"
	"github.com/winstay/settlement/internal/repository"
	"github.com/winstay/settlement/internal/reward"
	"github.com/winstay/settlement/internal/ticket"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Postgres ──────────────────────────────────────────────────────────────
	pool, err := repository.NewPool(ctx, cfg.Postgres.DSN, log)
	if err != nil {
		log.Fatal("postgres init failed", zap.Error(err))
	}
	defer pool.Close()
	offers := repository.NewOfferRepo(pool)
	deals := repository.NewDealRepo(pool)
	groups := repository.NewGroupRepo(pool)

	// ── Chain reader ──────────────────────────────────────────────────────────
	reader, err := chain.NewReader(log)
	if err != nil {
		log.Fatal("chain reader init failed", zap.Error(err))
	}

	// ── External clients ──────────────────────────────────────────────────────
	provider := booking.NewProviderClient(cfg.Provider)
	tickets := ticket.NewClient(cfg.Ticket)
	mailer := mail.NewClient(cfg.Mail)
	rater := rates.NewClient(cfg.Rates)

	// ── Services ──────────────────────────────────────────────────────────────
	jobs := queue.NewClient(rdb, log)
	bookingSvc := booking.NewService(cfg, reader, offers, deals, provider, mailer, jobs, log)
	groupSvc := group.NewService(cfg, reader, groups, tickets, mailer, rater, jobs, log)
	rewardSvc := reward.NewService(deals, groups, jobs, log)

	// ── Workers ───────────────────────────────────────────────────────────────
	// Keep-alive runs first so pollers lost to a crash restart before any
	// deal job asks about them.
	workers := []*queue.Worker{
		queue.NewWorker(jobs, booking.QueueKeepAlive, bookingSvc.HandleKeepAlive, queue.WorkerOptions{}, log),
		queue.NewWorker(jobs, booking.QueueDeal, bookingSvc.HandleDealJob, queue.WorkerOptions{}, log),
		queue.NewWorker(jobs, group.QueueGroup, groupSvc.HandlePipeline, queue.WorkerOptions{
			Concurrency: cfg.Group.Concurrency,
			OnExhausted: groupSvc.HandleExhausted,
		}, log),
		queue.NewWorker(jobs, reward.QueueReward, rewardSvc.HandleUpdate, queue.WorkerOptions{
			OnExhausted: rewardSvc.HandleExhausted,
		}, log),
	}
	for _, w := range workers {
		go w.Run(ctx)
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := r.Group("/api")
	registerRoutes(api, ctx, bookingSvc, groupSvc, rewardSvc, deals, groups)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	bookingSvc.Wait()
	log.Info("shutdown complete")
}

type watchRequest struct {
	Passengers []models.Passenger `json:"passengers" binding:"required"`
}

type groupRequest struct {
	Rooms      []models.GroupRoom `json:"rooms" binding:"required"`
	Contact    models.Contact     `json:"contact" binding:"required"`
	GuestCount int                `json:"guestCount"`
}

type rewardRequest struct {
	DealType reward.DealType `json:"dealType" binding:"required"`
	ID       string          `json:"id" binding:"required"`
	Choice   string          `json:"choice" binding:"required"`
}

// registerRoutes wires the operational API. appCtx scopes the pollers that
// WatchOffer starts; they must outlive the HTTP request.
func registerRoutes(
	api *gin.RouterGroup,
	appCtx context.Context,
	bookingSvc *booking.Service,
	groupSvc *group.Service,
	rewardSvc *reward.Service,
	deals *repository.DealRepo,
	groups *repository.GroupRepo,
) {
	api.POST("/offers/:offerId/watch", func(c *gin.Context) {
		var req watchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		expiration, err := bookingSvc.WatchOffer(appCtx, c.Param("offerId"), req.Passengers)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repository.ErrNotFound) {
				status = http.StatusNotFound
			}
			if errors.Is(err, booking.ErrOfferExpired) {
				status = http.StatusGone
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"expiration": expiration})
	})

	api.GET("/deals/:offerId", func(c *gin.Context) {
		deal, err := deals.GetDeal(c.Request.Context(), c.Param("offerId"))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "deal not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, deal)
	})

	api.POST("/groups", func(c *gin.Context) {
		var req groupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		created, err := groupSvc.CreateRequest(c.Request.Context(), req.Rooms, req.Contact, req.GuestCount)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, group.ErrNoRooms) ||
				errors.Is(err, group.ErrMixedAccommodations) ||
				errors.Is(err, group.ErrMixedCurrencies) ||
				errors.Is(err, group.ErrOfferExpired) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, created)
	})

	api.GET("/groups/:requestId", func(c *gin.Context) {
		req, err := groups.GetGroupRequest(c.Request.Context(), c.Param("requestId"))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "group request not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, req)
	})

	api.POST("/rewards", func(c *gin.Context) {
		var req rewardRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := rewardSvc.Enqueue(c.Request.Context(), req.DealType, req.ID, req.Choice); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
	})
}
