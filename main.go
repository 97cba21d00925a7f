package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apirest "github.com/lorechronicles/server/api/rest"
	"github.com/lorechronicles/server/audit"
	"github.com/lorechronicles/server/cache"
	"github.com/lorechronicles/server/config"
	dbadapter "github.com/lorechronicles/server/db"
	"github.com/lorechronicles/server/game/character"
	"github.com/lorechronicles/server/game/interpret"
	"github.com/lorechronicles/server/game/inventory"
	"github.com/lorechronicles/server/game/session"
	"github.com/lorechronicles/server/game/story"
	mw "github.com/lorechronicles/server/middleware"
	"github.com/lorechronicles/server/model"
	"github.com/lorechronicles/server/scheduler"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if authoring endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(nil)

	// ---- Cache ----
	c, err := cache.NewCache(cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
	})
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Game Services ----
	locks := session.NewManager()
	charSvc := character.NewService(db, cfg.Game, logger)
	invSvc := inventory.NewService(db, logger)

	var interp interpret.Interpreter
	if cfg.AI.APIKey != "" {
		interp = interpret.NewOpenAIInterpreter(cfg.AI, logger)
		logger.Info("free-text interpreter enabled", zap.String("model", cfg.AI.Model))
	} else {
		logger.Warn("ai.api_key is not set; free-text actions are disabled")
	}
	storySvc := story.NewService(db, locks, interp, auditSvc, logger)

	// ---- REST Handlers ----
	authH := apirest.NewAuthHandler(db, c, cfg.Security)
	charH := apirest.NewCharacterHandler(db, charSvc)
	invH := apirest.NewInventoryHandler(db, invSvc)
	campH := apirest.NewCampaignHandler(db, storySvc)
	playH := apirest.NewPlayHandler(storySvc)
	rankH := apirest.NewRankingHandler(db, c, logger)
	adminH := apirest.NewAdminHandler(db, storySvc, sched, logger)

	// ---- Periodic Scheduler Tasks ----
	if cfg.Game.RankingRefresh > 0 {
		sched.AddTicker("ranking_refresh", cfg.Game.RankingRefresh, func() {
			ctx, cancel := newTaskContext()
			defer cancel()
			if n, err := rankH.Refresh(ctx); err != nil {
				logger.Warn("ranking refresh failed", zap.Error(err))
			} else {
				logger.Debug("ranking refreshed", zap.Int("entries", n))
			}
		})
	}
	if cfg.Game.StaleSessionSweep > 0 {
		sched.AddTicker("stale_session_sweep", cfg.Game.StaleSessionSweep, func() {
			cutoff := time.Now().Add(-cfg.Game.StaleSessionAfter)
			var stale []model.GameSession
			if err := db.Select("id").
				Where("status = ? AND last_played_at < ?", model.SessionActive, cutoff).
				Find(&stale).Error; err != nil {
				logger.Warn("stale session sweep failed", zap.Error(err))
				return
			}
			// Idle sessions stay resumable; only their lock entries are dropped
			// so the lock map does not grow without bound. Entries still held
			// by a step in flight are left alone.
			dropped := 0
			for _, s := range stale {
				if locks.ForgetIdle(s.ID) {
					dropped++
				}
			}
			if dropped > 0 {
				logger.Info("stale session locks dropped", zap.Int("count", dropped))
			}
		})
	}

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		charsG := api.Group("/characters")
		charsG.Use(mw.Auth(cfg.Security, c))
		charsG.GET("", charH.List)
		charsG.POST("", charH.Create)
		charsG.GET("/:id", charH.Get)
		charsG.GET("/:id/inventory", invH.List)
		charsG.POST("/:id/inventory/drop", invH.Drop)
		charsG.POST("/:id/inventory/equip", invH.Equip)
		charsG.POST("/:id/inventory/unequip", invH.Unequip)

		api.GET("/legacy", mw.Auth(cfg.Security, c), charH.Legacy)

		campG := api.Group("/campaigns")
		campG.Use(mw.Auth(cfg.Security, c))
		campG.GET("", campH.List)
		campG.GET("/:id", campH.Get)

		playG := api.Group("/play")
		playG.Use(mw.Auth(cfg.Security, c))
		playG.POST("/start", playH.Start)
		playG.GET("/sessions", playH.Sessions)
		playG.GET("/sessions/:id/current", playH.Current)
		playG.POST("/sessions/:id/choice", playH.Choose)
		playG.POST("/sessions/:id/action", playH.Act)

		rankG := api.Group("/ranking")
		rankG.GET("/xp", rankH.TopXP)

		adminG := api.Group("/admin")
		adminG.Use(apirest.AdminAuth(cfg.Server.AdminKey))
		if len(cfg.Security.AdminAllowedIPs) > 0 {
			adminG.Use(mw.IPWhitelist(cfg.Security.AdminAllowedIPs))
		}
		adminG.GET("/metrics", adminH.Metrics)
		adminG.POST("/campaigns", adminH.CreateCampaign)
		adminG.POST("/campaigns/:id/start-node", adminH.SetStartNode)
		adminG.POST("/nodes", adminH.CreateNode)
		adminG.POST("/choices", adminH.CreateChoice)
		adminG.POST("/items", adminH.CreateItem)
		adminG.POST("/characters/:id/grant-item", adminH.GrantItem)
		adminG.POST("/accounts/:id/ban", adminH.BanAccount)
		adminG.POST("/ranking/refresh", rankH.RefreshHandler)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("server starting", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newTaskContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
