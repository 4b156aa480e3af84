package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/sales-academy/backend/internal/config"
	"github.com/sales-academy/backend/internal/db"
	"github.com/sales-academy/backend/internal/http/handlers"
	"github.com/sales-academy/backend/internal/http/middleware"
	"github.com/sales-academy/backend/internal/notify"
	"github.com/sales-academy/backend/internal/scoring"

	_ "github.com/sales-academy/backend/docs"
)

func Router(cfg config.Config, store *db.Store, scorer scoring.Scorer, notifier notify.Notifier, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.MaxMultipartMemory = cfg.MaxUploadSizeMB << 20

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:     store,
		Scorer:    scorer,
		Notifier:  notifier,
		Validator: validator.New(),
		Logger:    logger,
		Cfg:       cfg,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/conversations", h.ConversationsList)
		api.GET("/conversations/:id", h.ConversationDetails)
		api.GET("/agents/skills", h.AgentsSkills)
		api.GET("/runs/latest", h.RunsLatest)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/import", h.Import)
		admin.POST("/analysis/run", h.RunAnalysis)
		admin.POST("/reports/weekly", h.WeeklyReport)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
