// Package api registers the public REST routes.
package api

import (
	"net/http"
	"time"

	"github.com/echolog/echolog-server/internal/analysis"
	"github.com/echolog/echolog-server/internal/billing"
	"github.com/echolog/echolog-server/internal/blob"
	"github.com/echolog/echolog-server/internal/blob/local"
	"github.com/echolog/echolog-server/internal/dashboard"
	"github.com/echolog/echolog-server/internal/db"
	httpx "github.com/echolog/echolog-server/internal/http"
	"github.com/echolog/echolog-server/internal/http/api/handlers"
	"github.com/echolog/echolog-server/internal/transcription"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Deps are the services behind the routes. Billing may be nil.
type Deps struct {
	DB          *gorm.DB
	JWTSecret   string
	JWTExpiry   time.Duration
	Coordinator *transcription.Coordinator
	Analysis    *analysis.Service
	Dashboard   *dashboard.Service
	Billing     *billing.Reporter
	Blobs       blob.Store
	PlaybackTTL time.Duration
	MetricsPath string // Empty disables the Prometheus endpoint.
}

// RegisterRoutes registers health, metrics, local blob and /api routes.
func RegisterRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	r.GET("/healthz", func(c *gin.Context) {
		sqlDB, errDB := deps.DB.DB()
		if errDB == nil {
			errDB = sqlDB.PingContext(c.Request.Context())
		}
		if errDB != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "database": db.DialectName(deps.DB)})
	})
	if deps.MetricsPath != "" {
		r.GET(deps.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
	if store, ok := deps.Blobs.(*local.Store); ok {
		r.GET(local.RoutePrefix+"*ref", handlers.NewBlobHandler(store).Serve)
	}

	root := r.Group("/api")

	authHandler := handlers.NewAuthHandler(deps.DB, deps.JWTSecret, deps.JWTExpiry)
	root.POST("/auth/register", authHandler.Register)
	root.POST("/auth/login", authHandler.Login)

	analysisHandler := handlers.NewAnalysisHandler(deps.Analysis)
	root.POST("/analyze/mock", analysisHandler.Mock)

	authed := root.Group("")
	authed.Use(httpx.UserAuthMiddleware(deps.DB, deps.JWTSecret))

	authed.GET("/auth/verify", authHandler.Verify)

	audioHandler := handlers.NewAudioHandler(deps.Coordinator, deps.Blobs, deps.PlaybackTTL)
	authed.POST("/audio/upload", audioHandler.Upload)
	authed.GET("/audio/:ref", audioHandler.Get)
	authed.DELETE("/audio/:ref", audioHandler.Delete)

	transcribeHandler := handlers.NewTranscribeHandler(deps.Coordinator)
	authed.POST("/transcribe", transcribeHandler.Submit)
	authed.GET("/transcribe/status/:jobId", transcribeHandler.Status)
	authed.GET("/transcribe/:id", transcribeHandler.Get)
	authed.DELETE("/transcribe/:id", transcribeHandler.Delete)

	textHandler := handlers.NewTextHandler(deps.Coordinator)
	authed.POST("/texts", textHandler.Create)
	authed.POST("/texts/document", textHandler.Document)

	authed.POST("/analyze", analysisHandler.Analyze)
	authed.GET("/analyze", analysisHandler.History)
	authed.GET("/analyze/:id", analysisHandler.Get)

	dashboardHandler := handlers.NewDashboardHandler(deps.Dashboard)
	authed.GET("/dashboard/stats", dashboardHandler.Stats)
	authed.GET("/dashboard/history", dashboardHandler.History)

	billingHandler := handlers.NewBillingHandler(deps.Billing)
	authed.GET("/billing/costs", billingHandler.Costs)
}
