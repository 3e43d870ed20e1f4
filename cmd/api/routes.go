package main

import (
	"call-insights/internal/config"
	"call-insights/internal/httpapi"
	"call-insights/internal/rbac"
	"call-insights/internal/telephony"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, authMW gin.HandlerFunc, api *httpapi.Handlers, tw *telephony.Handler) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider webhooks are public; Twilio proves itself with a request signature.
	// Config makes the auth token mandatory in production when validation is on.
	hooks := r.Group("/webhooks/twilio")
	if cfg.Twilio.ValidateSignature && cfg.Twilio.AuthToken != "" {
		hooks.Use(telephony.RequireSignature(cfg.Twilio.AuthToken, cfg.Twilio.PublicBaseURL))
	}
	hooks.POST("/voice", tw.Voice)
	hooks.POST("/recording", tw.RecordingStatus)

	v1 := r.Group("/v1")

	authGroup := v1.Group("/auth")
	authGroup.POST("/login", api.Login)
	authGroup.POST("/refresh", api.Refresh)

	protected := v1.Group("")
	protected.Use(authMW)
	protected.GET("/me", api.Me)

	calls := protected.Group("/calls")
	calls.POST("", append(httpapi.RequireWorkspaceAndAnyRole(rbac.CallWriters...), api.UploadCall)...)
	calls.GET("", append(httpapi.RequireWorkspaceAndAnyRole(rbac.Members...), api.ListCalls)...)
	calls.GET("/:id", append(httpapi.RequireWorkspaceAndAnyRole(rbac.Members...), api.GetCall)...)
	calls.GET("/:id/status", append(httpapi.RequireWorkspaceAndAnyRole(rbac.Members...), api.CallStatus)...)
	calls.GET("/:id/audio", append(httpapi.RequireWorkspaceAndAnyRole(rbac.Members...), api.CallAudio)...)
	calls.POST("/:id/process", append(httpapi.RequireWorkspaceAndAnyRole(rbac.CallWriters...), api.TriggerProcessing)...)
	calls.POST("/:id/analyze", append(httpapi.RequireWorkspaceAndAnyRole(rbac.CallWriters...), api.AnalyzeCall)...)

	dashboard := protected.Group("/dashboard")
	dashboard.GET("/me", append(httpapi.RequireWorkspaceAndAnyRole(rbac.Members...), api.MyDashboard)...)
	reports := dashboard.Group("")
	reports.Use(httpapi.RequireWorkspaceAndAnyRole(rbac.ReportReaders...)...)
	{
		reports.GET("/leaderboard", api.Leaderboard)
		reports.GET("/leaderboard.xlsx", api.LeaderboardXLSX)
		reports.GET("/analytics", api.Analytics)
	}

	phone := protected.Group("/telephony")
	phone.Use(httpapi.RequireWorkspaceAndAnyRole(rbac.CallWriters...)...)
	{
		phone.GET("/token", tw.Token)
		phone.POST("/calls", tw.CallStarted)
	}
}
