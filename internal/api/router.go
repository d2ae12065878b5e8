package api

import (
	"net/http"

	"campaign-dispatch/internal/metrics"
	"campaign-dispatch/internal/webhook"
	"campaign-dispatch/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Campaigns *CampaignHandler
	Providers *ProviderHandler
	Webhooks  *webhook.Handler
	Hub       *ws.Hub
}

// cors allows dashboards served from another origin.
func cors(c *gin.Context) {
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
	c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

func NewRouter(h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), cors, metrics.Instrument())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if h.Hub != nil {
		r.GET("/ws", h.Hub.ServeWs)
	}

	if h.Webhooks != nil {
		r.GET("/webhooks/:providerId", h.Webhooks.VerifyWebhook)
		r.POST("/webhooks/:providerId", h.Webhooks.HandleEvent)
	}

	apiGroup := r.Group("/api")
	{
		campaigns := apiGroup.Group("/campaigns")
		{
			campaigns.POST("", h.Campaigns.CreateCampaign)
			campaigns.GET("", h.Campaigns.ListCampaigns)
			campaigns.GET("/export", h.Campaigns.ExportCampaigns)
			campaigns.GET("/:id", h.Campaigns.GetCampaign)
			campaigns.PUT("/:id/steps", h.Campaigns.UpdateSteps)
			campaigns.POST("/:id/launch", h.Campaigns.LaunchCampaign)
			campaigns.POST("/:id/pause", h.Campaigns.PauseCampaign)
			campaigns.POST("/:id/resume", h.Campaigns.ResumeCampaign)
			campaigns.DELETE("/:id", h.Campaigns.DeleteCampaign)
			campaigns.GET("/:id/logs", h.Campaigns.GetLogs)
			campaigns.GET("/:id/pending", h.Campaigns.GetPendingTasks)
		}

		providers := apiGroup.Group("/providers")
		{
			providers.POST("", h.Providers.CreateProvider)
			providers.GET("", h.Providers.ListProviders)
			providers.GET("/:id", h.Providers.GetProvider)
			providers.PUT("/:id", h.Providers.UpdateProvider)
			providers.DELETE("/:id", h.Providers.DeleteProvider)
			providers.POST("/:id/default", h.Providers.SetDefault)
			providers.POST("/:id/health", h.Providers.CheckHealth)
		}
	}
	return r
}
