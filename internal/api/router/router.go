package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pingpongshow/audiblez-webui/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Health)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	jobHandler := handler.NewJobHandler(deps)
	libraryHandler := handler.NewLibraryHandler(deps)
	cleanupHandler := handler.NewCleanupHandler(deps)

	maxUpload := deps.Config.Server.MaxUploadMB * 1024 * 1024

	api := r.Group("/api")
	{
		// catalog
		api.GET("/voices", libraryHandler.Voices)
		api.GET("/ebooks", libraryHandler.Ebooks)
		api.POST("/upload", MaxBodySize(maxUpload), libraryHandler.Upload)

		// conversion jobs
		api.POST("/convert", jobHandler.Convert)
		api.GET("/jobs", jobHandler.ListJobs)
		api.GET("/status/:job_id", jobHandler.GetStatus)
		api.POST("/cancel/:job_id", jobHandler.Cancel)
		api.DELETE("/delete/:job_id", jobHandler.Delete)
		api.GET("/history", jobHandler.History)

		// temporary-file maintenance
		cleanupGroup := api.Group("/cleanup")
		{
			cleanupGroup.GET("/status", cleanupHandler.Status)
			cleanupGroup.POST("/all", cleanupHandler.All)
			cleanupGroup.POST("/job/:job_id", cleanupHandler.Job)
		}

		api.GET("/config/cleanup", cleanupHandler.GetAutoConfig)
		api.POST("/config/cleanup", cleanupHandler.SetAutoConfig)
	}

	return r
}
