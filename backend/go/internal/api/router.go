package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers every route under /api/v1 plus /health.
func RegisterRoutes(router *gin.Engine, api *API) {
	router.GET("/health", api.HealthHandler)

	v1 := router.Group("/api/v1")
	v1.POST("/candidates", api.SubmitCandidateHandler)
	v1.GET("/receipts/:key", api.GetReceiptHandler)
	v1.GET("/search", api.SearchHandler)
	v1.GET("/stats", api.StatsHandler)
	v1.GET("/disambiguations", api.ListDisambiguationsHandler)

	entities := v1.Group("/entities")
	{
		entities.GET("/search", api.SearchEntitiesHandler)
		entities.GET("/types", api.EntityTypesHandler)
		entities.GET("/:id", api.GetEntityHandler)
		entities.GET("/:id/asof", api.GetEntityAsOfHandler)
		entities.GET("/:id/history", api.GetHistoryHandler)
		entities.GET("/:id/neighborhood", api.GetNeighborhoodHandler)
	}

	admin := v1.Group("/admin")
	{
		admin.POST("/rebuild", api.RebuildHandler)
		admin.POST("/merge", api.MergeHandler)
		admin.POST("/unmerge", api.UnmergeHandler)
		admin.POST("/archive", api.ArchiveHandler)
	}
}
