package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, handler *Handler) {
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
	}))

	router.GET("/health", handler.Health)

	api := router.Group("/api")
	{
		api.GET("/transactions", handler.GetTransactions)
		api.GET("/stats", handler.GetStats)
		api.GET("/arrondissements", handler.GetArrondissementStats)
		api.GET("/arrondissements/geojson", handler.GetArrondissementsGeoJSON)
		api.GET("/timeline", handler.GetTimeline)
		api.GET("/parcelles", handler.GetParcelles)
		api.GET("/search", handler.Search)
		api.POST("/scrape", handler.RunScrape)
	}
}
