package internal

import (
	"freshanon/internal/controllers"
	"freshanon/internal/providers"
	"freshanon/internal/structures"
	"net/http"
)

func InitRoutes(apiController *controllers.ApiController, conf *structures.Config) providers.RouterProviderInterface {
	routers := providers.NewRouterProvider()

	routers.Post("/queue", http.HandlerFunc(apiController.Enqueue))
	routers.Post("/queue/cancel", http.HandlerFunc(apiController.Cancel))
	routers.Post("/pair", http.HandlerFunc(apiController.AttemptPair))
	routers.Post("/session/end", http.HandlerFunc(apiController.EndSession))
	routers.Get("/partner", http.HandlerFunc(apiController.GetPartner))
	routers.Post("/search", http.HandlerFunc(apiController.StartSearch))
	routers.Get("/search/status", http.HandlerFunc(apiController.SearchStatus))
	routers.Get("/stats", http.HandlerFunc(apiController.GetStats))
	return routers
}
