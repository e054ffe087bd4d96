package internal

import (
	"net/http"

	"inboxd/internal/controllers"
	"inboxd/internal/providers"
)

func InitRoutes(inboxController *controllers.InboxController) providers.RouterProviderInterface {
	routers := providers.NewRouterProvider()

	routers.Get("/feed", http.HandlerFunc(inboxController.Feed))
	routers.Get("/unread", http.HandlerFunc(inboxController.Unread))
	routers.Post("/open", http.HandlerFunc(inboxController.Open))
	routers.Post("/seen", http.HandlerFunc(inboxController.Seen))
	routers.Post("/read", http.HandlerFunc(inboxController.Read))
	routers.Post("/read-all", http.HandlerFunc(inboxController.ReadAll))
	routers.Post("/delete", http.HandlerFunc(inboxController.Delete))
	routers.Post("/refresh", http.HandlerFunc(inboxController.Refresh))
	return routers
}
