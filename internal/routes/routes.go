package routes

import (
	ginlog "github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"
)

func SetupRouter() *gin.Engine {
	r := gin.New()

	// Engine middleware must be registered before any route: gin bakes the
	// handler chain per route at registration time
	r.Use(gin.Recovery())
	r.Use(ginlog.SetLogger())

	// Auth routes
	AuthRoutes(r)
	CalendarRoutes(r)
	RouteRoutes(r)
	WebSocketRoutes(r)

	return r
}
