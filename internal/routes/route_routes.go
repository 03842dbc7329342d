package routes

import (
	"github.com/gin-gonic/gin"

	"install_planner/internal/controllers"
	"install_planner/internal/middleware"
)

func RouteRoutes(r *gin.Engine) {
	routes := r.Group("/calendar/routes")
	routes.Use(middleware.RequireAuth())
	{
		routes.GET("/", controllers.GetRoute)
		routes.POST("/optimize", middleware.RequireAuthWithRole("owner", "manager"), controllers.OptimizeRoute)
		routes.POST("/optimize-all", middleware.RequireAuthWithRole("owner", "manager"), controllers.OptimizeAllRoutes)
	}

	schedules := r.Group("/calendar/schedules")
	schedules.Use(middleware.RequireAuthWithRole("owner", "manager"))
	{
		schedules.POST("/auto-assign", controllers.AutoAssignSchedules)
	}
}
