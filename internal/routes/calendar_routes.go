package routes

import (
	"github.com/gin-gonic/gin"

	"install_planner/internal/controllers"
	"install_planner/internal/middleware"
)

func CalendarRoutes(r *gin.Engine) {
	calendar := r.Group("/calendar")
	calendar.Use(middleware.RequireAuth())
	{
		calendar.GET("/", controllers.GetCalendar)
		calendar.POST("/", middleware.RequireAuthWithRole("owner", "manager"), controllers.CreateSchedule)
		calendar.POST("/availability/check", controllers.CheckAvailability)

		calendar.GET("/schedule/:id", controllers.GetScheduleDetail)
		calendar.PUT("/schedule/:id", middleware.RequireAuthWithRole("owner", "manager"), controllers.UpdateSchedule)
		calendar.DELETE("/schedule/:id", middleware.RequireAuthWithRole("owner", "manager"), controllers.DeleteSchedule)

		calendar.POST("/schedule/:id/start", middleware.RequireAuthWithRole("installer"), controllers.StartWork)
		calendar.POST("/schedule/:id/complete", middleware.RequireAuthWithRole("installer"), controllers.CompleteWork)
		calendar.POST("/schedule/:id/cancel", middleware.RequireAuthWithRole("owner", "manager"), controllers.CancelSchedule)

		calendar.GET("/installer/:installer_id/schedule", controllers.GetInstallerSchedule)
	}
}
