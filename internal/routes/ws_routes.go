package routes

import (
	"github.com/gin-gonic/gin"

	"install_planner/internal/controllers"
)

func WebSocketRoutes(r *gin.Engine) {
	r.GET("/ws/schedule-events", controllers.ScheduleEventsSocket)
}
