package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"install_planner/internal/middleware"
	"install_planner/internal/services"
)

// upgrader configures the WebSocket connection.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for development (restrict in production!)
	},
}

// ScheduleEventsSocket upgrades a dashboard connection and streams schedule
// and route events until the client disconnects. Authentication uses a
// token query parameter because browsers cannot set headers on WebSocket
// handshakes.
func ScheduleEventsSocket(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		logrus.Warn("ScheduleEventsSocket: missing token query parameter")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authentication token"})
		return
	}

	claims, err := middleware.ValidateToken(tokenString)
	if err != nil {
		logrus.WithError(err).Warn("ScheduleEventsSocket: invalid token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("ScheduleEventsSocket: websocket upgrade failed")
		return
	}

	services.Events.RegisterClient(conn)
	logrus.WithFields(logrus.Fields{
		"user_id": claims.UserID,
		"role":    claims.Role,
	}).Info("ScheduleEventsSocket: client connected")

	// Reader loop exists only to detect disconnects; clients do not send
	// messages on this socket.
	go func() {
		defer func() {
			services.Events.UnregisterClient(conn)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
