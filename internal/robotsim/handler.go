package robotsim

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the simulator only ever runs on a trusted bench network
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler upgrades /:route?sender=<id> and joins the route's room.
func WSHandler(robot *Robot) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.Param("route")
		sender := c.Query("sender")
		if sender == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sender query parameter is required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the failure response
			return
		}

		room := robot.Room(route)
		client := newClient(uuid.NewString(), sender, route, conn, room, robot)
		room.AddClient(client)

		go client.ReadPump()
		go client.WritePump()
	}
}

// NewRouter serves every route of the simulated robot plus a small
// inspection API.
func NewRouter(robot *Robot) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/sim/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"pose":    robot.Pose(),
			"gripper": robot.Gripper().String(),
			"zone":    robot.Zone(),
			"pid":     robot.Pid(),
		})
	})
	router.GET("/sim/history", func(c *gin.Context) {
		c.JSON(http.StatusOK, robot.History())
	})
	router.GET("/:route", WSHandler(robot))
	return router
}
