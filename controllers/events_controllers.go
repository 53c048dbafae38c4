package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yeremiapane/omnipay-gateway/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type EventsController struct {
	Hub *hub.Hub
}

func NewEventsController(h *hub.Hub) *EventsController {
	return &EventsController{Hub: h}
}

// Stream upgrades to a websocket and relays gateway events until the client disconnects.
func (ec *EventsController) Stream(c *gin.Context) {
	role := c.GetString("role")
	if role == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	ec.Hub.Register(ws, role)

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	ec.Hub.Unregister(ws)
}
