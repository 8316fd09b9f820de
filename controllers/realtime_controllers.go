package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yeremiapane/waiter-call/fanout"
	"github.com/yeremiapane/waiter-call/middlewares"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// browsers connect from the staff app origin, the token is the credential
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RealtimeHandler upgrades an authenticated staff connection and streams the
// events of its business until it disconnects.
func RealtimeHandler(hub *fanout.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope := middlewares.CurrentScope(c)
		if !scope.IsWaiter() && !scope.IsAdmin() {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		hub.Serve(ws, scope.BusinessID, scope.UserID, scope.Role)
	}
}
