package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"echoes/internal/dto"
	"echoes/internal/logger"
	"echoes/internal/service"

	"github.com/gorilla/websocket"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler handles viewer connections over WebSocket and
// registers them in the HubService to receive rendered frames.
func ViewWebsocketHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		manager.GetWebsocketService().Register(connection)
		defer manager.GetWebsocketService().Unregister(connection)

		for {
			_, _, err := connection.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Viewer disconnected normally")
				} else {
					logger.Error("Viewer disconnected with error: %v", err)
				}
				break
			}
		}
	}
}

// controlReply acknowledges a control message.
type controlReply struct {
	OK    bool      `json:"ok"`
	Error string    `json:"error,omitempty"`
	State dto.State `json:"state"`
}

// ControlWebsocketHandler reads key, voice, slider and button messages from
// the browser and queues them for the render loop.
func ControlWebsocketHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		defer connection.Close()

		logger.Info("Controller connected")
		for {
			var msg dto.ControlMessage
			if err := connection.ReadJSON(&msg); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Controller disconnected normally")
					return
				}
				var syntaxErr *json.SyntaxError
				var typeErr *json.UnmarshalTypeError
				if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
					logger.Warning("Malformed control message: %v", err)
					continue
				}
				logger.Error("Controller disconnected with error: %v", err)
				return
			}

			reply := controlReply{OK: true}
			if err := manager.HandleControlMessage(msg); err != nil {
				logger.Warning("Control message rejected: %v", err)
				reply.OK = false
				reply.Error = err.Error()
			}
			reply.State = manager.State()

			if err := connection.WriteJSON(reply); err != nil {
				logger.Error("Error replying to controller: %v", err)
				return
			}
		}
	}
}
