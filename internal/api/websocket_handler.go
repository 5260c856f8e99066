package api

import (
	"fmt"

	"github.com/yegors/ridscan/internal/adsb"
	"github.com/yegors/ridscan/internal/detection"
	"github.com/yegors/ridscan/internal/websocket"
	"github.com/yegors/ridscan/pkg/logger"
)

// SnapshotHandler answers snapshot requests from WebSocket clients
type SnapshotHandler struct {
	detections *detection.Service
	flights    *adsb.Service
	logger     *logger.Logger
}

// NewSnapshotHandler creates a new WebSocket message handler
func NewSnapshotHandler(detections *detection.Service, flights *adsb.Service, log *logger.Logger) *SnapshotHandler {
	return &SnapshotHandler{
		detections: detections,
		flights:    flights,
		logger:     log.Named("ws-handler"),
	}
}

// HandleMessage handles incoming WebSocket messages
func (h *SnapshotHandler) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	switch messageType {
	case websocket.MessageTypeSnapshotRequest:
		return h.handleSnapshotRequest(client)
	default:
		h.logger.Debug("Unhandled message type", logger.String("type", messageType))
		return nil
	}
}

func (h *SnapshotHandler) handleSnapshotRequest(client *websocket.Client) error {
	h.logger.Debug("Handling snapshot request")

	message := &websocket.Message{
		Type: websocket.MessageTypeSnapshotResponse,
		Data: map[string]any{},
	}
	if h.detections != nil {
		message.Data["detections"] = h.detections.SnapshotMessage().Data
	}
	if h.flights != nil {
		message.Data["aircraft"] = h.flights.SnapshotMessage().Data
	}

	if !client.SendMessage(message) {
		return fmt.Errorf("failed to send snapshot: client buffer full or closed")
	}
	return nil
}
