package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yegors/ridscan/internal/adsb"
	"github.com/yegors/ridscan/internal/config"
	"github.com/yegors/ridscan/internal/detection"
	"github.com/yegors/ridscan/internal/location"
	"github.com/yegors/ridscan/internal/permissions"
	"github.com/yegors/ridscan/internal/scheduler"
	"github.com/yegors/ridscan/internal/storage/sqlite"
	"github.com/yegors/ridscan/internal/websocket"
	"github.com/yegors/ridscan/pkg/logger"
)

const (
	maxRequestBytes     = 1 << 20
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// Services holds everything the HTTP layer talks to. WifiSource is nil when
// Wi-Fi scans come from the local nmcli instead of the hosting platform, and
// Journal is nil when the journal is disabled.
type Services struct {
	Detections *detection.Service
	Flights    *adsb.Service
	BLESource  *detection.PushBLESource
	WifiSource *detection.PushWifiSource
	Locations  *location.PushProvider
	Gate       *permissions.Gate
	Journal    *sqlite.JournalStorage
	WSServer   *websocket.Server
	Scheduler  *scheduler.Scheduler
	Config     *config.Config
}

// Handler contains the API handlers
type Handler struct {
	svc       Services
	logger    *logger.Logger
	startedAt time.Time
}

// NewHandler creates a new API handler
func NewHandler(svc Services, log *logger.Logger) *Handler {
	return &Handler{
		svc:       svc,
		logger:    log.Named("api-handler"),
		startedAt: time.Now().UTC(),
	}
}

// GetHealth returns the health status of the API
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	flights := h.svc.Flights.Status()

	response := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"detections":     len(h.svc.Detections.Visible()),
		"aircraft_count": flights.Aircraft,
		"last_fetch":     flights.LastSuccess,
	}

	WriteJSON(w, http.StatusOK, response)
}

// GetDetections returns the visible detection set in display order
func (h *Handler) GetDetections(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.svc.Detections.SnapshotMessage().Data)
}

// ClearDetections removes detections, optionally only those of ?kind=ble|wifi
func (h *Handler) ClearDetections(w http.ResponseWriter, r *http.Request) {
	kind, err := parseKind(r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	changed := h.svc.Detections.Clear(kind)
	WriteJSON(w, http.StatusOK, map[string]any{
		"cleared": changed,
		"count":   len(h.svc.Detections.Visible()),
	})
}

// GetAircraft returns the latest applied aircraft list
func (h *Handler) GetAircraft(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.svc.Flights.SnapshotMessage().Data)
}

// GetStatus returns both timelines, the grants and connection counts
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"scan":        h.svc.Detections.Status(),
		"flights":     h.svc.Flights.Status(),
		"permissions": h.svc.Gate.State(),
		"journal":     h.svc.Journal != nil,
	}
	if h.svc.WSServer != nil {
		response["websocket_clients"] = h.svc.WSServer.ClientCount()
	}
	if h.svc.Scheduler != nil {
		response["scheduler"] = map[string]any{
			"running":          h.svc.Scheduler.Running(),
			"interval_seconds": h.svc.Scheduler.Interval().Seconds(),
			"latest_fix":       h.svc.Scheduler.LatestFix(),
		}
	}
	if h.svc.Config != nil {
		response["wifi_source"] = h.svc.Config.Scan.WifiSource
	}

	WriteJSON(w, http.StatusOK, response)
}

// locationRequest is the body of a location update
type locationRequest struct {
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// PostLocation publishes a location fix. The fetch it triggers runs asynchronously.
func (h *Handler) PostLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		http.Error(w, "latitude and longitude are required", http.StatusBadRequest)
		return
	}

	fix := location.Fix{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Timestamp: req.Timestamp,
		Source:    req.Source,
	}
	if err := fix.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now().UTC()
	}

	if err := h.svc.Locations.Publish(fix); err != nil {
		h.writeSourceError(w, "location", err)
		return
	}

	h.logger.Debug("Location fix accepted",
		logger.Float64("lat", fix.Latitude),
		logger.Float64("lon", fix.Longitude))
	WriteJSON(w, http.StatusAccepted, fix)
}

// PostBLEAdvertisements accepts one advertisement object or an array of them
func (h *Handler) PostBLEAdvertisements(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeBody(w, r, &raw); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	var ads []detection.Advertisement
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &ads); err != nil {
			http.Error(w, "Invalid advertisement list", http.StatusBadRequest)
			return
		}
	} else {
		var ad detection.Advertisement
		if err := json.Unmarshal(trimmed, &ad); err != nil {
			http.Error(w, "Invalid advertisement", http.StatusBadRequest)
			return
		}
		ads = []detection.Advertisement{ad}
	}

	for i, ad := range ads {
		if strings.TrimSpace(ad.Address) == "" {
			http.Error(w, fmt.Sprintf("advertisement %d: address is required", i), http.StatusBadRequest)
			return
		}
	}

	accepted, err := h.svc.BLESource.Publish(ads...)
	if err != nil {
		h.writeSourceError(w, "ble", err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]any{"accepted": accepted})
}

// PutWifiScan replaces the cached Wi-Fi scan batch. With ?apply=true the batch is
// merged right away instead of on the next scan tick.
func (h *Handler) PutWifiScan(w http.ResponseWriter, r *http.Request) {
	if h.svc.WifiSource == nil {
		http.Error(w, "Wi-Fi scans are read from the local radio", http.StatusConflict)
		return
	}

	var results []detection.WifiResult
	if err := decodeBody(w, r, &results); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := h.svc.WifiSource.Update(results); err != nil {
		h.writeSourceError(w, "wifi", err)
		return
	}

	if apply, _ := strconv.ParseBool(r.URL.Query().Get("apply")); apply {
		if err := h.svc.Detections.Rescan(r.Context()); err != nil {
			h.writeSourceError(w, "wifi", err)
			return
		}
	}

	WriteJSON(w, http.StatusAccepted, map[string]any{
		"results": len(results),
		"visible": len(h.svc.Detections.Visible()),
	})
}

// GetPermissions returns the current grants
func (h *Handler) GetPermissions(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.svc.Gate.State())
}

// permissionsRequest carries only the grants that change
type permissionsRequest struct {
	BLE      *bool `json:"ble"`
	WiFi     *bool `json:"wifi"`
	Location *bool `json:"location"`
}

// PutPermissions records grant decisions made by the hosting platform
func (h *Handler) PutPermissions(w http.ResponseWriter, r *http.Request) {
	var req permissionsRequest
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.BLE != nil {
		h.svc.Gate.Grant(permissions.BLE, *req.BLE)
	}
	if req.WiFi != nil {
		h.svc.Gate.Grant(permissions.WiFi, *req.WiFi)
	}
	if req.Location != nil {
		h.svc.Gate.Grant(permissions.Location, *req.Location)
	}

	state := h.svc.Gate.State()
	h.logger.Info("Permissions updated",
		logger.Bool("ble", state.BLE),
		logger.Bool("wifi", state.WiFi),
		logger.Bool("location", state.Location))
	WriteJSON(w, http.StatusOK, state)
}

// GetDetectionHistory returns journaled detections, newest first
func (h *Handler) GetDetectionHistory(w http.ResponseWriter, r *http.Request) {
	if h.svc.Journal == nil {
		http.Error(w, "Journal is disabled", http.StatusServiceUnavailable)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := h.svc.Journal.RecentDetections(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read detection history", logger.Error(err))
		http.Error(w, "Failed to read detection history", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"detections": records,
		"count":      len(records),
	})
}

// GetFetchHistory returns journaled fetch outcomes, newest first
func (h *Handler) GetFetchHistory(w http.ResponseWriter, r *http.Request) {
	if h.svc.Journal == nil {
		http.Error(w, "Journal is disabled", http.StatusServiceUnavailable)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := h.svc.Journal.RecentFetches(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read fetch history", logger.Error(err))
		http.Error(w, "Failed to read fetch history", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"fetches": records,
		"count":   len(records),
	})
}

// HandleWebSocket upgrades the connection and registers it with the hub
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.svc.WSServer == nil {
		http.Error(w, "WebSocket server not available", http.StatusServiceUnavailable)
		return
	}
	h.svc.WSServer.HandleConnection(w, r)
}

func (h *Handler) writeSourceError(w http.ResponseWriter, source string, err error) {
	switch {
	case errors.Is(err, permissions.ErrPermissionDenied):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, detection.ErrRadioUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.logger.Error("Request failed",
			logger.String("source", source),
			logger.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("empty request body")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

func parseKind(value string) (detection.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return "", nil
	case "ble", "bluetooth":
		return detection.KindBLE, nil
	case "wifi", "wi-fi":
		return detection.KindWiFi, nil
	default:
		return "", fmt.Errorf("invalid kind %q (must be 'ble' or 'wifi')", value)
	}
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
