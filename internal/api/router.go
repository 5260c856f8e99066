package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/yegors/ridscan/pkg/logger"
)

// Router builds the HTTP routes
type Router struct {
	handler        *Handler
	allowedOrigins []string
	logger         *logger.Logger
}

// NewRouter creates a new router. The snapshot handler is registered on the
// WebSocket server when one is configured.
func NewRouter(svc Services, log *logger.Logger) *Router {
	if svc.WSServer != nil {
		svc.WSServer.SetMessageHandler(NewSnapshotHandler(svc.Detections, svc.Flights, log))
	}

	origins := []string{"*"}
	if svc.Config != nil && len(svc.Config.Server.CORSAllowedOrigins) > 0 {
		origins = svc.Config.Server.CORSAllowedOrigins
	}

	return &Router{
		handler:        NewHandler(svc, log),
		allowedOrigins: origins,
		logger:         log.Named("router"),
	}
}

// Routes returns the configured handler
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(rt.requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	h := rt.handler
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.GetHealth)
		r.Get("/status", h.GetStatus)

		r.Get("/detections", h.GetDetections)
		r.Delete("/detections", h.ClearDetections)
		r.Get("/aircraft", h.GetAircraft)

		r.Post("/location", h.PostLocation)
		r.Post("/scan/ble", h.PostBLEAdvertisements)
		r.Put("/scan/wifi", h.PutWifiScan)

		r.Get("/permissions", h.GetPermissions)
		r.Put("/permissions", h.PutPermissions)

		r.Get("/history/detections", h.GetDetectionHistory)
		r.Get("/history/fetches", h.GetFetchHistory)
	})

	r.Get("/ws", h.HandleWebSocket)

	return r
}

func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		rt.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Int("bytes", ww.BytesWritten()),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(r.Context())))
	})
}
