// Package api provides HTTP handlers for the cluster server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/atlasmap-sc/clusterer/internal/markerstore"
	"github.com/atlasmap-sc/clusterer/internal/service"
)

// maxBodyBytes bounds marker uploads.
const maxBodyBytes = 64 << 20

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *MapRegistry
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/api/maps", mapsHandler(cfg.Registry))

	// Map-scoped routes: /m/{map}/api/...
	r.Route("/m/{map}/api", func(r chi.Router) {
		r.Use(mapMiddleware(cfg.Registry))

		r.Get("/view", viewHandler)
		r.Put("/view", setViewHandler)
		r.Post("/view/pan", panHandler)

		r.Get("/clusters", clustersHandler)
		r.Get("/clusters/{id}", clusterHandler)
		r.Post("/clusters/{id}/zoom", zoomToClusterHandler)

		r.Get("/markers", markersHandler)
		r.Post("/markers", addMarkersHandler)
		r.Delete("/markers", clearMarkersHandler)
		r.Delete("/markers/{id}", removeMarkerHandler)

		r.Get("/stats", statsHandler)
		r.Get("/snapshot.png", snapshotHandler)
	})

	return r
}

// Context key for the map service
type ctxKey string

const mapServiceKey ctxKey = "mapService"

// mapMiddleware resolves the map from URL and injects its service into context.
func mapMiddleware(registry *MapRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mapID := chi.URLParam(r, "map")
			svc := registry.Get(mapID)
			if svc == nil {
				http.Error(w, "map not found: "+mapID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), mapServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getMapService(r *http.Request) *service.MapService {
	if svc, ok := r.Context().Value(mapServiceKey).(*service.MapService); ok {
		return svc
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeServiceError maps service errors to status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// mapsHandler returns the list of available maps.
func mapsHandler(registry *MapRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"default": registry.DefaultMapID(),
			"maps":    registry.Maps(),
			"title":   registry.Title(),
		})
	}
}

func viewHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, getMapService(r).View())
}

type setViewRequest struct {
	Center *orb.Point `json:"center"` // [lng, lat]
	Zoom   *int       `json:"zoom"`
	Width  int        `json:"width"`
	Height int        `json:"height"`
}

func setViewHandler(w http.ResponseWriter, r *http.Request) {
	svc := getMapService(r)

	var req setViewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	current := svc.View()
	center, zoom := current.Center, current.Zoom
	if req.Center != nil {
		center = *req.Center
	}
	if req.Zoom != nil {
		zoom = *req.Zoom
	}

	view, err := svc.SetView(center, zoom, req.Width, req.Height)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, view)
}

type panRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

func panHandler(w http.ResponseWriter, r *http.Request) {
	var req panRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, getMapService(r).Pan(req.DX, req.DY))
}

// clustersHandler lists clusters in the viewport, or all with ?all=1.
func clustersHandler(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	data, err := getMapService(r).ClustersJSON(!all)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func parseClusterID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid cluster id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func clusterHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseClusterID(w, r)
	if !ok {
		return
	}
	info, err := getMapService(r).Cluster(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, info)
}

// zoomToClusterHandler behaves like a click on the cluster's badge.
func zoomToClusterHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseClusterID(w, r)
	if !ok {
		return
	}
	view, err := getMapService(r).ZoomToCluster(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, view)
}

// markersHandler lists markers as JSON, or exports NDJSON with
// ?format=ndjson (add &compress=zstd for a compressed download).
func markersHandler(w http.ResponseWriter, r *http.Request) {
	svc := getMapService(r)
	q := r.URL.Query()

	if q.Get("format") == "ndjson" {
		compress := q.Get("compress") == "zstd"
		if compress {
			w.Header().Set("Content-Type", "application/zstd")
			w.Header().Set("Content-Disposition", "attachment; filename=\""+svc.MapID()+".ndjson.zst\"")
		} else {
			w.Header().Set("Content-Type", "application/x-ndjson")
		}
		if err := svc.Export(w, compress); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, svc.Markers())
}

// addMarkersHandler accepts a JSON array of records, an NDJSON stream, or a
// GeoJSON FeatureCollection, chosen by Content-Type.
func addMarkersHandler(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var records []markerstore.Record
	var err error
	switch mediaType {
	case "application/x-ndjson":
		records, err = markerstore.ReadNDJSON(body)
	case "application/geo+json":
		records, err = markerstore.ReadGeoJSON(body)
	default:
		err = json.NewDecoder(body).Decode(&records)
		for i := range records {
			if records[i].ID == "" {
				records[i].ID = uuid.NewString()
			}
		}
	}
	if err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	svc := getMapService(r)
	n, err := svc.AddMarkers(records)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"added": n,
		"ids":   ids,
		"stats": svc.Stats(),
	})
}

func clearMarkersHandler(w http.ResponseWriter, r *http.Request) {
	if err := getMapService(r).ClearMarkers(); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func removeMarkerHandler(w http.ResponseWriter, r *http.Request) {
	if err := getMapService(r).RemoveMarker(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, getMapService(r).Stats())
}

func snapshotHandler(w http.ResponseWriter, r *http.Request) {
	data, err := getMapService(r).Snapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}
