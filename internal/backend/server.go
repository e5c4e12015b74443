package backend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ridehail-demo/internal/eta"
	"github.com/example/ridehail-demo/internal/geo"
	"github.com/example/ridehail-demo/internal/models"
	"github.com/example/ridehail-demo/internal/observability"
)

// PaymentGateway holds and settles trip fares. Satisfied by
// payments.StripeClient.
type PaymentGateway interface {
	Hold(ctx context.Context, tripID string, amount int64) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

// Fare pricing in minor currency units.
const (
	fareBaseCents     = 500
	fareCentsPerMeter = 0.2
)

// Options wires the server's collaborators. Store and Logger are
// required; everything else degrades gracefully when absent.
type Options struct {
	Store           Store
	Tokens          *TokenSigner
	Events          *EventProducer
	Payments        PaymentGateway
	ETAClient       eta.Client
	ETACache        *eta.Cache
	ProviderID      string
	DefaultSpeedMps float64
	Logger          *slog.Logger
}

// Server is the reference provider's HTTP surface.
type Server struct {
	store    Store
	matcher  *Matcher
	push     *PushRegistry
	events   *EventProducer
	payments PaymentGateway
	tokens   *TokenSigner

	etaClient  eta.Client
	etaCache   *eta.Cache
	speedMps   float64
	providerID string

	logger *slog.Logger
	router *mux.Router
}

func NewServer(opts Options) *Server {
	speed := opts.DefaultSpeedMps
	if speed <= 0 {
		speed = 10
	}
	s := &Server{
		store:      opts.Store,
		push:       NewPushRegistry(opts.Logger),
		events:     opts.Events,
		payments:   opts.Payments,
		tokens:     opts.Tokens,
		etaClient:  opts.ETAClient,
		etaCache:   opts.ETACache,
		speedMps:   speed,
		providerID: opts.ProviderID,
		logger:     opts.Logger,
		router:     mux.NewRouter(),
	}
	s.matcher = &Matcher{Store: opts.Store, Logger: opts.Logger}
	s.registerMiddleware()
	s.routes()
	return s
}

// Matcher exposes the server's matcher so the binary can run the
// periodic sweep alongside the listener.
func (s *Server) Matcher() *Matcher { return s.matcher }

func (s *Server) routes() {
	s.router.HandleFunc("/trip/new", s.handleCreateTrip).Methods(http.MethodPost)
	s.router.HandleFunc("/trip/{tripID}", s.handleGetTrip).Methods(http.MethodGet)
	s.router.HandleFunc("/trip/{tripID}", s.handleUpdateTrip).Methods(http.MethodPut)
	s.router.HandleFunc("/vehicle/new", s.handleCreateVehicle).Methods(http.MethodPost)
	s.router.HandleFunc("/vehicle/{vehicleID}", s.handleGetVehicle).Methods(http.MethodGet)
	s.router.HandleFunc("/token/consumer/{id}", s.handleToken("consumer")).Methods(http.MethodGet)
	s.router.HandleFunc("/token/driver/{id}", s.handleToken("driver")).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/trip/{tripID}", s.handleTripStream)
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

type createTripRequest struct {
	Pickup                   models.LatLng   `json:"pickup"`
	Dropoff                  models.LatLng   `json:"dropoff"`
	IntermediateDestinations []models.LatLng `json:"intermediateDestinations"`
}

func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var req createTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tripID := "trip-" + newID()
	now := time.Now()
	trip := &TripRecord{
		ID:        tripID,
		Status:    models.TripStatusNew,
		Waypoints: s.buildWaypoints(tripID, req),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if s.payments != nil {
		intentID, err := s.payments.Hold(r.Context(), tripID, fareFor(trip.Waypoints))
		if err != nil {
			s.logger.Warn("fare hold failed, continuing unpaid", "trip_id", tripID, "error", err)
		} else {
			trip.PaymentIntentID = intentID
		}
	}

	if err := s.store.CreateTrip(r.Context(), trip); err != nil {
		s.logger.Error("trip create failed", "trip_id", tripID, "error", err)
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	observability.TripsCreatedTotal.Inc()
	s.publishEvent(trip)

	if _, err := s.matcher.AssignTrip(r.Context(), trip); err != nil {
		s.logger.Warn("immediate match failed, trip left for sweep", "trip_id", tripID, "error", err)
	}

	s.writeJSON(w, map[string]string{"name": tripID})
}

// buildWaypoints lays out pickup, intermediate stops and dropoff in
// ride order, annotated with leg distance and an ETA estimate.
func (s *Server) buildWaypoints(tripID string, req createTripRequest) []models.TripWaypoint {
	points := make([]models.TripWaypoint, 0, len(req.IntermediateDestinations)+2)
	add := func(p models.LatLng, typ models.WaypointType) {
		points = append(points, models.TripWaypoint{
			Location: models.LocationAt(p.Latitude, p.Longitude),
			TripID:   tripID,
			Type:     typ,
		})
	}
	add(req.Pickup, models.WaypointTypePickup)
	for _, dest := range req.IntermediateDestinations {
		add(dest, models.WaypointTypeIntermediateDestination)
	}
	add(req.Dropoff, models.WaypointTypeDropoff)

	for i := 1; i < len(points); i++ {
		from := points[i-1].Location.WirePoint()
		to := points[i].Location.WirePoint()
		points[i].DistanceToPreviousMeters = geo.Haversine(from, to)
		points[i].ETASeconds = s.estimateSeconds(from, to)
	}
	return points
}

func (s *Server) estimateSeconds(from, to models.LatLng) float64 {
	if s.etaCache != nil {
		if v, ok := s.etaCache.Get(from, to); ok {
			return v
		}
	}
	if s.etaClient != nil {
		if v, err := s.etaClient.EstimateSeconds(from, to); err == nil {
			if s.etaCache != nil {
				s.etaCache.Set(from, to, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(from, to, s.speedMps)
}

func fareFor(waypoints []models.TripWaypoint) int64 {
	var meters float64
	for _, wp := range waypoints {
		meters += wp.DistanceToPreviousMeters
	}
	return fareBaseCents + int64(meters*fareCentsPerMeter)
}

type wireWaypoint struct {
	Location struct {
		Point models.LatLng `json:"point"`
	} `json:"location"`
	WaypointType   string  `json:"waypointType"`
	DistanceMeters float64 `json:"distanceMeters"`
	ETASeconds     float64 `json:"etaSeconds"`
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	trip, ok := s.loadTrip(w, r)
	if !ok {
		return
	}

	waypoints := make([]wireWaypoint, 0, len(trip.Waypoints))
	for _, wp := range trip.Waypoints {
		var out wireWaypoint
		out.Location.Point = wp.Location.WirePoint()
		out.WaypointType = wp.Type.WireString()
		out.DistanceMeters = wp.DistanceToPreviousMeters
		out.ETASeconds = wp.ETASeconds
		waypoints = append(waypoints, out)
	}
	s.writeJSON(w, map[string]any{
		"trip": map[string]any{
			"name":       trip.ID,
			"tripStatus": string(trip.Status),
			"waypoints":  waypoints,
		},
	})
}

type updateTripRequest struct {
	Status                       string `json:"status"`
	IntermediateDestinationIndex *int   `json:"intermediateDestinationIndex"`
}

func (s *Server) handleUpdateTrip(w http.ResponseWriter, r *http.Request) {
	trip, ok := s.loadTrip(w, r)
	if !ok {
		return
	}
	var req updateTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	status := models.ParseTripStatus(req.Status)
	if status == models.TripStatusUnknown {
		http.Error(w, fmt.Sprintf("unknown trip status %q", req.Status), http.StatusBadRequest)
		return
	}

	trip.Status = status
	if req.IntermediateDestinationIndex != nil {
		trip.IntermediateDestinationIndex = *req.IntermediateDestinationIndex
	}
	trip.UpdatedAt = time.Now()
	if err := s.store.UpdateTrip(r.Context(), trip); err != nil {
		s.logger.Error("trip update failed", "trip_id", trip.ID, "error", err)
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	observability.TripStatusUpdatesTotal.WithLabelValues(string(status)).Inc()
	s.publishEvent(trip)
	s.push.Publish(trip.ID, status)

	if status.Terminal() {
		s.settleTrip(r.Context(), trip)
	}
	s.writeJSON(w, map[string]string{"name": trip.ID})
}

// settleTrip releases vehicle capacity, settles the fare hold and
// closes the push channel once a trip reaches a terminal status.
func (s *Server) settleTrip(ctx context.Context, trip *TripRecord) {
	if err := s.matcher.ReleaseTrip(ctx, trip); err != nil {
		s.logger.Warn("vehicle release failed", "trip_id", trip.ID, "error", err)
	}
	if s.payments != nil && trip.PaymentIntentID != "" {
		var err error
		if trip.Status == models.TripStatusComplete {
			err = s.payments.Capture(ctx, trip.PaymentIntentID)
		} else {
			err = s.payments.Cancel(ctx, trip.PaymentIntentID)
		}
		if err != nil {
			s.logger.Warn("fare settlement failed", "trip_id", trip.ID,
				"payment_intent", trip.PaymentIntentID, "error", err)
		}
	}
	s.push.Drop(trip.ID)
}

type createVehicleRequest struct {
	VehicleID         string `json:"vehicleId"`
	BackToBackEnabled bool   `json:"backToBackEnabled"`
}

func (s *Server) handleCreateVehicle(w http.ResponseWriter, r *http.Request) {
	var req createVehicleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.VehicleID == "" {
		http.Error(w, "vehicleId is required", http.StatusBadRequest)
		return
	}

	vehicle := &VehicleRecord{
		ID:                req.VehicleID,
		BackToBackEnabled: req.BackToBackEnabled,
		Online:            true,
		CreatedAt:         time.Now(),
	}
	if err := s.store.CreateVehicle(r.Context(), vehicle); err != nil {
		s.logger.Error("vehicle create failed", "vehicle_id", req.VehicleID, "error", err)
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	observability.VehiclesOnline.Inc()

	// A fresh vehicle may unblock waiting trips.
	if err := s.matcher.Sweep(r.Context()); err != nil {
		s.logger.Warn("match sweep after vehicle create failed", "error", err)
	}

	s.writeJSON(w, map[string]string{
		"name": fmt.Sprintf("providers/%s/vehicles/%s", s.providerID, req.VehicleID),
	})
}

func (s *Server) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	vehicleID := mux.Vars(r)["vehicleID"]
	vehicle, err := s.store.GetVehicle(r.Context(), vehicleID)
	if err == ErrNotFound {
		http.Error(w, "vehicle not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("vehicle load failed", "vehicle_id", vehicleID, "error", err)
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}

	tripIDs := vehicle.TripIDs
	if tripIDs == nil {
		tripIDs = []string{}
	}
	s.writeJSON(w, map[string]any{
		"name":              fmt.Sprintf("providers/%s/vehicles/%s", s.providerID, vehicle.ID),
		"backToBackEnabled": vehicle.BackToBackEnabled,
		"currentTripsIds":   tripIDs,
	})
}

func (s *Server) handleToken(role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.tokens == nil {
			http.Error(w, "token signing not configured", http.StatusServiceUnavailable)
			return
		}
		subject := mux.Vars(r)["id"]
		signed, expiresAtMillis, err := s.tokens.Sign(role, subject)
		if err != nil {
			s.logger.Error("token signing failed", "role", role, "subject", subject, "error", err)
			http.Error(w, "signing error", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]any{
			"jwt":                 signed,
			"expirationTimestamp": expiresAtMillis,
		})
	}
}

var upgrader = websocket.Upgrader{
	// The demo apps connect from arbitrary local origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleTripStream(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["tripID"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.push.Add(tripID, conn)
	s.logger.Debug("trip stream subscribed", "trip_id", tripID)
}

func (s *Server) loadTrip(w http.ResponseWriter, r *http.Request) (*TripRecord, bool) {
	tripID := mux.Vars(r)["tripID"]
	trip, err := s.store.GetTrip(r.Context(), tripID)
	if err == ErrNotFound {
		http.Error(w, "trip not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.logger.Error("trip load failed", "trip_id", tripID, "error", err)
		http.Error(w, "store error", http.StatusInternalServerError)
		return nil, false
	}
	return trip, true
}

func (s *Server) publishEvent(trip *TripRecord) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(trip.ID, trip.VehicleID, trip.Status); err != nil {
		s.logger.Warn("trip event publish failed", "trip_id", trip.ID, "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func newID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
