package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
)

type Server struct {
	Coord  *dispatch.Coordinator
	Store  storage.RideStore
	Stats  storage.StatsStore
	Hub    *notify.Hub
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(coord *dispatch.Coordinator, store storage.RideStore, stats storage.StatsStore, hub *notify.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Coord: coord, Store: store, Stats: stats, Hub: hub, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rides", s.handleCreateRide).Methods("POST")
	api.HandleFunc("/rides/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/rides/{id}/status", s.handleStatus).Methods("PUT")
	api.HandleFunc("/rides/{id}/cancel", s.handleCancel).Methods("PUT")
	api.HandleFunc("/drivers/availability", s.handleAvailability).Methods("PUT")
	api.HandleFunc("/drivers/location", s.handleLocation).Methods("PUT")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	s.mux.HandleFunc("/ws/driver/{id}", s.handleWS("driver"))
	s.mux.HandleFunc("/ws/passenger/{id}", s.handleWS("passenger"))
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// actorFrom resolves the calling party from identity headers. Authentication
// proper is handled upstream; these headers arrive verified.
func actorFrom(r *http.Request) dispatch.Actor {
	if id := r.Header.Get("X-Driver-ID"); id != "" {
		return dispatch.Actor{Role: "driver", ID: id}
	}
	if id := r.Header.Get("X-User-ID"); id != "" {
		return dispatch.Actor{Role: "passenger", ID: id}
	}
	return dispatch.Actor{}
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.Role != "passenger" {
		writeError(w, dispatch.ErrUnauthorized)
		return
	}
	var body struct {
		Pickup        models.Coord        `json:"pickup"`
		Destination   models.Coord        `json:"destination"`
		VehicleClass  models.VehicleClass `json:"vehicle_class"`
		PaymentMethod string              `json:"payment_method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rideOut, err := s.Coord.RequestRide(r.Context(), models.RideRequest{
		PassengerID:   actor.ID,
		Pickup:        body.Pickup,
		Destination:   body.Destination,
		VehicleClass:  body.VehicleClass,
		PaymentMethod: body.PaymentMethod,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	// The passenger is the only party given the pickup code; Ride itself
	// never serializes it.
	writeJSON(w, http.StatusCreated, struct {
		models.Ride
		PickupCode string `json:"pickup_code"`
	}{rideOut, rideOut.PickupCode})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.Role != "driver" {
		writeError(w, dispatch.ErrUnauthorized)
		return
	}
	rideOut, err := s.Coord.Accept(r.Context(), mux.Vars(r)["id"], actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rideOut)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status     models.RideStatus `json:"status"`
		PickupCode string            `json:"pickup_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rideOut, err := s.Coord.UpdateStatus(r.Context(), mux.Vars(r)["id"], actorFrom(r), body.Status, body.PickupCode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rideOut)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Reason == "" {
		body.Reason = "cancelled by " + actorFrom(r).Role
	}
	rideOut, err := s.Coord.Cancel(r.Context(), mux.Vars(r)["id"], actorFrom(r), body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rideOut)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	rideOut, err := s.Coord.GetRide(mux.Vars(r)["id"], actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rideOut)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.ID == "" {
		writeError(w, dispatch.ErrUnauthorized)
		return
	}
	rides, err := s.Store.History(actor.ID, 50)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rides": rides})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	var (
		stats storage.PartyStats
		err   error
	)
	switch actor.Role {
	case "driver":
		stats, err = s.Stats.DriverStats(actor.ID)
	case "passenger":
		stats, err = s.Stats.RiderStats(actor.ID)
	default:
		writeError(w, dispatch.ErrUnauthorized)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.Role != "driver" {
		writeError(w, dispatch.ErrUnauthorized)
		return
	}
	var body struct {
		Online       bool                `json:"online"`
		VehicleClass models.VehicleClass `json:"vehicle_class"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Coord.SetAvailability(actor.ID, body.Online, body.VehicleClass); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.Role != "driver" {
		writeError(w, dispatch.ErrUnauthorized)
		return
	}
	var body models.Coord
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Coord.DriverLocation(r.Context(), actor.ID, body); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "upgrade failed", http.StatusBadRequest)
			return
		}
		party := notify.Party{Role: role, ID: id}
		s.Hub.Add(party, conn)
		// Reader loop keeps the connection alive and removes the session on
		// disconnect; inbound frames are ignored (clients publish via REST).
		// A driver disconnect additionally releases any idle reservation.
		go func() {
			defer func() {
				s.Hub.Remove(party)
				_ = conn.Close()
				if role == "driver" {
					s.Coord.DriverDisconnected(id)
				}
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var ite *ride.InvalidTransitionError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dispatch.ErrValidation), errors.Is(err, dispatch.ErrBadPickupCode), errors.As(err, &ite):
		status = http.StatusBadRequest
	case errors.Is(err, dispatch.ErrUnauthorized), errors.Is(err, dispatch.ErrNotOffered):
		status = http.StatusForbidden
	case errors.Is(err, ride.ErrNotFound), errors.Is(err, storage.ErrRideNotFound), errors.Is(err, presence.ErrUnknownDriver):
		status = http.StatusNotFound
	case errors.Is(err, ride.ErrAlreadyAssigned), errors.Is(err, dispatch.ErrOfferExpired), errors.Is(err, presence.ErrNotAvailable), errors.Is(err, presence.ErrOffline):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
