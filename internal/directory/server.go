package directory

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"cipherroom/internal/domain"
	"cipherroom/internal/logging"
	"cipherroom/internal/relay"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Server exposes a Registry over HTTP.
type Server struct {
	reg    *Registry
	router *mux.Router
	log    *logrus.Entry
}

// NewServer builds the router for reg.
func NewServer(reg *Registry) *Server {
	s := &Server{reg: reg, router: mux.NewRouter().UseEncodedPath(), log: logging.For("directory")}
	s.router.Use(s.accessLog)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/keys", s.handlePublishKeys).Methods(http.MethodPost)
	s.router.HandleFunc("/keys/{userId}", s.handleFetchKeys).Methods(http.MethodGet)
	s.router.HandleFunc("/keys/{userId}/{deviceId}", s.handleFetchDeviceKeys).Methods(http.MethodGet)
	s.router.HandleFunc("/devices/{userId}", s.handleListDevices).Methods(http.MethodGet)
	s.router.HandleFunc("/room/{roomId}/shared-key", s.handlePublishRoomKey).Methods(http.MethodPost)
	s.router.HandleFunc("/room/{roomId}/shared-key", s.handleFetchRoomKey).Methods(http.MethodGet)
	s.router.HandleFunc("/room/{roomId}/shared-key/{version:[0-9]+}", s.handleFetchRoomKey).Methods(http.MethodGet)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePublishKeys(w http.ResponseWriter, r *http.Request) {
	var reg domain.KeyRegistration
	if err := decodeBody(w, r, &reg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := relay.ValidateRegistration(reg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.reg.Register(reg)
	s.log.WithFields(logrus.Fields{
		"user":     reg.UserID,
		"device":   reg.DeviceID,
		"one_time": len(reg.OneTimePreKeys),
	}).Info("keys registered")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFetchKeys(w http.ResponseWriter, r *http.Request) {
	user := domain.UserID(pathVar(r, "userId"))
	keys, ok := s.reg.TakeKeys(user)
	if !ok {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) handleFetchDeviceKeys(w http.ResponseWriter, r *http.Request) {
	addr := domain.DeviceAddress{
		UserID:   domain.UserID(pathVar(r, "userId")),
		DeviceID: domain.DeviceID(pathVar(r, "deviceId")),
	}
	dev, ok := s.reg.TakeDeviceKeys(addr)
	if !ok {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	user := domain.UserID(pathVar(r, "userId"))
	ids, ok := s.reg.Devices(user)
	if !ok {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, domain.DeviceList{UserID: user, Devices: ids})
}

func (s *Server) handlePublishRoomKey(w http.ResponseWriter, r *http.Request) {
	room := domain.RoomID(pathVar(r, "roomId"))
	var upload domain.RoomKeyUpload
	if err := decodeBody(w, r, &upload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if upload.Sender.IsZero() {
		http.Error(w, "sender missing", http.StatusBadRequest)
		return
	}
	if err := s.reg.PutRoomKey(room, upload); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrVersionConflict) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.log.WithFields(logrus.Fields{
		"room":    room,
		"version": upload.Version,
		"members": len(upload.EncryptedKeys),
	}).Info("room key stored")
	writeJSON(w, http.StatusOK, map[string]any{"roomId": room, "version": upload.Version})
}

func (s *Server) handleFetchRoomKey(w http.ResponseWriter, r *http.Request) {
	room := domain.RoomID(pathVar(r, "roomId"))
	var version domain.KeyVersion
	if raw, ok := mux.Vars(r)["version"]; ok {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || v == 0 {
			http.Error(w, "bad version", http.StatusBadRequest)
			return
		}
		version = domain.KeyVersion(v)
	}
	rec, ok := s.reg.RoomKey(room, version)
	if !ok {
		http.Error(w, "room key not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("request")
	})
}

// pathVar returns the unescaped route variable name. Routes match on the
// escaped path so ids may contain '/'.
func pathVar(r *http.Request, name string) string {
	raw := mux.Vars(r)[name]
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		return errors.Wrap(err, "invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
