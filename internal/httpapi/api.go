// Package httpapi serves the HTTP side of the service: delivery photo
// uploads, which do not fit a unary RPC, and the health check.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tomasmejiag0/puracalle-food/internal/auth"
	"github.com/tomasmejiag0/puracalle-food/internal/blob"
	"github.com/tomasmejiag0/puracalle-food/internal/logger"
	"github.com/tomasmejiag0/puracalle-food/internal/orders"
	"github.com/tomasmejiag0/puracalle-food/models"
)

// MaxPhotoBytes bounds an uploaded photo.
const MaxPhotoBytes = 10 << 20

// Evidence stores delivery photos.
type Evidence interface {
	AttachEvidence(ctx context.Context, orderID, courierID string, photo io.Reader) (*models.DeliveryPhoto, error)
}

// Pinger reports storage health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options configures the router.
type Options struct {
	Secret         string
	AllowedOrigins []string
	Log            logger.ILogger
	DB             Pinger
}

type api struct {
	evidence Evidence
	db       Pinger
	log      logger.ILogger
}

// NewRouter returns the HTTP handler.
func NewRouter(ev Evidence, opts Options) http.Handler {
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	a := &api{evidence: ev, db: opts.DB, log: opts.Log}

	r := chi.NewMux()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(opts.Log))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}).Handler)

	r.Get("/healthz", a.health)
	r.Route("/v1", func(r chi.Router) {
		r.Use(authenticate(opts.Secret))
		r.Post("/orders/{orderID}/evidence", a.uploadEvidence)
	})
	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if a.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.db.PingContext(ctx); err != nil {
			a.log.Warning("health check failed", logger.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type evidenceResponse struct {
	OrderID  string    `json:"order_id"`
	PhotoRef string    `json:"photo_ref"`
	StoredAt time.Time `json:"stored_at"`
}

// uploadEvidence accepts the photo as a multipart "photo" field or as a raw
// image body.
func (a *api) uploadEvidence(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok || p.Kind != auth.KindCourier {
		writeError(w, http.StatusForbidden, "Only couriers can upload delivery photos.")
		return
	}
	orderID := chi.URLParam(r, "orderID")
	r.Body = http.MaxBytesReader(w, r.Body, MaxPhotoBytes)

	photo, closeFn, err := photoReader(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer closeFn()

	rec, err := a.evidence.AttachEvidence(r.Context(), orderID, p.Name, photo)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "The photo is too large.")
			return
		}
		a.log.Info("evidence upload rejected", logger.String("order_id", orderID), logger.Error(err))
		writeError(w, statusOf(err), orders.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusCreated, evidenceResponse{OrderID: rec.OrderID, PhotoRef: rec.PhotoRef, StoredAt: rec.UpdatedAt})
}

func photoReader(r *http.Request) (io.Reader, func(), error) {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, nil, errors.New("missing or invalid Content-Type")
	}
	switch {
	case ct == "multipart/form-data":
		f, _, err := r.FormFile("photo")
		if err != nil {
			return nil, nil, errors.New("multipart field \"photo\" is required")
		}
		return f, func() { _ = f.Close() }, nil
	case strings.HasPrefix(ct, "image/"):
		return r.Body, func() {}, nil
	}
	return nil, nil, errors.New("photo must be an image or multipart form")
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, orders.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, orders.ErrInvalidArgument), errors.Is(err, blob.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
