package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"contactlink/internal/contact/models"
	dErrors "contactlink/pkg/domain-errors"
	"contactlink/pkg/platform/httputil"
	request "contactlink/pkg/platform/middleware/request"
)

const maxBodyBytes = 1 << 20

// Service defines the interface for contact consolidation.
type Service interface {
	Identify(ctx context.Context, req *models.IdentifyRequest) (*models.ContactView, error)
}

// Handler serves the identify endpoint.
type Handler struct {
	logger   *slog.Logger
	contacts Service
	limit    func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithRateLimit wraps /identify in the given middleware.
func WithRateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.limit = mw
	}
}

// New creates a new contact Handler.
func New(contacts Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger:   logger,
		contacts: contacts,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the contact routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.limit != nil {
			r.Use(h.limit)
		}
		r.Post("/identify", h.handleIdentify)
	})
}

func (h *Handler) handleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, err := decodeIdentifyRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.WarnContext(ctx, "invalid identify request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	view, err := h.contacts.Identify(ctx, req)
	if err != nil {
		if dErrors.IsClientError(dErrors.CodeOf(err)) {
			h.logger.WarnContext(ctx, "identify rejected",
				"request_id", requestID,
				"error", err.Error(),
			)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, models.IdentifyResponse{Contact: view})
}

// decodeIdentifyRequest reads the body as a JSON object whose email and
// phoneNumber are strings or null, trims both and requires at least one.
func decodeIdentifyRequest(body io.Reader) (*models.IdentifyRequest, error) {
	var req models.IdentifyRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			switch typeErr.Field {
			case "email":
				return nil, dErrors.New(dErrors.CodeValidation, "email must be a string or null")
			case "phoneNumber":
				return nil, dErrors.New(dErrors.CodeValidation, "phoneNumber must be a string or null")
			}
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}
