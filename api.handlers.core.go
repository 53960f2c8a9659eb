package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

var EmptyData = struct{}{}

// Statistics holds app stats for ops.
type Statistics struct {
	version   string
	container bool
	runtime   string
	platform  string
	called    uint64
	started   time.Time
	status    map[int]uint64
	mu        *sync.RWMutex
}

// Maintenance holds app maintenance mode infos.
type Maintenance struct {
	enabled atomic.Bool
	message string
	started time.Time
}

// APIHandler defines the API handler.
type APIHandler struct {
	logger         *zap.Logger
	config         *Config
	stats          *Statistics
	mode           *Maintenance
	clock          Clocker
	idsHandler     UIDHandler
	validator      *RequestValidator
	catalogService CatalogServiceProvider
	lendingService LendingServiceProvider
	journal        JournalStorage
}

// NewAPIHandler provides a new instance of APIHandler.
func NewAPIHandler(
	logger *zap.Logger,
	config *Config,
	stats *Statistics,
	clock Clocker,
	idsHandler UIDHandler,
	catalog CatalogServiceProvider,
	lending LendingServiceProvider,
	journal JournalStorage,
) *APIHandler {
	m := &Maintenance{}
	m.enabled.Store(false)
	stats.status = make(map[int]uint64)
	stats.mu = &sync.RWMutex{}
	return &APIHandler{
		logger:         logger,
		config:         config,
		stats:          stats,
		mode:           m,
		clock:          clock,
		idsHandler:     idsHandler,
		validator:      NewRequestValidator(),
		catalogService: catalog,
		lendingService: lending,
		journal:        journal,
	}
}

// Index provides same details like `Status` handler by redirecting the request.
func (api *APIHandler) Index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	http.Redirect(w, r, "/status", http.StatusSeeOther)
}

// Status provides basics details about the application to the public users.
func (api *APIHandler) Status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if err := json.NewEncoder(w).Encode(
		StatusResponse{
			RequestID: requestID,
			Status:    fmt.Sprintf("up & running since %.0f mins", api.clock.Now().Sub(api.stats.started).Minutes()),
			Message:   "Hello. Library api is available. Enjoy :)",
		},
	); err != nil {
		api.GetLoggerFromContext(r.Context()).Error("failed to send status response", zap.Error(err))
	}
}

// StatusFromError maps a failure kind to its http status code.
func StatusFromError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// ErrorReason returns the client facing description of a classified error.
// Unknown errors are never described to the client.
func ErrorReason(err error) string {
	msg := err.Error()
	for _, kind := range []error{ErrConflict, ErrInvalidArgument, ErrUnauthorized} {
		if !errors.Is(err, kind) {
			continue
		}
		if _, reason, ok := strings.Cut(msg, kind.Error()+": "); ok {
			return reason
		}
		return kind.Error()
	}
	if errors.Is(err, ErrNotFound) {
		if i := strings.LastIndex(msg, ": "); i >= 0 {
			return msg[i+2:]
		}
		return msg
	}
	return ""
}

// fail logs the failure once and sends the error envelope.
func (api *APIHandler) fail(w http.ResponseWriter, r *http.Request, status int, message string, data interface{}, err error) {
	logger := api.GetLoggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error(message, zap.Int("status", status), zap.Error(err))
	} else {
		logger.Warn(message, zap.Int("status", status), zap.Error(err))
	}
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	if werr := WriteErrorResponse(r.Context(), w, NewAPIError(requestID, status, message, data)); werr != nil {
		logger.Error("failed to send error response", zap.Error(werr))
	}
}

// failWith classifies err into a status code before sending the error envelope.
func (api *APIHandler) failWith(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := StatusFromError(err)
	var data interface{} = EmptyData
	if reason := ErrorReason(err); reason != "" {
		data = reason
	}
	api.fail(w, r, status, message, data, err)
}

// succeed sends the success envelope.
func (api *APIHandler) succeed(w http.ResponseWriter, r *http.Request, status int, message string, total *int, data interface{}) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	if err := WriteResponse(r.Context(), w, GenericResponse(requestID, status, message, total, data)); err != nil {
		api.GetLoggerFromContext(r.Context()).Error("failed to send response", zap.Error(err))
	}
}
