package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"plugin-jobs/internal/logger"
	"plugin-jobs/internal/plugin"
	"plugin-jobs/internal/registry"
	"plugin-jobs/internal/resolver"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: msg}})
}

// respondErr maps domain errors onto HTTP statuses.
func respondErr(w http.ResponseWriter, err error) {
	var rej *plugin.RejectionError
	var enum *resolver.EnumerationError
	switch {
	case errors.Is(err, plugin.ErrUnknownCommand):
		respondError(w, http.StatusNotFound, "UNKNOWN_COMMAND", err.Error())
	case errors.As(err, &rej) && rej.Reason == plugin.ReasonInvalidParams:
		respondError(w, http.StatusBadRequest, "INVALID_PARAMS", rej.Message)
	case errors.As(err, &rej):
		respondError(w, http.StatusForbidden, "REJECTED", rej.Message)
	case errors.Is(err, resolver.ErrParse):
		respondError(w, http.StatusBadRequest, "INVALID_URL", err.Error())
	case errors.Is(err, resolver.ErrEmptyPlaylist):
		respondError(w, http.StatusUnprocessableEntity, "EMPTY_PLAYLIST", err.Error())
	case errors.As(err, &enum):
		respondError(w, http.StatusBadGateway, "ENUMERATION_FAILED", err.Error())
	case errors.Is(err, registry.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic in handler",
						logger.String("path", r.URL.Path),
						logger.String("panic", fmt.Sprint(rec)),
						logger.String("stack", string(debug.Stack())),
					)
					respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", fmt.Sprintf("panic: %v", rec))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", ww.Status()),
				logger.Duration("elapsed", time.Since(started)),
				logger.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
