package audit

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/noah-isme/backend-donasi/internal/common"
	"github.com/noah-isme/backend-donasi/internal/obs"
)

// HTTPRecorder writes an audit entry for every request that passes through
// its middleware, after the handler has produced a status.
type HTTPRecorder struct {
	Service   *Service
	OnError   func(error)
	ActorFunc func(*http.Request) Actor
}

// HTTPConfig describes one audited route. Empty Action and ResourceType are
// derived from the method and route pattern.
type HTTPConfig struct {
	Action          string
	ResourceType    string
	ResourceIDParam string
	MetadataFunc    func(*http.Request, int) map[string]any
	ActorFunc       func(*http.Request) Actor
}

// Middleware returns chi middleware recording entries shaped by cfg.
func (r HTTPRecorder) Middleware(cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if r.Service == nil || !r.Service.Enabled {
				next.ServeHTTP(w, req)
				return
			}
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)
			status := obs.ResponseStatus(ww)

			var resourceID string
			if cfg.ResourceIDParam != "" {
				resourceID = chi.URLParam(req, cfg.ResourceIDParam)
			}
			err := r.Service.Record(req.Context(), Event{
				Actor:        r.resolveActor(cfg, req),
				Action:       cfg.Action,
				ResourceType: cfg.ResourceType,
				ResourceID:   resourceID,
				Request:      req,
				Status:       status,
				Metadata:     cfg.metadata(req, status),
			})
			if err != nil && r.OnError != nil {
				r.OnError(err)
			}
		})
	}
}

func (cfg HTTPConfig) metadata(req *http.Request, status int) []byte {
	if cfg.MetadataFunc == nil {
		return nil
	}
	payload := cfg.MetadataFunc(req, status)
	if len(payload) == 0 {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

func (r HTTPRecorder) resolveActor(cfg HTTPConfig, req *http.Request) Actor {
	switch {
	case cfg.ActorFunc != nil:
		return cfg.ActorFunc(req)
	case r.ActorFunc != nil:
		return r.ActorFunc(req)
	}
	if adminID, ok := common.AdminID(req.Context()); ok {
		return Actor{Kind: ActorKindAdmin, AdminID: &adminID, Email: common.AdminEmail(req.Context())}
	}
	return Actor{Kind: ActorKindAnonymous}
}
