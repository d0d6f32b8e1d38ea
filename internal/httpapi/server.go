package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"upscaled/internal/inference"
	"upscaled/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Invoke(ctx context.Context, req types.InvocationRequest) (inference.Reply, error)
	Ready() bool
}

// NewMux builds the router for svc.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Compress(5))
	if corsEnabled {
		origins, methods, headers := corsDefaults()
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: methods,
			AllowedHeaders: headers,
			MaxAge:         300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/invocations", invocationsHandler(svc))

	ready := func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	}
	r.Get("/ping", ready)
	r.Get("/readyz", ready)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: svc.ListModels()})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// invocationsHandler godoc
// @Summary      Enhance one image or a batch
// @Description  Upscales the image(s) referenced by local paths or s3:// URIs.
// @Tags         inference
// @Accept       json
// @Produce      json
// @Param        request  body      types.InvocationRequest  true  "Single item or batch"
// @Success      200      {object}  types.BatchResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      500      {object}  types.ItemResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /invocations [post]
func invocationsHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			IncrementRejection("content_type")
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		if !svc.Ready() {
			IncrementRejection("not_ready")
			writeJSONError(w, http.StatusServiceUnavailable, "models are still loading")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.InvocationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			IncrementRejection("invalid_json")
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		lvl := requestLogLevel(r)
		start := time.Now()
		if lvl >= LevelDebug {
			ev := zlog.Debug().Bool("batch", req.IsBatch()).Str("job_id", req.JobID.String())
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				ev = ev.Str("request_id", rid)
			}
			ev.Msg("invocation start")
		}

		// Shutdown of the server base context cancels in-flight work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if invocationTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, invocationTimeout)
			defer tcancel()
		}

		reply, err := svc.Invoke(ctx, req)
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			// Client went away or the server is stopping; nobody reads a body.
			logInvocation(r, lvl, 499, start, context.Canceled)
			return
		}
		if err != nil {
			status := statusFor(err)
			if status == http.StatusBadRequest {
				IncrementRejection("validation")
			}
			writeJSONError(w, status, err.Error())
			logInvocation(r, lvl, status, start, err)
			return
		}
		writeJSON(w, reply.Status, reply.Body)
		logInvocation(r, lvl, reply.Status, start, nil)
	}
}
