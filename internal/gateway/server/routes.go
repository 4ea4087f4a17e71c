package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"diffgrid/internal/gateway/handler"
	"diffgrid/internal/gateway/middleware"
)

type RouteConfig struct {
	// RootPath prefixes the diffusion routes, e.g. "/api". Empty mounts
	// them at "/".
	RootPath   string
	AuthHeader string
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
}

func NewMux(diffusionHandler *handler.DiffusionHandler, cfg RouteConfig) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /prompts", diffusionHandler.HandlePrompts)
	api.HandleFunc("POST /diffusions", diffusionHandler.HandleRequestDiffusion)
	api.HandleFunc("GET /diffusions/{callID}", diffusionHandler.HandlePollDiffusion)
	api.HandleFunc("GET /diffusions/{callID}/watch", diffusionHandler.HandleWatchDiffusion)

	var protected http.Handler = middleware.RequireAuthorization(cfg.AuthHeader, api)

	mux := http.NewServeMux()
	if cfg.RootPath == "" {
		mux.Handle("/", protected)
	} else {
		mux.Handle(cfg.RootPath+"/", http.StripPrefix(cfg.RootPath, protected))
	}

	// Ops
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", handler.HandleHealthz)

	return middleware.CORS(middleware.RequestLog(cfg.Logger, mux))
}
