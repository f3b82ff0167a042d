package api

import (
	"context"
	_ "embed"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/n0needt0/go-goodies/log"
	"github.com/swaggest/openapi-go/openapi3"
	"github.com/swaggest/rest/web"
	swgui "github.com/swaggest/swgui/v5emb"
	"go.opentelemetry.io/otel/metric"

	"github.com/n0needt0/goodies/sbs-relay/config"
	"github.com/n0needt0/goodies/sbs-relay/logging"
	"github.com/n0needt0/goodies/sbs-relay/services"
)

//go:embed assets/dashboard.html
var dashboardHTML []byte

type API struct {
	Services   *services.Services
	ApiMetrics map[string]metric.Int64Counter
	HttpServer *http.Server
	sync.RWMutex
	Config *config.Config
}

// NewAPI creates a new dashboard API instance
func NewAPI(services *services.Services, conf *config.Config) *API {
	return &API{
		Services:   services,
		ApiMetrics: make(map[string]metric.Int64Counter),
		Config:     conf,
	}
}

// UseMetric returns the request counter for label, creating it on first use
func (api *API) UseMetric(label, description string) metric.Int64Counter {
	api.RLock()
	mtr, ok := api.ApiMetrics[label]
	api.RUnlock()
	if ok || api.Services.OtelMeter == nil {
		return mtr
	}

	m, err := api.Services.OtelMeter.Int64Counter(label, metric.WithDescription(description))
	if err != nil {
		log.Error("failed to init the metrics " + err.Error())
		return nil
	}
	api.Lock()
	api.ApiMetrics[label] = m
	api.Unlock()
	return m
}

func (api *API) count(ctx context.Context, label, description string) {
	if m := api.UseMetric(label, description); m != nil {
		m.Add(ctx, 1)
	}
}

// NewRouter returns the dashboard router: the documented JSON API plus the
// static dashboard page, all behind permissive CORS.
func (api *API) NewRouter() http.Handler {
	service := web.NewService(openapi3.NewReflector())

	service.OpenAPISchema().SetTitle("SBS Relay API")
	service.OpenAPISchema().SetDescription("Relay statistics and health")
	service.OpenAPISchema().SetVersion("v1.0.0")

	service.DecoderFactory.ApplyDefaults = true
	service.Wrap()

	service.Get("/api/stats", api.GetStats())
	service.Get("/api/v2/health", api.HealthCheck())

	service.Docs("/v2/docs", swgui.New)

	service.Router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
	})

	r := mux.NewRouter()
	r.Use(corsMiddleware)
	r.HandleFunc("/dashboard", api.serveDashboard).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(service)

	return r
}

func (api *API) serveDashboard(w http.ResponseWriter, r *http.Request) {
	api.count(r.Context(), "dashboard_page_views", "dashboard page requests")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(dashboardHTML)
}

// corsMiddleware allows any origin to GET or POST and answers preflights
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Serve serves http endpoints
func (api *API) Serve(address string, router http.Handler) {
	logging.Infof("Dashboard server started on %s", address)

	server := &http.Server{
		Addr:           address,
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	api.Lock()
	api.HttpServer = server
	api.Unlock()

	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		log.Info("Dashboard server closed")
	} else {
		log.Errorf("Dashboard server failed and closed: %v", err)
	}
}

// Stop stops the server
func (api *API) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	api.Lock()
	server := api.HttpServer
	api.HttpServer = nil
	api.Unlock()

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			log.Errorf("error shutting down dashboard server: %v", err)
		}
	}

	log.Info("Dashboard server shut down gracefully")
}
