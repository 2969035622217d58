package httpapi

import (
	"net/http"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/inbound"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DefaultBasePath     = "/webhooks"
	DefaultMetricsPath  = "/metrics"
	defaultMaxBodyBytes = 1 << 20
)

// Controller exposes the dispatch service and the inbound receiver over HTTP.
type Controller struct {
	service      core.WebhookService
	receiver     *inbound.Receiver
	gatherer     prometheus.Gatherer
	logger       core.Logger
	basePath     string
	metricsPath  string
	maxBodyBytes int64
}

type Option func(*Controller)

func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(c *Controller) {
		c.gatherer = gatherer
	}
}

func WithLogger(logger core.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithBasePath(path string) Option {
	return func(c *Controller) {
		path = "/" + strings.Trim(strings.TrimSpace(path), "/")
		if path != "/" {
			c.basePath = path
		}
	}
}

func WithMetricsPath(path string) Option {
	return func(c *Controller) {
		if path = strings.TrimSpace(path); path != "" {
			c.metricsPath = path
		}
	}
}

func WithMaxBodyBytes(limit int64) Option {
	return func(c *Controller) {
		if limit > 0 {
			c.maxBodyBytes = limit
		}
	}
}

func NewController(service core.WebhookService, receiver *inbound.Receiver, opts ...Option) *Controller {
	controller := &Controller{
		service:      service,
		receiver:     receiver,
		logger:       glog.Nop(),
		basePath:     DefaultBasePath,
		metricsPath:  DefaultMetricsPath,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(controller)
		}
	}
	return controller
}

func (c *Controller) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	if c.receiver != nil {
		router.HandleFunc("/incoming", c.Incoming).Methods(http.MethodPost)
		router.HandleFunc("/incoming/n8n", c.Incoming).Methods(http.MethodPost)
		router.HandleFunc("/prompt-callback", c.PromptCallback).Methods(http.MethodPost)
	}
	if c.service != nil {
		router.HandleFunc("/dispatch", c.Dispatch).Methods(http.MethodPost)
		router.HandleFunc("/dispatches", c.ListDispatches).Methods(http.MethodGet)
		router.HandleFunc("/dispatches/{id}", c.GetDispatch).Methods(http.MethodGet)
		router.HandleFunc("/dispatches/{id}/replay", c.ReplayDispatch).Methods(http.MethodPost)
	}
	if c.gatherer != nil {
		r.Handle(c.metricsPath, promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// NewRouter returns a router with the controller registered.
func NewRouter(controller *Controller) *mux.Router {
	router := mux.NewRouter()
	if controller != nil {
		controller.Register(router)
	}
	return router
}
