package display

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/reactive-labs/internal/labs"
	"github.com/signalsfoundry/reactive-labs/internal/logging"
	"github.com/signalsfoundry/reactive-labs/internal/observability"
	"github.com/signalsfoundry/reactive-labs/internal/products"
	"github.com/signalsfoundry/reactive-labs/internal/scenario"
	"github.com/signalsfoundry/reactive-labs/model"
)

// Server wires the catalog and product store to HTTP.
type Server struct {
	catalog   *Catalog
	products  *products.Store
	metrics   *observability.LabCollector
	log       logging.Logger
	upgrader  websocket.Upgrader
	pingEvery time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request metrics and serves /metrics.
func WithMetrics(c *observability.LabCollector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithLogger sets the request logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithProducts serves the product list from store.
func WithProducts(store *products.Store) Option {
	return func(s *Server) { s.products = store }
}

// NewServer builds a server over c.
func NewServer(c *Catalog, opts ...Option) *Server {
	s := &Server{
		catalog: c,
		log:     logging.Noop(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pingEvery: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LabSummary is one row of GET /labs.
type LabSummary struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	State       scenario.State `json:"state"`
	Commands    []string       `json:"commands,omitempty"`
}

// ProductList is the body of GET /products.
type ProductList struct {
	Products []model.Product `json:"products"`
	Total    float64         `json:"total"`
	Loading  bool            `json:"loading"`
	Error    string          `json:"error,omitempty"`
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware(routePattern))
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/labs", func(r chi.Router) {
		r.Get("/", s.listLabs)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.getLab)
			r.Post("/start", s.startLab)
			r.Post("/cancel", s.cancelLab)
			r.Post("/reset", s.resetLab)
			r.Post("/clear", s.clearLab)
			r.Post("/commands/{cmd}", s.commandLab)
			r.Get("/stream", s.streamLab)
		})
	})

	if s.products != nil {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", s.listProducts)
			r.Post("/", s.addProduct)
			r.Post("/refresh", s.refreshProducts)
			r.Delete("/{id}", s.removeProduct)
		})
	}
	return r
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug(r.Context(), "http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("duration", time.Since(start)),
			logging.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) machine(w http.ResponseWriter, r *http.Request) (*scenario.Machine, bool) {
	m, err := s.catalog.Machine(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return nil, false
	}
	return m, true
}

func (s *Server) listLabs(w http.ResponseWriter, r *http.Request) {
	names := s.catalog.Names()
	out := make([]LabSummary, 0, len(names))
	for _, name := range names {
		m, err := s.catalog.Machine(name)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		out = append(out, LabSummary{
			Name:        name,
			Description: m.Definition().Description(),
			State:       m.State(),
			Commands:    m.Commands(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getLab(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) startLab(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	started, err := m.Start(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	status := http.StatusOK
	if started {
		status = http.StatusAccepted
	}
	writeJSON(w, status, m.Snapshot())
}

func (s *Server) cancelLab(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	m.Cancel()
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) resetLab(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	m.Reset()
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) clearLab(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	m.Sink().Clear()
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) commandLab(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	if err := m.Command(chi.URLParam(r, "cmd"), r.URL.Query().Get("arg")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) productList() ProductList {
	out := ProductList{
		Products: s.products.Snapshot(),
		Total:    s.products.Total(),
		Loading:  s.products.Loading(),
	}
	if out.Products == nil {
		out.Products = []model.Product{}
	}
	if err := s.products.Err(); err != nil {
		out.Error = err.Error()
	}
	return out
}

func (s *Server) listProducts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.productList())
}

func (s *Server) refreshProducts(w http.ResponseWriter, r *http.Request) {
	// the load outlives the request
	s.products.Refresh(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusAccepted, s.productList())
}

func (s *Server) addProduct(w http.ResponseWriter, r *http.Request) {
	var p model.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid product body"))
		return
	}
	if p.ID <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("product id must be positive"))
		return
	}
	s.products.Add(p)
	writeJSON(w, http.StatusCreated, s.productList())
}

func (s *Server) removeProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid product id"))
		return
	}
	if !s.products.Remove(id) {
		writeError(w, http.StatusNotFound, errors.New("product not found"))
		return
	}
	writeJSON(w, http.StatusOK, s.productList())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, labs.ErrUnknownLab), errors.Is(err, scenario.ErrUnknownCommand):
		return http.StatusNotFound
	case errors.Is(err, scenario.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, scenario.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
