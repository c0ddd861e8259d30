/*
Copyright 2023-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// This file is to handle things such as metrics/health/view state, etc

package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/couchbase/stellar-discovery/consistency"
	"github.com/couchbase/stellar-discovery/topology"
	"github.com/couchbase/stellar-discovery/viewstate"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// ViewStateSource exposes the state of a view-state manager.
type ViewStateSource interface {
	Status() *viewstate.Status
}

// BarrierControl lists and releases the syncs parked on a consistency barrier.
type BarrierControl interface {
	Waiters() []*consistency.BarrierWaiter
	Signal(syncToken string) bool
	SignalAny() bool
	SignalAll() int
}

type WebServerOptions struct {
	Logger        *zap.Logger
	LogLevel      *zap.AtomicLevel
	ListenAddress string

	ViewState ViewStateSource
	EventLog  *topology.EventLog
	Barrier   BarrierControl
	Debug     bool
}

type WebServer struct {
	logger        *zap.Logger
	logLevel      *zap.AtomicLevel
	listenAddress string
	viewState     ViewStateSource
	eventLog      *topology.EventLog
	barrier       BarrierControl
	debug         bool

	lock       sync.Mutex
	httpServer *http.Server
}

type barrierWaiterJson struct {
	SyncToken string         `json:"syncToken"`
	View      *topology.View `json:"view"`
}

type barrierSignalJson struct {
	Released int `json:"released"`
}

type healthJson struct {
	Status         string `json:"status"`
	Lifecycle      string `json:"lifecycle"`
	SyncToken      string `json:"syncToken,omitempty"`
	InFlightEvents int    `json:"inFlightEvents"`
}

func NewWebServer(opts WebServerOptions) *WebServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebServer{
		logger:        logger,
		logLevel:      opts.LogLevel,
		listenAddress: opts.ListenAddress,
		viewState:     opts.ViewState,
		eventLog:      opts.EventLog,
		barrier:       opts.Barrier,
		debug:         opts.Debug,
	}
}

func (w *WebServer) writeJson(rw http.ResponseWriter, statusCode int, data interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode)

	err := json.NewEncoder(rw).Encode(data)
	if err != nil {
		w.logger.Debug("failed to write json response", zap.Error(err))
	}
}

func (w *WebServer) handleRoot(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(http.StatusOK)
	_, err := rw.Write([]byte("Welcome to the stellar discovery internal webapi"))
	if err != nil {
		w.logger.Debug("failed to write generic root response", zap.Error(err))
	}
}

func (w *WebServer) handleHealth(rw http.ResponseWriter, r *http.Request) {
	status := w.viewState.Status()

	resp := healthJson{
		Status:         "unavailable",
		Lifecycle:      status.Lifecycle.String(),
		InFlightEvents: status.InFlightEvents,
	}

	statusCode := http.StatusServiceUnavailable
	if status.Lifecycle == viewstate.LifecycleActivated && status.CurrentView != nil {
		statusCode = http.StatusOK
		resp.Status = "ok"
		resp.SyncToken = status.CurrentView.SyncToken
	}

	w.writeJson(rw, statusCode, resp)
}

func (w *WebServer) handleView(rw http.ResponseWriter, r *http.Request) {
	w.writeJson(rw, http.StatusOK, w.viewState.Status())
}

func (w *WebServer) handleEvents(rw http.ResponseWriter, r *http.Request) {
	if w.eventLog == nil {
		http.Error(rw, "event log is not enabled", http.StatusNotFound)
		return
	}

	events := w.eventLog.Events()

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			http.Error(rw, "invalid limit", http.StatusBadRequest)
			return
		}

		if limit < len(events) {
			events = events[len(events)-limit:]
		}
	}

	if events == nil {
		events = []*topology.Event{}
	}

	w.writeJson(rw, http.StatusOK, events)
}

func (w *WebServer) handleBarrierWaiters(rw http.ResponseWriter, r *http.Request) {
	waiters := w.barrier.Waiters()

	resp := make([]barrierWaiterJson, 0, len(waiters))
	for _, waiter := range waiters {
		resp = append(resp, barrierWaiterJson{
			SyncToken: waiter.SyncToken,
			View:      waiter.View,
		})
	}

	w.writeJson(rw, http.StatusOK, resp)
}

// handleBarrierSignal releases the waiter for ?syncToken=, every waiter for
// ?all=true, or otherwise the oldest waiter.
func (w *WebServer) handleBarrierSignal(rw http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	released := 0
	switch {
	case query.Get("all") == "true":
		released = w.barrier.SignalAll()
	case query.Has("syncToken"):
		if w.barrier.Signal(query.Get("syncToken")) {
			released = 1
		}
	default:
		if w.barrier.SignalAny() {
			released = 1
		}
	}

	w.logger.Info("barrier signalled",
		zap.String("syncToken", query.Get("syncToken")),
		zap.Int("released", released))

	statusCode := http.StatusOK
	if released == 0 {
		statusCode = http.StatusNotFound
	}

	w.writeJson(rw, statusCode, barrierSignalJson{Released: released})
}

// Handler returns the full handler chain of the web server.
func (w *WebServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", w.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/view", w.handleView).Methods(http.MethodGet)
	r.HandleFunc("/events", w.handleEvents).Methods(http.MethodGet)
	if w.logLevel != nil {
		r.Handle("/loglevel", w.logLevel).Methods(http.MethodGet, http.MethodPut)
	}
	if w.barrier != nil {
		r.HandleFunc("/barrier", w.handleBarrierWaiters).Methods(http.MethodGet)
		r.HandleFunc("/barrier/signal", w.handleBarrierSignal).Methods(http.MethodPost)
	}
	r.HandleFunc("/", w.handleRoot)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost},
		Debug:          w.debug,
	})

	return otelhttp.NewHandler(c.Handler(r), "webapi")
}

func (w *WebServer) Serve(l net.Listener) error {
	w.lock.Lock()
	w.httpServer = &http.Server{
		Handler:      w.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	httpServer := w.httpServer
	w.lock.Unlock()

	err := httpServer.Serve(l)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (w *WebServer) ListenAndServe() error {
	l, err := net.Listen("tcp", w.listenAddress)
	if err != nil {
		return err
	}

	return w.Serve(l)
}

func (w *WebServer) Shutdown(ctx context.Context) error {
	w.lock.Lock()
	httpServer := w.httpServer
	w.lock.Unlock()

	if httpServer == nil {
		return nil
	}

	httpServer.SetKeepAlivesEnabled(false)
	return httpServer.Shutdown(ctx)
}

var globalWebLock sync.Mutex
var globalWebServer *WebServer = nil

// InitializeWebServer starts the process wide web server in the background,
// later calls return the already running server.
func InitializeWebServer(opts WebServerOptions) *WebServer {
	globalWebLock.Lock()
	if globalWebServer != nil {
		globalWebLock.Unlock()
		return globalWebServer
	}

	globalWebServer = NewWebServer(opts)
	webServer := globalWebServer
	globalWebLock.Unlock()

	go func() {
		err := webServer.ListenAndServe()
		if err != nil {
			webServer.logger.Error("failed to listen and serve web server", zap.Error(err))
		}
	}()

	return webServer
}
