// Package pprof exposes runtime profiles and the chat loop's health report
// for debugging a running client.
package pprof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	netpprof "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/codefionn/streamchat/internal/actor"
	"github.com/codefionn/streamchat/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// HealthFunc produces the report served on /debug/health
type HealthFunc func() actor.HealthReport

// Config holds the profiling configuration
type Config struct {
	// HTTPAddr serves /debug/pprof/ and /debug/health when set (e.g. "localhost:6060")
	HTTPAddr string

	CPUProfile  string // written from Start until Stop
	HeapProfile string // written once on Stop

	Health HealthFunc
}

// Enabled reports whether any profiling was requested
func (c Config) Enabled() bool {
	return c.HTTPAddr != "" || c.CPUProfile != "" || c.HeapProfile != ""
}

// Handler manages profiling for the lifetime of the process
type Handler struct {
	config   Config
	server   *http.Server
	listener net.Listener
	cpuFile  *os.File

	mu       sync.Mutex
	stopping bool
}

// NewHandler creates a handler with the given configuration
func NewHandler(config Config) *Handler {
	return &Handler{config: config}
}

// Start begins CPU profiling and the HTTP server, whichever are configured
func (h *Handler) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.config.CPUProfile != "" {
		f, err := createProfileFile(h.config.CPUProfile)
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to start CPU profiling: %w", err)
		}
		h.cpuFile = f
	}

	if h.config.HTTPAddr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", h.config.HTTPAddr)
	if err != nil {
		h.stopCPU()
		return fmt.Errorf("failed to bind debug server: %w", err)
	}
	h.listener = ln
	h.server = &http.Server{
		Handler:           h.mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Debug server error: %v", err)
		}
	}()
	logger.Info("Debug server listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address of the HTTP server, or "" when none runs
func (h *Handler) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

func (h *Handler) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", netpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", netpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", netpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", netpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", netpprof.Trace)
	mux.HandleFunc("/debug/health", h.serveHealth)
	return mux
}

func (h *Handler) serveHealth(w http.ResponseWriter, _ *http.Request) {
	if h.config.Health == nil {
		http.Error(w, "no health source", http.StatusNotFound)
		return
	}

	report := h.config.Health()
	w.Header().Set("Content-Type", "application/json")
	if report.Status != actor.HealthStatusHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(report); err != nil {
		logger.Debug("Failed to write health report: %v", err)
	}
}

// Stop finishes profiles and shuts the server down. Later calls are no-ops.
func (h *Handler) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopping {
		return nil
	}
	h.stopping = true

	var errs []error
	if err := h.stopCPU(); err != nil {
		errs = append(errs, err)
	}

	if h.config.HeapProfile != "" {
		if err := writeHeapProfile(h.config.HeapProfile); err != nil {
			errs = append(errs, err)
		}
	}

	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown debug server: %w", err))
		}
		h.server = nil
		h.listener = nil
	}

	return errors.Join(errs...)
}

func (h *Handler) stopCPU() error {
	if h.cpuFile == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := h.cpuFile.Close()
	h.cpuFile = nil
	if err != nil {
		return fmt.Errorf("failed to close CPU profile: %w", err)
	}
	return nil
}

func createProfileFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile file: %w", err)
	}
	return f, nil
}

func writeHeapProfile(path string) error {
	f, err := createProfileFile(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return nil
}
