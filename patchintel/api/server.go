// Package api serves stored patches, statistics and run history over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/SiriusScan/patch-intel/patchintel/patch"
	"github.com/SiriusScan/patch-intel/patchintel/runs"
	"github.com/SiriusScan/patch-intel/patchintel/store"
	"gorm.io/gorm"
)

// Server is the read-only query API.
type Server struct {
	db      *gorm.DB
	patches *patch.Service
	// kv and runs are nil when valkey is disabled.
	kv     store.KVStore
	runs   *runs.Manager
	server *http.Server
}

// NewServer wires the API over db. kv may be nil, which disables run history
// and the statistics cache.
func NewServer(addr string, db *gorm.DB, kv store.KVStore) *Server {
	s := &Server{
		db:      db,
		patches: patch.NewService(db),
		kv:      kv,
	}
	if kv != nil {
		s.runs = runs.NewManager(kv)
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("Starting patch API server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Stopping patch API server")
	return s.server.Shutdown(ctx)
}
