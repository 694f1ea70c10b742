// Package http provides the HTTP server through which the UI layer
// triggers transfers, reads balances and injects demo failures. It is
// thin plumbing over the coordinator; no protocol logic lives here.
package http

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/twopc-transfer/common"
	"github.com/twopc-transfer/config"
)

// Store is the coordinator-side interface the HTTP layer consumes.
type Store interface {
	// ExecuteTransfer runs one atomic transfer to a definite outcome.
	ExecuteTransfer(from, to string, amount int64) (*common.TransferResult, error)

	// GetBalance reads a participant's balance.
	GetBalance(id string) (int64, error)

	// InjectFailure arms or clears a simulated fault on a participant.
	InjectFailure(id string, kind common.FailureKind, delay time.Duration) error

	// History fetches a participant's audit journal.
	History(id string) ([]common.AuditEntry, error)

	// Participants lists the configured participants in global order.
	Participants() []config.Participant
}

// Service provides the HTTP API.
type Service struct {
	addr   string
	ln     net.Listener
	store  Store
	log    *log.Entry
	router *mux.Router
}

// NewService returns an unstarted HTTP service.
func NewService(logger *log.Logger, addr string, store Store) *Service {
	s := &Service{
		addr:  addr,
		store: store,
		log:   logger.WithField("component", "http"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/transfer", s.handleTransfer).Methods("POST")
	r.HandleFunc("/balance/{id}", s.handleBalance).Methods("GET")
	r.HandleFunc("/balances", s.handleBalances).Methods("GET")
	r.HandleFunc("/failure/{id}", s.handleFailure).Methods("POST")
	r.HandleFunc("/history/{id}", s.handleHistory).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router = r
	return s
}

// Start starts the service.
func (s *Service) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln

	go func() {
		if err := http.Serve(ln, s.router); err != nil {
			s.log.Infof("HTTP serve stopped: %s", err)
		}
	}()
	s.log.Infof("HTTP service started on %s", ln.Addr())
	return nil
}

// Addr returns the bound listen address.
func (s *Service) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close closes the service.
func (s *Service) Close() {
	if s.ln != nil {
		s.ln.Close()
	}
}
