package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/twopc-transfer/common"
)

// TransferRequest is the POST /transfer body.
type TransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// FailureRequest is the POST /failure/{id} body.
type FailureRequest struct {
	Kind    common.FailureKind `json:"kind"`
	DelayMS int64              `json:"delay_ms"`
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnf("unable to write response: %s", err)
	}
}

func (s *Service) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Service) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.store.ExecuteTransfer(req.From, req.To, req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleBalance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	balance, err := s.store.GetBalance(id)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "balance": balance})
}

func (s *Service) handleBalances(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]interface{})
	for _, p := range s.store.Participants() {
		if balance, err := s.store.GetBalance(p.ID); err != nil {
			out[p.ID] = "offline"
		} else {
			out[p.ID] = balance
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleFailure(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req FailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	delay := time.Duration(req.DelayMS) * time.Millisecond
	if err := s.store.InjectFailure(id, req.Kind, delay); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "kind": req.Kind})
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entries, err := s.store.History(id)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}
