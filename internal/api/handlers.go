package api

import (
	"net/http"
	"strconv"

	"github.com/indicompute/indicompute/internal/domain"
)

// ─── Nodes ──────────────────────────────────────────────────────────────────

type nodeRequest struct {
	Location string `json:"location"`
	GPUModel string `json:"gpu_model"`
	GPUCount int    `json:"gpu_count"`
}

func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.svc.Registry.Register(r.Context(), callerID(r), req.Location, req.GPUModel, req.GPUCount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.svc.Registry.ListByOwner(r.Context(), callerID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req nodeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.svc.Registry.Update(r.Context(), id, callerID(r), req.Location, req.GPUModel, req.GPUCount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.svc.Registry.Delete(r.Context(), id, callerID(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNodeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.svc.Registry.Status(r.Context(), id, callerID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleNodeActivity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	activity, err := s.svc.Registry.Activity(r.Context(), id, callerID(r), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activity)
}

type heartbeatRequest struct {
	NodeKey string `json:"node_key"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req heartbeatRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.svc.Registry.Heartbeat(r.Context(), id, req.NodeKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":             n.ID,
		"is_online":      true,
		"last_heartbeat": n.LastHeartbeat,
	})
}

func (s *Server) handleMarketplace(w http.ResponseWriter, r *http.Request) {
	onlineOnly, _ := strconv.ParseBool(r.URL.Query().Get("online"))
	listings, err := s.svc.Registry.Marketplace(r.Context(), onlineOnly)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

// ─── Pricing ────────────────────────────────────────────────────────────────

type pricingRequest struct {
	PricePerHour domain.Amount `json:"price_per_hour"`
	Currency     string        `json:"currency"`
}

func (s *Server) handleSetPricing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req pricingRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.svc.Registry.SetPricing(r.Context(), id, callerID(r), req.PricePerHour, req.Currency)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetPricing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.svc.Registry.GetPricing(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ─── Earnings ───────────────────────────────────────────────────────────────

func (s *Server) handleListEarnings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := s.svc.Earnings.List(r.Context(), id, callerID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.svc.Earnings.Dashboard(r.Context(), id, callerID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ─── Wallet ─────────────────────────────────────────────────────────────────

type topUpRequest struct {
	Amount domain.Amount `json:"amount"`
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.svc.Wallet.TopUp(r.Context(), callerID(r), req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Wallet.Balance(r.Context(), callerID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	txs, err := s.svc.Wallet.Transactions(r.Context(), callerID(r), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// ─── Jobs ───────────────────────────────────────────────────────────────────

type submitRequest struct {
	NodeID  int64  `json:"node_id"`
	NodeKey string `json:"node_key"`
	Command string `json:"command"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.svc.Jobs.Submit(r.Context(), callerID(r), req.NodeID, req.NodeKey, req.Command)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.svc.Jobs.List(r.Context(), callerID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.svc.Jobs.Get(r.Context(), id, callerID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.svc.Jobs.Complete(r.Context(), id, callerID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type logRequest struct {
	LogType string `json:"log_type"`
	Details string `json:"details"`
}

func (s *Server) handleAppendLog(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req logRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	entry, err := s.svc.Jobs.AppendLog(r.Context(), id, req.LogType, req.Details)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logs, err := s.svc.Jobs.Logs(r.Context(), id, callerID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
