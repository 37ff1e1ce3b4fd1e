package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/quantlab/portfolio-backend/internal/backtest"
	"github.com/quantlab/portfolio-backend/pkg/types"
	"github.com/quantlab/portfolio-backend/pkg/utils"
)

// backtestRequest is the wire form of a backtest configuration. Dates are
// YYYY-MM-DD strings.
type backtestRequest struct {
	TargetPercentage  map[string]float64 `json:"targetPercentage"`
	StartDate         string             `json:"startDate"`
	EndDate           string             `json:"endDate"`
	InitialTotalValue float64            `json:"initialTotalValue"`
	RebalanceStrategy string             `json:"rebalanceStrategy"`
	DriftThreshold    float64            `json:"driftThreshold,omitempty"`
	DrawdownTopN      int                `json:"drawdownTopN,omitempty"`
}

func (r *backtestRequest) toConfig() (*types.BacktestConfig, error) {
	start, err := utils.ParseDate(r.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := utils.ParseDate(r.EndDate)
	if err != nil {
		return nil, err
	}
	return &types.BacktestConfig{
		TargetPercentage:  r.TargetPercentage,
		StartDate:         start,
		EndDate:           end,
		InitialTotalValue: r.InitialTotalValue,
		RebalanceStrategy: types.RebalanceStrategy(r.RebalanceStrategy),
		DriftThreshold:    r.DriftThreshold,
	}, nil
}

type rollingRequest struct {
	Base        backtestRequest `json:"base"`
	FirstStart  string          `json:"firstStart"`
	LastStart   string          `json:"lastStart"`
	StepMonths  int             `json:"stepMonths"`
	WindowYears int             `json:"windowYears"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleGetInstruments(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.All())
}

// handleRunBacktest starts a backtest asynchronously and returns its run ID.
// Progress is broadcast to WebSocket clients; the result is fetched from
// GET /api/v1/backtest/{id}.
func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	config, err := req.toConfig()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	config.ID = uuid.New().String()

	state := &runState{
		ID:      config.ID,
		Config:  config,
		Status:  "running",
		Started: time.Now(),
	}
	s.mu.Lock()
	s.runs[config.ID] = state
	s.mu.Unlock()

	s.metrics.RunsStarted.Inc()
	topN := s.topNOr(req.DrawdownTopN)

	go func() {
		engine := backtest.NewEngine(s.logger, s.provider, s.registry, config)
		engine.SetProgressFunc(func(done, total int, day types.DayState) {
			s.broadcastProgress(types.BacktestProgress{
				ID:            config.ID,
				Status:        "running",
				DaysProcessed: done,
				TotalDays:     total,
				CurrentDate:   day.Date,
				CurrentValue:  day.TotalValue,
			})
		})

		// The request context ends with the handler; the run owns its own.
		result, err := s.runner.RunEngine(context.Background(), engine, config, topN)

		s.mu.Lock()
		if err != nil {
			state.Status = "failed"
			state.ErrorMsg = err.Error()
		} else {
			state.Status = "completed"
			state.Result = result
		}
		s.mu.Unlock()

		progress := types.BacktestProgress{ID: config.ID, Status: state.Status}
		if err != nil {
			progress.Error = err.Error()
			s.metrics.RunsCompleted.WithLabelValues("failed").Inc()
			s.logger.Warn("Backtest failed", zap.String("id", config.ID), zap.Error(err))
		} else {
			s.metrics.RunsCompleted.WithLabelValues("completed").Inc()
			s.metrics.RunDuration.Observe(result.Duration.Seconds())
			s.metrics.SimulatedDays.Add(float64(result.Table.Len()))
		}
		s.broadcastProgress(progress)
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": config.ID, "status": "running"})
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// Snapshot the state fields under the lock: the run goroutine mutates
	// them when the backtest finishes.
	s.mu.RLock()
	state, ok := s.runs[id]
	var resp map[string]any
	if ok {
		resp = map[string]any{
			"id":     state.ID,
			"status": state.Status,
		}
		if state.Result != nil {
			resp["result"] = state.Result
		}
		if state.ErrorMsg != "" {
			resp["error"] = state.ErrorMsg
		}
	}
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("unknown backtest id"))
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleCompare runs several configurations in parallel and returns all
// outcomes in input order.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var reqs []backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	configs := make([]*types.BacktestConfig, 0, len(reqs))
	topN := 0
	for _, req := range reqs {
		config, err := req.toConfig()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		configs = append(configs, config)
		if req.DrawdownTopN > topN {
			topN = req.DrawdownTopN
		}
	}

	outcomes := s.runner.RunAll(r.Context(), configs, s.topNOr(topN))

	type compareEntry struct {
		Result *types.BacktestResult `json:"result,omitempty"`
		Error  string                `json:"error,omitempty"`
	}
	resp := make([]compareEntry, len(outcomes))
	for i, o := range outcomes {
		resp[i] = compareEntry{Result: o.Result}
		if o.Err != nil {
			resp[i].Error = o.Err.Error()
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRollingWindow(w http.ResponseWriter, r *http.Request) {
	var req rollingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	base, err := req.Base.toConfig()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	firstStart, err := utils.ParseDate(req.FirstStart)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	lastStart, err := utils.ParseDate(req.LastStart)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	report, err := s.runner.RunRollingWindow(r.Context(), &types.RollingWindowConfig{
		Base:         *base,
		FirstStart:   firstStart,
		LastStart:    lastStart,
		StepMonths:   req.StepMonths,
		WindowYears:  req.WindowYears,
		DrawdownTopN: s.topNOr(req.Base.DrawdownTopN),
	})
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// topNOr resolves the drawdown episode count: the request value when given,
// otherwise the configured server default.
func (s *Server) topNOr(requested int) int {
	if requested > 0 {
		return requested
	}
	return s.defaultTopN
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	var cfgErr *backtest.ConfigurationError
	var dataErr *backtest.DataUnavailableError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &dataErr):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
