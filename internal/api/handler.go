package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/rules"
)

const (
	dashboardCacheKey = "dashboard"
	dashboardCacheTTL = 60 * time.Second
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *engine.Engine
	rules   *rules.Engine
	clock   clockwork.Clock
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, ruleEngine *rules.Engine, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  eng,
		rules:   ruleEngine,
		clock:   clockwork.NewRealClock(),
		version: version,
	}
}

// Analyze handles POST /analyze/{customerID}.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")

	verdict, err := h.engine.Analyze(r.Context(), customerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, verdict)
}

// BatchAnalyzeRequest is the request body for POST /batch-analyze.
type BatchAnalyzeRequest struct {
	CustomerIDs []string `json:"customerIds"`
}

// BatchAnalyzeItem is one per-customer outcome in a batch response.
type BatchAnalyzeItem struct {
	CustomerID string          `json:"customerId"`
	Verdict    *domain.Verdict `json:"verdict,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// BatchAnalyze handles POST /batch-analyze.
func (h *Handler) BatchAnalyze(w http.ResponseWriter, r *http.Request) {
	var req BatchAnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	results, err := h.engine.AnalyzeBatch(r.Context(), req.CustomerIDs)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]BatchAnalyzeItem, len(results))
	for i, res := range results {
		items[i] = BatchAnalyzeItem{
			CustomerID: res.CustomerID,
			Verdict:    res.Verdict,
		}
		if res.Err != nil {
			items[i].Error = res.Err.Error()
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": items,
		"count":   len(items),
	})
}

// ListAlerts handles GET /alerts with optional customer_id, severity,
// status, and limit query filters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.AlertFilter{
		CustomerID: q.Get("customer_id"),
		Severity:   domain.AlertSeverity(q.Get("severity")),
		Status:     domain.AlertStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		filter.Limit = limit
	}

	alerts, err := h.repo.ListAlerts(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert handles GET /alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	alert, err := h.repo.GetAlert(r.Context(), alertID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// UpdateAlertStatusRequest is the request body for PUT /alerts/{id}/status.
type UpdateAlertStatusRequest struct {
	Status domain.AlertStatus `json:"status"`
}

// UpdateAlertStatus handles PUT /alerts/{id}/status, enforcing the alert
// review state machine.
func (h *Handler) UpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	var req UpdateAlertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	switch req.Status {
	case domain.AlertActive, domain.AlertInvestigating, domain.AlertResolved, domain.AlertFalsePositive:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown alert status",
		})
		return
	}

	alert, err := h.repo.UpdateAlertStatus(r.Context(), alertID, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("alert status updated",
		"alert_id", alertID,
		"status", req.Status,
	)
	writeJSON(w, http.StatusOK, alert)
}

// ListPatterns handles GET /patterns/{customerID}, returning the customer's
// pattern snapshots newest first.
func (h *Handler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	snapshots, err := h.repo.ListSnapshots(r.Context(), customerID, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"customerId": customerID,
		"patterns":   snapshots,
		"count":      len(snapshots),
	})
}

// GetRiskProfile handles GET /risk-profile/{customerID}, returning the
// upserted legacy risk profile row. Passing refresh=true recomputes the
// profile before returning it.
func (h *Handler) GetRiskProfile(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")

	if r.URL.Query().Get("refresh") == "true" {
		profile, err := h.engine.ScoreProfile(r.Context(), customerID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
		return
	}

	snapshot, err := h.repo.GetRiskPattern(r.Context(), customerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// RiskTrends handles GET /risk-trends, aggregating daily snapshot counts and
// average stored risk scores over the requested number of days.
func (h *Handler) RiskTrends(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "days must be a positive integer",
			})
			return
		}
		days = n
	}

	since := h.clock.Now().UTC().AddDate(0, 0, -days)
	snapshots, err := h.repo.ListSnapshotsSince(r.Context(), since)
	if err != nil {
		writeError(w, err)
		return
	}

	// Group by UTC calendar day. Snapshots arrive ordered by detection time,
	// so the day order is preserved.
	var trends []domain.TrendPoint
	index := make(map[string]int)
	totals := make(map[string]float64)
	for _, s := range snapshots {
		day := s.DetectedAt.UTC().Format("2006-01-02")
		i, ok := index[day]
		if !ok {
			i = len(trends)
			index[day] = i
			trends = append(trends, domain.TrendPoint{Date: day})
		}
		trends[i].PatternCount++
		totals[day] += s.RiskScore
	}
	for i := range trends {
		trends[i].AvgRiskScore = totals[trends[i].Date] / float64(trends[i].PatternCount)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":   days,
		"trends": trends,
	})
}

// DashboardData is the payload for GET /dashboard.
type DashboardData struct {
	ActiveAlerts    map[string]int            `json:"activeAlerts"`
	RecentHighRisk  []*domain.PatternSnapshot `json:"recentHighRisk"`
	GeneratedAt     time.Time                 `json:"generatedAt"`
	CacheHit        bool                      `json:"cacheHit"`
	RulesLoaded     int                       `json:"rulesLoaded"`
	AnalysisVersion string                    `json:"analysisVersion"`
}

// Dashboard handles GET /dashboard. Responses are cached for a minute so a
// polling UI does not hammer the alert tables.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.cache != nil {
		if cached, err := h.cache.Get(ctx, dashboardCacheKey); err == nil && cached != nil {
			var data DashboardData
			if err := json.Unmarshal(cached, &data); err == nil {
				data.CacheHit = true
				writeJSON(w, http.StatusOK, data)
				return
			}
		}
	}

	alerts, err := h.repo.ListAlerts(ctx, domain.AlertFilter{
		Status: domain.AlertActive,
		Limit:  500,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	counts := map[string]int{}
	for _, a := range alerts {
		counts[string(a.Severity)]++
	}

	now := h.clock.Now().UTC()
	snapshots, err := h.repo.ListSnapshotsSince(ctx, now.AddDate(0, 0, -1))
	if err != nil {
		writeError(w, err)
		return
	}

	// Stored scores are 0-1 fractions; 0.6 is the high band boundary.
	var highRisk []*domain.PatternSnapshot
	for i := len(snapshots) - 1; i >= 0 && len(highRisk) < 10; i-- {
		if snapshots[i].RiskScore >= 0.6 {
			highRisk = append(highRisk, snapshots[i])
		}
	}

	data := DashboardData{
		ActiveAlerts:    counts,
		RecentHighRisk:  highRisk,
		GeneratedAt:     now,
		RulesLoaded:     h.rulesCount(),
		AnalysisVersion: h.version,
	}

	if h.cache != nil {
		if payload, err := json.Marshal(data); err == nil {
			_ = h.cache.Set(ctx, dashboardCacheKey, payload, dashboardCacheTTL)
		}
	}

	writeJSON(w, http.StatusOK, data)
}

func (h *Handler) rulesCount() int {
	if h.rules == nil {
		return 0
	}
	return h.rules.RulesCount()
}

// GetThresholds handles GET /thresholds.
func (h *Handler) GetThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Thresholds())
}

// UpdateThresholds handles PUT /thresholds. The body is a map of threshold
// keys to numeric values; unknown keys and invalid values reject the whole
// update.
func (h *Handler) UpdateThresholds(w http.ResponseWriter, r *http.Request) {
	var overrides map[string]float64
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(overrides) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "no threshold overrides provided",
		})
		return
	}

	if err := h.engine.ApplyThresholds(overrides); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("thresholds updated", "keys", len(overrides))
	writeJSON(w, http.StatusOK, h.engine.Thresholds())
}

// ListRules returns all rules currently loaded in the engine. Rules are
// loaded from the database at startup and can be reloaded via
// POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.rules.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// CreateRule validates a custom rule, saves it to the database, and loads it
// into the engine when enabled.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cfg domain.RuleConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Compile the CEL expression before anything touches the database.
	if err := h.rules.ValidateRule(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveRuleConfig(ctx, &cfg); err != nil {
		slog.Error("failed to save rule config", "id", cfg.ID, "error", err)
		writeError(w, err)
		return
	}

	if cfg.Enabled {
		if err := h.rules.LoadRule(&cfg); err != nil {
			writeError(w, err)
			return
		}
	}

	slog.Info("rule created", "id", cfg.ID, "name", cfg.Name, "enabled", cfg.Enabled)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule": cfg,
	})
}

// ReloadRules reloads all enabled rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbRules, err := h.repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeError(w, err)
		return
	}

	if err := h.rules.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeError(w, err)
		return
	}

	slog.Info("rules reloaded from database", "loaded", h.rules.RulesCount())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   h.rules.RulesCount(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *domain.ValidationError
		configErr     *domain.ConfigError
		dataErr       *domain.DataAccessError
	)

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &validationErr), errors.As(err, &configErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &dataErr):
		slog.Error("data access failure", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "data access failure"})
	default:
		slog.Error("unhandled error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
