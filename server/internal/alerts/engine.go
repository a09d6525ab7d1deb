package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ambspc/spcengine/server/internal/config"
	"github.com/ambspc/spcengine/server/internal/store"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID          string     `json:"id"`
	RuleName    string     `json:"rule_name"`
	ParameterID string     `json:"parameter_id"`
	BatchID     string     `json:"batch_id,omitempty"`
	Severity    string     `json:"severity"`
	Assignee    string     `json:"assignee,omitempty"`
	Message     string     `json:"message"`
	Value       float64    `json:"value"`
	FiredAt     time.Time  `json:"fired_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	State       string     `json:"state"` // "firing" | "resolved"

	notified bool // firing was delivered to webhooks
}

// Engine evaluates alert rules against recorded data points and delivers
// webhook notifications when rules fire or resolve. Alerts are keyed by
// rule and parameter, so one drifting parameter raises one alert.
//
// Engine is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	active   map[string]*Alert    // key: "ruleName:parameterID"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts
	client   *http.Client
	now      func() time.Time
	deliverF func(a *Alert) // injectable for tests
}

// New creates an Engine from the server alert configuration.
// An Engine with empty rules is valid; Evaluate becomes a no-op.
func New(cfg config.AlertsConfig) *Engine {
	e := &Engine{
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	e.deliverF = func(a *Alert) { go e.deliver(a) }
	e.SetRules(cfg)
	return e
}

// SetRules replaces the rule set and webhook targets. Firing alerts of
// removed rules stay active until their parameter reports again.
func (e *Engine) SetRules(cfg config.AlertsConfig) {
	var rules []config.AlertRule
	for _, r := range cfg.Rules {
		if !validCondition(r.Condition) {
			slog.Warn("alerts: ignoring rule with unsupported condition",
				"rule", r.Name, "condition", r.Condition)
			continue
		}
		if needsAssignee(r.Severity) && r.Assignee == "" {
			slog.Warn("alerts: rule has no assignee", "rule", r.Name, "severity", r.Severity)
		}
		rules = append(rules, r)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
	e.webhooks = cfg.Webhooks
}

// Evaluate tests all configured rules against dp.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
func (e *Engine) Evaluate(dp store.DataPoint) {
	e.mu.Lock()
	rules := e.rules
	e.mu.Unlock()

	now := e.now()
	for _, rule := range rules {
		key := rule.Name + ":" + dp.ParameterID
		fires, value := evalCondition(rule.Condition, dp)

		e.mu.Lock()
		if fires {
			e.fire(rule, key, dp, value, now)
		} else {
			e.resolve(rule, key, dp, now)
		}
	}
}

// fire records a firing alert for key. The cooldown only throttles webhook
// delivery: an alert that is already firing is left alone inside the
// cooldown, but a parameter that recovered and relapsed always gets a new
// active alert. Called with e.mu held; releases it.
func (e *Engine) fire(rule config.AlertRule, key string, dp store.DataPoint, value float64, now time.Time) {
	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	last, fired := e.lastFire[key]
	inCooldown := fired && now.Sub(last) <= cooldown
	_, firing := e.active[key]
	if firing && inCooldown {
		e.mu.Unlock()
		return
	}

	sev := rule.Severity
	if sev == "" {
		sev = "warning"
	}
	a := &Alert{
		ID:          uuid.NewString(),
		RuleName:    rule.Name,
		ParameterID: dp.ParameterID,
		BatchID:     dp.BatchID,
		Severity:    sev,
		Assignee:    rule.Assignee,
		Value:       value,
		Message: fmt.Sprintf("[%s] %s fired on %s: %s (value %.4g)",
			sev, rule.Name, paramLabel(dp), rule.Condition, value),
		FiredAt: now,
		State:   StateFiring,
	}
	a.notified = !inCooldown
	e.active[key] = a
	if !inCooldown {
		e.lastFire[key] = now
	}
	alertCopy := *a
	e.mu.Unlock()

	slog.Warn("alert fired",
		"rule", rule.Name,
		"parameter", dp.ParameterID,
		"batch", dp.BatchID,
		"value", value,
		"severity", sev,
	)
	if needsAssignee(sev) && rule.Assignee == "" {
		slog.Warn("alerts: alert has no assignee", "rule", rule.Name, "severity", sev, "parameter", dp.ParameterID)
	}
	if inCooldown {
		slog.Debug("alerts: delivery suppressed by cooldown", "rule", rule.Name, "parameter", dp.ParameterID)
		return
	}
	e.deliverF(&alertCopy)
}

// resolve closes a firing alert. Called with e.mu held; releases it.
func (e *Engine) resolve(rule config.AlertRule, key string, dp store.DataPoint, now time.Time) {
	a, ok := e.active[key]
	if !ok || a.State != StateFiring {
		e.mu.Unlock()
		return
	}
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	alertCopy := *a
	e.mu.Unlock()

	slog.Info("alert resolved", "rule", rule.Name, "parameter", dp.ParameterID)
	if alertCopy.notified {
		e.deliverF(&alertCopy)
	}
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// FiringCount returns the number of alerts currently firing.
func (e *Engine) FiringCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

func paramLabel(dp store.DataPoint) string {
	label := dp.ParameterID
	if dp.ParameterName != "" {
		label = dp.ParameterName + " (" + dp.ParameterID + ")"
	}
	if dp.BatchID != "" {
		label += " batch " + dp.BatchID
	}
	return label
}

// needsAssignee reports whether alerts of severity sev must name someone
// responsible.
func needsAssignee(sev string) bool {
	return strings.EqualFold(sev, "high") || strings.EqualFold(sev, "critical")
}
