package alerts

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ambspc/spcengine/pkg/spc"
	"github.com/ambspc/spcengine/server/internal/config"
	"github.com/ambspc/spcengine/server/internal/store"
)

var baseTime = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// newTestEngine returns an engine with a controllable clock that records
// deliveries instead of posting them.
func newTestEngine(rules ...config.AlertRule) (*Engine, *time.Time, *[]Alert) {
	e := New(config.AlertsConfig{Rules: rules})
	now := baseTime
	e.now = func() time.Time { return now }
	var delivered []Alert
	e.deliverF = func(a *Alert) { delivered = append(delivered, *a) }
	return e, &now, &delivered
}

func point(param string, v float64, status spc.Status, zone spc.Zone) store.DataPoint {
	return store.DataPoint{ParameterID: param, ParameterName: "Reactor temperature", BatchID: "B-1", Value: v, Status: status, Zone: zone}
}

func TestEvalCondition(t *testing.T) {
	dp := point("SPC-TEMP", 85, spc.StatusOutOfControl, spc.ZoneCritical)
	tests := []struct {
		cond string
		want bool
	}{
		{"status == out_of_control", true},
		{"status == in_control", false},
		{"status != in_control", true},
		{"zone == critical", true},
		{"zone == warning", false},
		{"value > 80", true},
		{"value >= 85", true},
		{"value < 10", false},
		{"value <= 85", true},
		{"value == 85", true},
		{"value > abc", false},
		{"cpk < 1.33", false},
		{"status ==", false},
		{"status ~= out_of_control", false},
	}
	for _, tc := range tests {
		got, _ := evalCondition(tc.cond, dp)
		if got != tc.want {
			t.Errorf("evalCondition(%q) = %v, want %v", tc.cond, got, tc.want)
		}
	}
}

func TestValidCondition(t *testing.T) {
	for _, c := range []string{"status == out_of_control", "zone != normal", "value < 10"} {
		if !validCondition(c) {
			t.Errorf("validCondition(%q) = false, want true", c)
		}
	}
	for _, c := range []string{"", "value > x", "status > a", "drop_pct > 10", "a b c d"} {
		if validCondition(c) {
			t.Errorf("validCondition(%q) = true, want false", c)
		}
	}
}

func TestEngine_FiresAndResolves(t *testing.T) {
	e, now, delivered := newTestEngine(config.AlertRule{
		Name: "out-of-control", Condition: "status == out_of_control", Severity: "critical", Assignee: "qa-lead",
	})

	e.Evaluate(point("SPC-TEMP", 85, spc.StatusOutOfControl, spc.ZoneCritical))
	active := e.Active()
	if len(active) != 1 {
		t.Fatalf("Active() len = %d, want 1", len(active))
	}
	a := active[0]
	if a.State != StateFiring || a.Severity != "critical" || a.Assignee != "qa-lead" || a.BatchID != "B-1" {
		t.Errorf("alert = %+v", a)
	}
	if !strings.Contains(a.Message, "Reactor temperature (SPC-TEMP)") {
		t.Errorf("Message = %q, want parameter label", a.Message)
	}
	if e.FiringCount() != 1 {
		t.Errorf("FiringCount = %d, want 1", e.FiringCount())
	}

	*now = now.Add(time.Minute)
	e.Evaluate(point("SPC-TEMP", 70, spc.StatusInControl, spc.ZoneNormal))
	active = e.Active()
	if len(active) != 1 || active[0].State != StateResolved || active[0].ResolvedAt == nil {
		t.Fatalf("after recovery Active() = %+v, want one resolved alert", active)
	}
	if e.FiringCount() != 0 {
		t.Errorf("FiringCount = %d, want 0", e.FiringCount())
	}
	if len(*delivered) != 2 || (*delivered)[1].State != StateResolved {
		t.Errorf("delivered = %+v, want fire then resolve", *delivered)
	}

	// Resolved alerts drop out of Active after an hour.
	*now = now.Add(2 * time.Hour)
	if got := len(e.Active()); got != 0 {
		t.Errorf("Active() after an hour = %d, want 0", got)
	}
}

func TestEngine_Cooldown(t *testing.T) {
	e, now, delivered := newTestEngine(config.AlertRule{
		Name: "high", Condition: "value > 80", Cooldown: 10 * time.Minute,
	})

	e.Evaluate(point("SPC-TEMP", 85, spc.StatusOutOfControl, spc.ZoneCritical))
	*now = now.Add(5 * time.Minute)
	e.Evaluate(point("SPC-TEMP", 86, spc.StatusOutOfControl, spc.ZoneCritical))
	if len(*delivered) != 1 {
		t.Errorf("deliveries within cooldown = %d, want 1", len(*delivered))
	}

	*now = now.Add(6 * time.Minute)
	e.Evaluate(point("SPC-TEMP", 87, spc.StatusOutOfControl, spc.ZoneCritical))
	if len(*delivered) != 2 {
		t.Errorf("deliveries after cooldown = %d, want 2", len(*delivered))
	}
	if (*delivered)[0].Severity != "warning" {
		t.Errorf("default severity = %q, want warning", (*delivered)[0].Severity)
	}
}

func TestEngine_RelapseWithinCooldownStillActive(t *testing.T) {
	e, now, delivered := newTestEngine(config.AlertRule{
		Name: "out-of-control", Condition: "status == out_of_control", Severity: "critical", Assignee: "qa-lead",
	})

	e.Evaluate(point("SPC-TEMP", 85, spc.StatusOutOfControl, spc.ZoneCritical))
	*now = now.Add(time.Minute)
	e.Evaluate(point("SPC-TEMP", 70, spc.StatusInControl, spc.ZoneNormal))
	*now = now.Add(4 * time.Minute)
	e.Evaluate(point("SPC-TEMP", 88, spc.StatusOutOfControl, spc.ZoneCritical))

	if e.FiringCount() != 1 {
		t.Fatalf("FiringCount after relapse = %d, want 1", e.FiringCount())
	}
	var firing *Alert
	for _, a := range e.Active() {
		if a.State == StateFiring {
			firing = a
		}
	}
	if firing == nil || firing.Value != 88 {
		t.Errorf("firing alert = %+v, want value 88", firing)
	}
	// Fire and resolve were delivered; the relapse inside the cooldown is not.
	if len(*delivered) != 2 {
		t.Errorf("deliveries = %d, want 2", len(*delivered))
	}

	// Once the cooldown from the first delivery has passed, a fresh relapse
	// is delivered again.
	*now = now.Add(time.Minute)
	e.Evaluate(point("SPC-TEMP", 70, spc.StatusInControl, spc.ZoneNormal))
	*now = now.Add(15 * time.Minute)
	e.Evaluate(point("SPC-TEMP", 90, spc.StatusOutOfControl, spc.ZoneCritical))
	// The undelivered relapse resolves silently.
	if len(*delivered) != 3 || (*delivered)[2].State != StateFiring {
		t.Errorf("deliveries after cooldown = %+v, want a third, firing delivery", *delivered)
	}
}

func TestNeedsAssignee(t *testing.T) {
	tests := []struct {
		sev  string
		want bool
	}{
		{"critical", true},
		{"high", true},
		{"High", true},
		{"warning", false},
		{"info", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := needsAssignee(tc.sev); got != tc.want {
			t.Errorf("needsAssignee(%q) = %v, want %v", tc.sev, got, tc.want)
		}
	}
}

func TestEngine_KeyedByParameter(t *testing.T) {
	e, _, _ := newTestEngine(config.AlertRule{Name: "warn", Condition: "zone == warning"})
	e.Evaluate(point("SPC-TEMP", 79, spc.StatusInControl, spc.ZoneWarning))
	e.Evaluate(point("SPC-PH", 6.1, spc.StatusInControl, spc.ZoneWarning))
	if e.FiringCount() != 2 {
		t.Errorf("FiringCount = %d, want 2 (one per parameter)", e.FiringCount())
	}
}

func TestEngine_NoRules(t *testing.T) {
	e, _, delivered := newTestEngine()
	e.Evaluate(point("SPC-TEMP", 85, spc.StatusOutOfControl, spc.ZoneCritical))
	if len(e.Active()) != 0 || len(*delivered) != 0 {
		t.Error("engine without rules should never fire")
	}
}

func TestEngine_SetRulesDropsInvalid(t *testing.T) {
	e, _, _ := newTestEngine()
	e.SetRules(config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "bad", Condition: "drop_pct > 10"},
		{Name: "good", Condition: "status == out_of_control"},
	}})
	e.Evaluate(point("SPC-TEMP", 85, spc.StatusOutOfControl, spc.ZoneCritical))
	active := e.Active()
	if len(active) != 1 || active[0].RuleName != "good" {
		t.Errorf("Active() = %+v, want only rule good", active)
	}
}

func TestEngine_ConcurrentEvaluate(t *testing.T) {
	e, _, _ := newTestEngine(config.AlertRule{Name: "high", Condition: "value > 80"})
	e.deliverF = func(*Alert) {}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e.Evaluate(point("SPC-TEMP", float64(70+i), spc.StatusInControl, spc.ZoneNormal))
			_ = e.Active()
		}(i)
	}
	wg.Wait()
}

func TestDeliver_Webhooks(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies = map[string]map[string]any{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		bodies[r.URL.Path] = body
		mu.Unlock()
	}))
	defer srv.Close()

	t.Setenv("HOOK_SLACK", srv.URL+"/slack")
	t.Setenv("HOOK_TEAMS", srv.URL+"/teams")
	t.Setenv("HOOK_HTTP", srv.URL+"/http")

	e := New(config.AlertsConfig{Webhooks: []config.WebhookConfig{
		{Type: "slack", URLEnv: "HOOK_SLACK"},
		{Type: "teams", URLEnv: "HOOK_TEAMS"},
		{Type: "http", URLEnv: "HOOK_HTTP"},
		{Type: "http", URLEnv: "HOOK_UNSET"},
	}})
	e.deliver(&Alert{RuleName: "high", ParameterID: "SPC-TEMP", Severity: "critical", Assignee: "qa-lead", Message: "value high", State: StateFiring})

	mu.Lock()
	defer mu.Unlock()
	if text, _ := bodies["/slack"]["text"].(string); !strings.Contains(text, "[CRITICAL]") || !strings.Contains(text, "qa-lead") {
		t.Errorf("slack text = %q", text)
	}
	if title, _ := bodies["/teams"]["title"].(string); title != "SPC Alert: high" {
		t.Errorf("teams title = %q", title)
	}
	if bodies["/teams"]["themeColor"] != "FF4F6A" {
		t.Errorf("teams themeColor = %v", bodies["/teams"]["themeColor"])
	}
	atts, _ := bodies["/slack"]["attachments"].([]any)
	if len(atts) != 1 {
		t.Fatalf("slack attachments = %v", bodies["/slack"]["attachments"])
	}
	if fields, _ := atts[0].(map[string]any)["fields"].([]any); len(fields) != 2 {
		t.Errorf("slack fields = %v, want parameter and value only", fields)
	}
	alert, _ := bodies["/http"]["alert"].(map[string]any)
	if alert["parameter_id"] != "SPC-TEMP" {
		t.Errorf("http alert = %v", alert)
	}
	if bodies["/http"]["event"] != "spc.alert.firing" {
		t.Errorf("http event = %v", bodies["/http"]["event"])
	}
}
