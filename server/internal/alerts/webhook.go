package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// deliver sends webhook notifications for a to all configured targets.
// Errors are logged but do not affect the caller.
func (e *Engine) deliver(a *Alert) {
	e.mu.Lock()
	webhooks := e.webhooks
	e.mu.Unlock()

	for _, wh := range webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = e.sendSlack(url, a)
		case "teams":
			err = e.sendTeams(url, a)
		case "http":
			err = e.sendHTTP(url, a)
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"rule", a.RuleName,
				"err", err,
			)
		} else {
			slog.Debug("alerts: webhook delivered",
				"type", wh.Type,
				"rule", a.RuleName,
				"state", a.State,
			)
		}
	}
}

// sendSlack posts the message line plus an attachment listing the
// parameter, batch and measured value.
func (e *Engine) sendSlack(url string, a *Alert) error {
	fields := []map[string]any{
		{"title": "Parameter", "value": a.ParameterID, "short": true},
		{"title": "Value", "value": fmt.Sprintf("%.4g", a.Value), "short": true},
	}
	if a.BatchID != "" {
		fields = append(fields, map[string]any{"title": "Batch", "value": a.BatchID, "short": true})
	}
	body, _ := json.Marshal(map[string]any{
		"text": messageText(a),
		"attachments": []map[string]any{{
			"color":  "#" + severityColor(a.Severity),
			"fields": fields,
			"ts":     a.FiredAt.Unix(),
		}},
	})
	return e.post(url, body)
}

func (e *Engine) sendTeams(url string, a *Alert) error {
	payload := map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a.Severity),
		"summary":    a.RuleName,
		"title":      fmt.Sprintf("SPC Alert: %s", a.RuleName),
		"text":       messageText(a),
	}
	body, _ := json.Marshal(payload)
	return e.post(url, body)
}

// sendHTTP posts the raw alert under an event name such as
// "spc.alert.firing" so receivers can route without parsing the message.
func (e *Engine) sendHTTP(url string, a *Alert) error {
	body, _ := json.Marshal(map[string]any{"event": "spc.alert." + a.State, "alert": a})
	return e.post(url, body)
}

func (e *Engine) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// messageText renders the human-readable line shared by Slack and Teams.
func messageText(a *Alert) string {
	text := fmt.Sprintf("*%s* %s", severityLabel(a.Severity), a.Message)
	if a.State == StateResolved {
		text = "*[RESOLVED]* " + a.Message
	}
	if a.Assignee != "" {
		text += " (assignee: " + a.Assignee + ")"
	}
	return text
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "high":
		return "[HIGH]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case "high":
		return "FF7A45"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
