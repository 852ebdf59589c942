// Package slack posts deal risk alerts for completed analyses.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/dealintel/internal/analysis"
	"github.com/MikeSquared-Agency/dealintel/internal/hermes"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// ShouldAlert reports whether ev is a completed analysis at high or critical risk.
func ShouldAlert(ev hermes.AnalysisEvent) bool {
	if ev.State != "completed" {
		return false
	}
	switch analysis.RiskLevel(ev.RiskLevel) {
	case analysis.RiskHigh, analysis.RiskCritical:
		return true
	}
	return false
}

// HandleEvent is a hermes subscription handler. Events below the alert
// threshold are ignored; post failures are logged.
func (p *Poster) HandleEvent(_ string, data []byte) {
	var ev hermes.AnalysisEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		p.logger.Warn("undecodable analysis event", "error", err)
		return
	}
	if !ShouldAlert(ev) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := p.PostDealAlert(ctx, ev); err != nil {
		p.logger.Error("deal alert failed", "request_id", ev.RequestID, "error", err)
	}
}

// PostDealAlert posts ev to the alert channel and returns the message ts.
func (p *Poster) PostDealAlert(ctx context.Context, ev hermes.AnalysisEvent) (string, error) {
	text := formatDealAlert(ev)

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "Request `" + ev.RequestID + "`",
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}

	p.logger.Info("posted deal alert to slack", "ts", slackResp.TS, "request_id", ev.RequestID)
	return slackResp.TS, nil
}

func formatDealAlert(ev hermes.AnalysisEvent) string {
	var sb strings.Builder

	company := ev.ProspectCompany
	if company == "" {
		company = "Unknown prospect"
	}
	fmt.Fprintf(&sb, "*%s risk deal:* %s\n", strings.ToUpper(ev.RiskLevel), company)
	fmt.Fprintf(&sb, "*Rep:* %s\n", ev.RepID)
	if ev.DealScore != nil {
		fmt.Fprintf(&sb, "*Deal score:* %d/100\n", *ev.DealScore)
	}
	if ev.Intent != "" {
		fmt.Fprintf(&sb, "*Intent:* %s\n", strings.ReplaceAll(ev.Intent, "_", " "))
	}
	if len(ev.DegradedAnalyzers) > 0 {
		fmt.Fprintf(&sb, "_Partial analysis, missing: %s_\n", strings.Join(ev.DegradedAnalyzers, ", "))
	}
	return sb.String()
}
