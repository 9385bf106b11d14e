package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/insiderhq/insider/internal/errors"
	"github.com/insiderhq/insider/internal/footprint"
)

const slackLogSnippetLimit = 1500

func init() {
	register(Definition{
		Identifier: "slack",
		Name:       "Slack",
		LogoURL:    "https://upload.wikimedia.org/wikipedia/commons/d/d5/Slack_icon_2019.svg",
		Phase:      PhaseNotify,
		Schema: []ConfigField{
			{
				Key:      "webhook_url",
				Label:    "Slack Webhook URL",
				Type:     FieldPassword,
				Required: true,
				HelpText: "Incoming Webhook URL from your Slack App.",
			},
			{
				Key:      "channel",
				Label:    "Channel Name (Optional)",
				Type:     FieldString,
				Default:  "#general",
				HelpText: "Override the default channel (e.g. #alerts)",
			},
		},
	}, func(cfg Config) Backend {
		return &SlackBackend{
			cfg:    cfg,
			client: &http.Client{Timeout: 10 * time.Second},
		}
	})
}

// SlackBackend posts Block Kit alerts to an incoming webhook.
type SlackBackend struct {
	cfg    Config
	client *http.Client
}

func (s *SlackBackend) Identifier() string { return "slack" }
func (s *SlackBackend) Phase() Phase       { return PhaseNotify }

func (s *SlackBackend) Run(ctx context.Context, fp *footprint.Footprint, shared Context) (map[string]any, error) {
	webhook := s.cfg.Get("webhook_url")
	if webhook == "" {
		log.Warn().Str("integration", "slack").Msg("Integration enabled but webhook URL missing")
		return nil, errors.ErrMissingConfig
	}

	blocks := s.buildBlocks(fp, shared)
	payload := map[string]any{"blocks": blocks}
	if channel := s.cfg.Get("channel"); channel != "" {
		payload["channel"] = channel
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.WrapConnectionError("post_slack_webhook", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return nil, errors.WrapAPIError("post_slack_webhook", "slack",
			fmt.Errorf("slack returned HTTP %d", resp.StatusCode), resp.StatusCode)
	}

	return nil, nil
}

func (s *SlackBackend) buildBlocks(fp *footprint.Footprint, shared Context) []map[string]any {
	method := strings.ToUpper(fp.RequestMethod)
	headerText, sectionText := slackHeadline(fp.StatusCode, fp.RequestUser, method, fp.RequestPath)

	blocks := []map[string]any{
		{"type": "header", "text": map[string]any{"type": "plain_text", "text": headerText}},
		{"type": "section", "text": map[string]any{"type": "mrkdwn", "text": "<!channel> " + sectionText}},
		{"type": "divider"},
		{
			"type": "section",
			"fields": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Endpoint:*\n`%s %s`", method, fp.RequestPath)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Status Code:*\n`%d`", fp.StatusCode)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Affected User:*\n`%s`", fp.RequestUser)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Response Time:*\n`%.2f ms`", fp.ResponseTime)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Occurred At (UTC):*\n`%s`", fp.CreatedAt.Format(time.RFC3339))},
			},
		},
		{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": "*System Logs (Snippet):*\n" + formatLogSnippet(fp.SystemLogs),
			},
		},
	}

	if issues := shared.Issues(); len(issues) > 0 {
		elements := make([]map[string]any, 0, len(issues))
		for _, issue := range issues {
			if issue.URL == "" {
				continue
			}
			elements = append(elements, map[string]any{
				"type": "button",
				"text": map[string]any{
					"type":  "plain_text",
					"text":  fmt.Sprintf("View on %s (%s)", issue.System, issue.Key),
					"emoji": true,
				},
				"url":       issue.URL,
				"action_id": fmt.Sprintf("view_%s_%s", strings.ToLower(issue.System), issue.Key),
			})
		}
		if len(elements) > 0 {
			if len(elements) > 5 {
				elements = elements[:5]
			}
			blocks = append(blocks,
				map[string]any{"type": "divider"},
				map[string]any{
					"type": "section",
					"text": map[string]any{"type": "mrkdwn", "text": "*Issues Created:*"},
				},
				map[string]any{"type": "actions", "elements": elements},
			)
		}
	}

	return blocks
}

func slackHeadline(statusCode int, user, method, endpoint string) (string, string) {
	switch {
	case statusCode >= 500:
		return fmt.Sprintf("SERVER ERROR ALERT: %d Internal Server Error", statusCode),
			fmt.Sprintf("An *Internal Server Error (%d)* has occurred for user `%s` at endpoint `%s %s`.",
				statusCode, user, method, endpoint)
	case statusCode >= 400:
		return fmt.Sprintf("CLIENT ERROR DETECTED: %d Status Code", statusCode),
			fmt.Sprintf("A *Client Error (%d)* was made by user `%s` to endpoint `%s %s`.",
				statusCode, user, method, endpoint)
	default:
		return fmt.Sprintf("INFORMATIONAL: %d Status Code", statusCode),
			fmt.Sprintf("An event with status code %d occurred for user `%s` at `%s`.", statusCode, user, endpoint)
	}
}

// formatLogSnippet keeps the tail of the captured logs, where the failure
// usually is.
func formatLogSnippet(logs []string) string {
	if len(logs) == 0 {
		return "No logs captured."
	}
	full := strings.Join(logs, "\n")
	if len(full) > slackLogSnippetLimit {
		full = "..." + full[len(full)-slackLogSnippetLimit:]
	}
	return "```\n" + full + "\n```"
}
