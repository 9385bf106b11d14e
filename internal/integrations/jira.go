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

func init() {
	register(Definition{
		Identifier: "jira",
		Name:       "Jira",
		LogoURL:    "https://cdn.simpleicons.org/jira/0052CC",
		Phase:      PhasePublish,
		Schema: []ConfigField{
			{Key: "url", Label: "Jira URL (e.g. https://company.atlassian.net)", Type: FieldString, Required: true},
			{Key: "username", Label: "Account Email", Type: FieldString, Required: true},
			{
				Key:      "api_token",
				Label:    "API Token",
				Type:     FieldPassword,
				Required: true,
				HelpText: "Create this in your Atlassian Account Settings.",
			},
			{Key: "project_key", Label: "Project Key (e.g. DEV)", Type: FieldString, Required: true},
			{Key: "issue_type", Label: "Issue Type", Type: FieldString, Default: "Bug"},
			{
				Key:      "assignee_id",
				Label:    "Assignee Account ID (Optional)",
				Type:     FieldString,
				HelpText: "The account ID to assign issues to.",
			},
		},
	}, func(cfg Config) Backend {
		return &JiraBackend{
			cfg:    cfg,
			client: &http.Client{Timeout: 10 * time.Second},
		}
	})
}

// JiraBackend creates tracking issues through the Jira REST API.
type JiraBackend struct {
	cfg    Config
	client *http.Client
	// baseURL overrides the configured URL in tests
	baseURL string
}

func (j *JiraBackend) Identifier() string { return "jira" }
func (j *JiraBackend) Phase() Phase       { return PhasePublish }

func (j *JiraBackend) Run(ctx context.Context, fp *footprint.Footprint, shared Context) (map[string]any, error) {
	url := j.cfg.Get("url")
	username := j.cfg.Get("username")
	token := j.cfg.Get("api_token")
	projectKey := j.cfg.Get("project_key")

	if url == "" || username == "" || token == "" || projectKey == "" {
		log.Warn().Str("integration", "jira").Msg("Integration enabled but missing credentials")
		return nil, errors.ErrMissingConfig
	}
	if j.baseURL != "" {
		url = j.baseURL
	}
	url = strings.TrimSuffix(url, "/")

	summary := fp.Title()
	if title, ok := shared["title"].(string); ok && title != "" {
		summary = title
	}

	fields := map[string]any{
		"project":     map[string]any{"key": projectKey},
		"summary":     summary,
		"description": j.buildDescription(fp),
		"issuetype":   map[string]any{"name": j.cfg.GetDefault("issue_type", "Bug")},
	}
	if assignee := j.cfg.Get("assignee_id"); assignee != "" {
		fields["assignee"] = map[string]any{"accountId": assignee}
	}

	body, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return nil, fmt.Errorf("marshal jira payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/rest/api/2/issue", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create jira request: %w", err)
	}
	req.SetBasicAuth(username, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, errors.WrapConnectionError("create_jira_issue", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if resp.StatusCode >= 400 {
		return nil, errors.WrapAPIError("create_jira_issue", "jira",
			fmt.Errorf("jira returned HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
			resp.StatusCode)
	}

	var created struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return nil, fmt.Errorf("parse jira response: %w", err)
	}
	if created.Key == "" {
		return nil, fmt.Errorf("jira response missing issue key")
	}

	issueURL := fmt.Sprintf("%s/browse/%s", url, created.Key)
	log.Info().Str("key", created.Key).Str("url", issueURL).Msg("Created Jira issue")

	return shared.AppendIssue(Issue{System: "Jira", URL: issueURL, Key: created.Key}), nil
}

func (j *JiraBackend) buildDescription(fp *footprint.Footprint) string {
	logs := "N/A"
	if len(fp.SystemLogs) > 0 {
		logs = strings.Join(fp.SystemLogs, "\n")
	}
	responseBody := "N/A"
	if len(fp.ResponseBody) > 0 {
		responseBody = string(fp.ResponseBody)
	}

	return fmt.Sprintf(
		"h2. Error Details\n"+
			"||Key||Value||\n"+
			"|*Footprint ID*|%s|\n"+
			"|*User*|%s|\n"+
			"|*Endpoint*|%s %s|\n"+
			"|*Status*|%d|\n"+
			"|*Response Time*|%.2f ms|\n"+
			"|*Occurred At*|%s|\n\n"+
			"h2. Response Body\n{code:json}\n%s\n{code}\n\n"+
			"h2. System Logs\n{noformat}\n%s\n{noformat}\n",
		fp.ID, fp.RequestUser, strings.ToUpper(fp.RequestMethod), fp.RequestPath,
		fp.StatusCode, fp.ResponseTime, fp.CreatedAt.Format(time.RFC3339),
		responseBody, logs,
	)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
