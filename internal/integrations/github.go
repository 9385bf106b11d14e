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

const githubAPIBase = "https://api.github.com"

func init() {
	register(Definition{
		Identifier: "github",
		Name:       "GitHub",
		LogoURL:    "https://upload.wikimedia.org/wikipedia/commons/c/c2/GitHub_Invertocat_Logo.svg",
		Phase:      PhasePublish,
		Schema: []ConfigField{
			{
				Key:      "repo_owner",
				Label:    "Repository Owner",
				Type:     FieldString,
				Required: true,
				HelpText: "The organization or username (e.g., 'facebook')",
			},
			{
				Key:      "repo_name",
				Label:    "Repository Name",
				Type:     FieldString,
				Required: true,
				HelpText: "The repository slug (e.g., 'react')",
			},
			{
				Key:      "access_token",
				Label:    "Personal Access Token",
				Type:     FieldPassword,
				Required: true,
				HelpText: "Generate a token with 'repo' scope.",
			},
			{
				Key:      "labels",
				Label:    "Issue Labels",
				Type:     FieldString,
				Default:  "bug,insider",
				HelpText: "Comma-separated labels to apply (e.g. 'bug, urgent')",
			},
		},
	}, func(cfg Config) Backend {
		return &GithubBackend{
			cfg:     cfg,
			client:  &http.Client{Timeout: 10 * time.Second},
			apiBase: githubAPIBase,
		}
	})
}

// GithubBackend files tracking issues through the GitHub Issues API.
type GithubBackend struct {
	cfg     Config
	client  *http.Client
	apiBase string
}

func (g *GithubBackend) Identifier() string { return "github" }
func (g *GithubBackend) Phase() Phase       { return PhasePublish }

func (g *GithubBackend) Run(ctx context.Context, fp *footprint.Footprint, shared Context) (map[string]any, error) {
	owner := g.cfg.Get("repo_owner")
	repo := g.cfg.Get("repo_name")
	token := g.cfg.Get("access_token")

	if owner == "" || repo == "" || token == "" {
		log.Warn().Str("integration", "github").Msg("Integration enabled but missing required config")
		return nil, errors.ErrMissingConfig
	}

	title := "[Insider] " + fp.Title()
	if incidenceTitle, ok := shared["title"].(string); ok && incidenceTitle != "" {
		title = "[Insider] " + incidenceTitle
	}

	payload := map[string]any{
		"title":  title,
		"body":   g.buildBody(fp),
		"labels": splitLabels(g.cfg.GetDefault("labels", "bug,insider")),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal github payload: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/issues", g.apiBase, owner, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create github request: %w", err)
	}
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, errors.WrapConnectionError("create_github_issue", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if resp.StatusCode >= 400 {
		return nil, errors.WrapAPIError("create_github_issue", "github",
			fmt.Errorf("github returned HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
			resp.StatusCode)
	}

	var created struct {
		HTMLURL string `json:"html_url"`
		Number  int    `json:"number"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return nil, fmt.Errorf("parse github response: %w", err)
	}
	if created.HTMLURL == "" {
		return nil, fmt.Errorf("github response missing issue url")
	}

	log.Info().Str("url", created.HTMLURL).Msg("Created GitHub issue")

	partial := shared.AppendIssue(Issue{
		System: "GitHub",
		URL:    created.HTMLURL,
		Key:    fmt.Sprintf("#%d", created.Number),
	})
	partial["github_issue_url"] = created.HTMLURL
	return partial, nil
}

func (g *GithubBackend) buildBody(fp *footprint.Footprint) string {
	return fmt.Sprintf(
		"### Insider Alert\n"+
			"**Path:** `%s %s`\n"+
			"**User:** %s\n"+
			"**Status:** %d\n"+
			"**Time:** %s\n\n"+
			"<details>\n<summary><b>Stack Trace</b></summary>\n\n"+
			"```\n%s\n```\n</details>\n\n"+
			"See full details in the Insider dashboard.\n",
		strings.ToUpper(fp.RequestMethod), fp.RequestPath,
		fp.RequestUser, fp.StatusCode, fp.CreatedAt.Format(time.RFC3339),
		fp.FormatStackTrace(),
	)
}

func splitLabels(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
