package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/insiderhq/insider/internal/errors"
	"github.com/insiderhq/insider/internal/footprint"
)

func testFootprint() *footprint.Footprint {
	return &footprint.Footprint{
		ID:            "01JTESTFOOTPRINT0000000000",
		RequestUser:   "alice",
		RequestPath:   "/api/orders/42",
		RequestMethod: "post",
		StatusCode:    500,
		ExceptionName: "ZeroDivisionError",
		SystemLogs:    []string{"INFO starting checkout", "ERROR division by zero"},
		ResponseTime:  123.4,
		StackTrace: []footprint.Frame{
			{File: "checkout/views.py", Line: 42, Function: "split_total", Code: "total / count"},
		},
		CreatedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestSlackRunPostsBlocks(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	backend := &SlackBackend{
		cfg:    Config{"webhook_url": server.URL, "channel": "#ops"},
		client: server.Client(),
	}

	shared := Context{}
	shared.Merge(shared.AppendIssue(Issue{System: "Jira", URL: "https://j/browse/OPS-1", Key: "OPS-1"}))

	partial, err := backend.Run(context.Background(), testFootprint(), shared)
	require.NoError(t, err)
	assert.Nil(t, partial)

	require.NotNil(t, received)
	assert.Equal(t, "#ops", received["channel"])

	raw, _ := json.Marshal(received["blocks"])
	assert.Contains(t, string(raw), "POST /api/orders/42")
	assert.Contains(t, string(raw), "View on Jira (OPS-1)")
}

func TestSlackRunServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	backend := &SlackBackend{cfg: Config{"webhook_url": server.URL}, client: server.Client()}
	_, err := backend.Run(context.Background(), testFootprint(), Context{})
	require.Error(t, err)
	assert.False(t, apperrors.IsRetryableError(err))
}

func TestSlackRunMissingConfig(t *testing.T) {
	backend := &SlackBackend{cfg: Config{}, client: http.DefaultClient}
	_, err := backend.Run(context.Background(), testFootprint(), Context{})
	assert.ErrorIs(t, err, apperrors.ErrMissingConfig)
}

func TestJiraRunCreatesIssue(t *testing.T) {
	var (
		gotAuth string
		payload map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/2/issue", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"10001","key":"OPS-7"}`)
	}))
	defer server.Close()

	backend := &JiraBackend{
		cfg: Config{
			"url":         server.URL,
			"username":    "bot@example.com",
			"api_token":   "token",
			"project_key": "OPS",
		},
		client: server.Client(),
	}

	shared := Context{"title": "ZeroDivisionError at /api/orders/:id"}
	partial, err := backend.Run(context.Background(), testFootprint(), shared)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(gotAuth, "Basic "))

	fields := payload["fields"].(map[string]any)
	assert.Equal(t, "ZeroDivisionError at /api/orders/:id", fields["summary"])
	assert.Equal(t, "Bug", fields["issuetype"].(map[string]any)["name"])
	assert.Equal(t, "OPS", fields["project"].(map[string]any)["key"])

	shared.Merge(partial)
	issues := shared.Issues()
	require.Len(t, issues, 1)
	assert.Equal(t, "OPS-7", issues[0].Key)
	assert.Equal(t, server.URL+"/browse/OPS-7", issues[0].URL)
}

func TestJiraRunIncompleteResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"10001"}`)
	}))
	defer server.Close()

	backend := &JiraBackend{
		cfg: Config{
			"url":         server.URL,
			"username":    "bot@example.com",
			"api_token":   "token",
			"project_key": "OPS",
		},
		client: server.Client(),
	}

	_, err := backend.Run(context.Background(), testFootprint(), Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing issue key")
}

func TestJiraRunMissingConfig(t *testing.T) {
	backend := &JiraBackend{cfg: Config{"url": "https://x"}, client: http.DefaultClient}
	_, err := backend.Run(context.Background(), testFootprint(), Context{})
	assert.ErrorIs(t, err, apperrors.ErrMissingConfig)
}

func TestGithubRunCreatesIssue(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/insiderhq/demo/issues", r.URL.Path)
		require.Equal(t, "token ghp_test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number":12,"html_url":"https://github.com/insiderhq/demo/issues/12"}`)
	}))
	defer server.Close()

	backend := &GithubBackend{
		cfg: Config{
			"repo_owner":   "insiderhq",
			"repo_name":    "demo",
			"access_token": "ghp_test",
			"labels":       "bug, production",
		},
		client:  server.Client(),
		apiBase: server.URL,
	}

	partial, err := backend.Run(context.Background(), testFootprint(), Context{})
	require.NoError(t, err)

	labels := payload["labels"].([]any)
	assert.Equal(t, []any{"bug", "production"}, labels)
	assert.Contains(t, payload["title"], "ZeroDivisionError")

	assert.Equal(t, "https://github.com/insiderhq/demo/issues/12", partial["github_issue_url"])
	assert.Equal(t, "#12", partial["issue_key"])
}

func TestGithubRunAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Bad credentials"}`)
	}))
	defer server.Close()

	backend := &GithubBackend{
		cfg:     Config{"repo_owner": "o", "repo_name": "r", "access_token": "bad"},
		client:  server.Client(),
		apiBase: server.URL,
	}

	_, err := backend.Run(context.Background(), testFootprint(), Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestGithubRunIncompleteResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number":12}`)
	}))
	defer server.Close()

	backend := &GithubBackend{
		cfg:     Config{"repo_owner": "o", "repo_name": "r", "access_token": "t"},
		client:  server.Client(),
		apiBase: server.URL,
	}

	_, err := backend.Run(context.Background(), testFootprint(), Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing issue url")
}

func TestEmailRunSendsMessage(t *testing.T) {
	var (
		gotAddr       string
		gotRecipients []string
		gotMessage    string
	)
	backend := &EmailBackend{
		cfg: Config{
			"sender_email":    "alerts@example.com",
			"app_password":    "app-pass",
			"recipient_email": "ops@example.com, dev@example.com",
		},
		send: func(addr, sender, password string, recipients []string, message []byte) error {
			gotAddr = addr
			gotRecipients = recipients
			gotMessage = string(message)
			return nil
		},
	}

	shared := Context{}
	shared.Merge(shared.AppendIssue(Issue{System: "GitHub", URL: "https://github.com/o/r/issues/3", Key: "#3"}))

	partial, err := backend.Run(context.Background(), testFootprint(), shared)
	require.NoError(t, err)
	assert.Equal(t, true, partial["email_sent"])

	assert.Equal(t, "smtp.gmail.com:465", gotAddr)
	assert.Equal(t, []string{"ops@example.com", "dev@example.com"}, gotRecipients)
	assert.Contains(t, gotMessage, "Subject: [Insider Alert] ZeroDivisionError at /api/orders/42")
	assert.Contains(t, gotMessage, "Content-Type: text/html")
	assert.Contains(t, gotMessage, "github.com/o/r/issues/3")
	assert.Contains(t, gotMessage, "checkout/views.py")
}

func TestEmailRunSendFailure(t *testing.T) {
	backend := &EmailBackend{
		cfg: Config{
			"sender_email":    "alerts@example.com",
			"app_password":    "app-pass",
			"recipient_email": "ops@example.com",
		},
		send: func(string, string, string, []string, []byte) error {
			return fmt.Errorf("smtp auth: 535 bad credentials")
		},
	}

	_, err := backend.Run(context.Background(), testFootprint(), Context{})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryableError(err))
}

func TestEmailRunMissingConfig(t *testing.T) {
	backend := &EmailBackend{cfg: Config{"sender_email": "a@b.c"}}
	_, err := backend.Run(context.Background(), testFootprint(), Context{})
	assert.ErrorIs(t, err, apperrors.ErrMissingConfig)
}

func TestFormatLogSnippetTruncation(t *testing.T) {
	assert.Equal(t, "No logs captured.", formatLogSnippet(nil))

	long := strings.Repeat("x", 2000)
	snippet := formatLogSnippet([]string{long})
	assert.True(t, strings.HasPrefix(snippet, "```\n..."))
	assert.LessOrEqual(t, len(snippet), slackLogSnippetLimit+len("```\n...\n```"))
}
