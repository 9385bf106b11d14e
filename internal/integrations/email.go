package integrations

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/insiderhq/insider/internal/errors"
	"github.com/insiderhq/insider/internal/footprint"
)

func init() {
	register(Definition{
		Identifier: "email",
		Name:       "Email",
		LogoURL:    "https://upload.wikimedia.org/wikipedia/commons/7/7e/Gmail_icon_%282020%29.svg",
		Phase:      PhaseNotify,
		Schema: []ConfigField{
			{Key: "smtp_host", Label: "SMTP Host", Type: FieldString, Default: "smtp.gmail.com"},
			{Key: "smtp_port", Label: "SMTP Port", Type: FieldString, Default: "465"},
			{
				Key:      "sender_email",
				Label:    "Sender Email Address",
				Type:     FieldString,
				Required: true,
				HelpText: "The address sending the alert.",
			},
			{
				Key:      "app_password",
				Label:    "App Password",
				Type:     FieldPassword,
				Required: true,
				HelpText: "Enable 2FA and generate an App Password.",
			},
			{
				Key:      "recipient_email",
				Label:    "Recipient Email(s)",
				Type:     FieldString,
				Required: true,
				HelpText: "Comma-separated list of people to notify.",
			},
		},
	}, func(cfg Config) Backend {
		return &EmailBackend{cfg: cfg, send: SendSMTPS}
	})
}

// sendFunc delivers one assembled message; swapped out in tests.
type sendFunc func(addr, sender, password string, recipients []string, message []byte) error

// EmailBackend sends HTML alert emails over SMTP with implicit TLS.
type EmailBackend struct {
	cfg  Config
	send sendFunc
}

func (e *EmailBackend) Identifier() string { return "email" }
func (e *EmailBackend) Phase() Phase       { return PhaseNotify }

func (e *EmailBackend) Run(ctx context.Context, fp *footprint.Footprint, shared Context) (map[string]any, error) {
	sender := e.cfg.Get("sender_email")
	password := e.cfg.Get("app_password")
	recipientList := e.cfg.Get("recipient_email")

	if sender == "" || password == "" || recipientList == "" {
		log.Warn().Str("integration", "email").Msg("Integration enabled but missing required config")
		return nil, errors.ErrMissingConfig
	}

	recipients := splitLabels(recipientList)
	if len(recipients) == 0 {
		return nil, errors.ErrMissingConfig
	}

	subject := "[Insider Alert] " + fp.Title()
	if title, ok := shared["title"].(string); ok && title != "" {
		subject = "[Insider Alert] " + title
	}

	message := buildEmailMessage(sender, recipients, subject, e.buildHTML(fp, shared))
	addr := net.JoinHostPort(
		e.cfg.GetDefault("smtp_host", "smtp.gmail.com"),
		e.cfg.GetDefault("smtp_port", "465"),
	)

	done := make(chan error, 1)
	go func() { done <- e.send(addr, sender, password, recipients, message) }()

	select {
	case err := <-done:
		if err != nil {
			return nil, errors.WrapConnectionError("send_email", err)
		}
	case <-ctx.Done():
		return nil, errors.NewPipelineError(errors.ErrorTypeTimeout, "send_email", ctx.Err()).WithBackend("email")
	}

	log.Info().Int("recipients", len(recipients)).Msg("Sent email alert")
	return map[string]any{"email_sent": true}, nil
}

func (e *EmailBackend) buildHTML(fp *footprint.Footprint, shared Context) string {
	var links strings.Builder
	for _, issue := range shared.Issues() {
		if issue.URL == "" {
			continue
		}
		fmt.Fprintf(&links, `<p><strong>%s Issue:</strong> <a href="%s">%s</a></p>`,
			html.EscapeString(issue.System), issue.URL, html.EscapeString(issue.Key))
	}

	return fmt.Sprintf(`<html>
  <body>
    <h2 style="color: #d32f2f;">Insider Exception Alert</h2>
    <p><strong>Request:</strong> %s %s</p>
    <p><strong>Status:</strong> %d</p>
    <p><strong>User:</strong> %s</p>
    %s
    <hr>
    <h3>Stack Trace</h3>
    <pre style="background: #f4f4f4; padding: 10px; border-radius: 5px; overflow-x: auto;">%s</pre>
  </body>
</html>`,
		strings.ToUpper(fp.RequestMethod), html.EscapeString(fp.RequestPath),
		fp.StatusCode, html.EscapeString(fp.RequestUser),
		links.String(), html.EscapeString(fp.FormatStackTrace()),
	)
}

func buildEmailMessage(sender string, recipients []string, subject, htmlBody string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", sender)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}

// SendSMTPS delivers one message over SMTP with implicit TLS (port 465
// style). The report mailer shares it.
func SendSMTPS(addr, sender, password string, recipients []string, message []byte) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid smtp address %q: %w", addr, err)
	}

	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}, "tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return fmt.Errorf("dial smtp server: %w", err)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if err := client.Auth(smtp.PlainAuth("", sender, password, host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(sender); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, recipient := range recipients {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", recipient, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := writer.Write(message); err != nil {
		writer.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp finish: %w", err)
	}

	return client.Quit()
}
