package report

import (
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/insiderhq/insider/internal/errors"
	"github.com/insiderhq/insider/internal/incidence"
	"github.com/insiderhq/insider/internal/integrations"
)

// Mailer delivers rendered reports over email, reusing the credentials of
// the configured email integration so operators set them up once.
type Mailer struct {
	store  *integrations.ConfigStore
	logger zerolog.Logger
	send   func(addr, sender, password string, recipients []string, message []byte) error
}

// NewMailer creates a mailer over the integration config store.
func NewMailer(store *integrations.ConfigStore, logger zerolog.Logger) *Mailer {
	return &Mailer{store: store, logger: logger, send: integrations.SendSMTPS}
}

// Deliver sends a rendered report as an attachment to recipients. The
// email integration must carry sender credentials; it does not need to be
// active, report delivery is controlled separately.
func (m *Mailer) Deliver(recipients []string, payload []byte, format Format, stats incidence.Stats) error {
	cfg, err := m.emailConfig()
	if err != nil {
		return err
	}

	sender := cfg.Get("sender_email")
	password := cfg.Get("app_password")
	if sender == "" || password == "" {
		return fmt.Errorf("report delivery needs the email integration configured: %w", errors.ErrMissingConfig)
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no report recipients configured: %w", errors.ErrMissingConfig)
	}

	filename := Filename(stats.WindowEnd, format)
	subject := fmt.Sprintf("Insider Daily Report %s", stats.WindowEnd.UTC().Format("2006-01-02"))
	message := buildReportMessage(sender, recipients, subject, filename, payload, stats)

	addr := net.JoinHostPort(
		cfg.GetDefault("smtp_host", "smtp.gmail.com"),
		cfg.GetDefault("smtp_port", "465"),
	)
	if err := m.send(addr, sender, password, recipients, message); err != nil {
		return errors.WrapConnectionError("send_report", err)
	}

	m.logger.Info().Int("recipients", len(recipients)).Str("attachment", filename).Msg("Delivered daily report")
	return nil
}

func (m *Mailer) emailConfig() (integrations.Config, error) {
	all, err := m.store.All()
	if err != nil {
		return nil, fmt.Errorf("load integration config: %w", err)
	}
	for _, pi := range all {
		if pi.Identifier == "email" {
			return pi.Config, nil
		}
	}
	return nil, fmt.Errorf("email integration not provisioned: %w", errors.ErrMissingConfig)
}

func buildReportMessage(sender string, recipients []string, subject, filename string, payload []byte, stats incidence.Stats) []byte {
	const boundary = "insider-report-boundary"

	summary := fmt.Sprintf(
		"Insider activity for %s to %s\r\n\r\n"+
			"New incidences:      %d\r\n"+
			"Resolved incidences: %d\r\n"+
			"Server errors (5xx): %d\r\n"+
			"Total footprints:    %d\r\n\r\n"+
			"The full report is attached.\r\n",
		stats.WindowStart.Format(time.RFC1123), stats.WindowEnd.Format(time.RFC1123),
		stats.NewIncidences, stats.ResolvedIncidences, stats.ServerErrors, stats.TotalFootprints,
	)

	contentType := "text/csv"
	if strings.HasSuffix(filename, ".pdf") {
		contentType = "application/pdf"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", sender)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=%q\r\n", boundary)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(summary)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	fmt.Fprintf(&b, "Content-Type: %s; name=%q\r\n", contentType, filename)
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	fmt.Fprintf(&b, "Content-Disposition: attachment; filename=%q\r\n\r\n", filename)

	encoded := base64.StdEncoding.EncodeToString(payload)
	for len(encoded) > 76 {
		b.WriteString(encoded[:76])
		b.WriteString("\r\n")
		encoded = encoded[76:]
	}
	b.WriteString(encoded)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}
