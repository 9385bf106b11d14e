package report

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insiderhq/insider/internal/crypto"
	"github.com/insiderhq/insider/internal/footprint"
	"github.com/insiderhq/insider/internal/incidence"
	"github.com/insiderhq/insider/internal/integrations"
)

func seededStore(t *testing.T) *incidence.Store {
	t.Helper()

	store, err := incidence.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		fp := footprint.FromPayload(map[string]any{
			"request_path":   "/api/orders/42",
			"request_method": "POST",
			"status_code":    float64(500),
			"exception_name": "ZeroDivisionError",
		})
		require.NoError(t, store.InsertFootprint(fp))

		inc, _, err := store.Upsert(footprint.Fingerprint(fp), fp.Title(), now)
		require.NoError(t, err)
		require.NoError(t, store.LinkFootprint(fp.ID, inc.ID))
	}
	return store
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat("pdf")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	_, err = ParseFormat("docx")
	assert.Error(t, err)
}

func TestGenerateCSV(t *testing.T) {
	gen := NewGenerator(seededStore(t))

	out, contentType, err := gen.Generate(24*time.Hour, time.Now().UTC().Add(time.Minute), FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)

	body := string(out)
	assert.Contains(t, body, "# Insider Activity Report")
	assert.Contains(t, body, "New Incidences,1")
	assert.Contains(t, body, "Total Footprints,3")
	assert.Contains(t, body, "ZeroDivisionError at /api/orders/42,3")
}

func TestGenerateCSVEmptyWindow(t *testing.T) {
	store, err := incidence.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	out, _, err := NewGenerator(store).Generate(24*time.Hour, time.Now().UTC(), FormatCSV)
	require.NoError(t, err)
	assert.Contains(t, string(out), "No error activity in this window")
}

func TestGeneratePDF(t *testing.T) {
	gen := NewGenerator(seededStore(t))

	out, contentType, err := gen.Generate(24*time.Hour, time.Now().UTC().Add(time.Minute), FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", contentType)
	require.NotEmpty(t, out)
	assert.True(t, strings.HasPrefix(string(out), "%PDF"))
}

func TestFilename(t *testing.T) {
	end := time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, "insider-report-2026-08-30.csv", Filename(end, FormatCSV))
	assert.Equal(t, "insider-report-2026-08-30.pdf", Filename(end, FormatPDF))
}

func newMailerFixture(t *testing.T) (*Mailer, *integrations.ConfigStore) {
	t.Helper()
	dir := t.TempDir()

	secrets, err := crypto.NewManager(dir)
	require.NoError(t, err)
	store, err := integrations.NewConfigStore(dir, secrets)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Sync(integrations.Definitions()))
	return NewMailer(store, zerolog.Nop()), store
}

func TestMailerDeliver(t *testing.T) {
	mailer, store := newMailerFixture(t)
	require.NoError(t, store.SetValue("email", "sender_email", "alerts@example.com"))
	require.NoError(t, store.SetValue("email", "app_password", "app-pass"))

	var (
		gotAddr    string
		gotMessage string
	)
	mailer.send = func(addr, sender, password string, recipients []string, message []byte) error {
		gotAddr = addr
		gotMessage = string(message)
		assert.Equal(t, "alerts@example.com", sender)
		assert.Equal(t, "app-pass", password)
		assert.Equal(t, []string{"ops@example.com"}, recipients)
		return nil
	}

	stats := incidence.Stats{
		WindowStart:   time.Date(2026, 8, 29, 6, 0, 0, 0, time.UTC),
		WindowEnd:     time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC),
		NewIncidences: 2,
	}

	err := mailer.Deliver([]string{"ops@example.com"}, []byte("csv,data"), FormatCSV, stats)
	require.NoError(t, err)

	assert.Equal(t, "smtp.gmail.com:465", gotAddr)
	assert.Contains(t, gotMessage, "Subject: Insider Daily Report 2026-08-30")
	assert.Contains(t, gotMessage, `filename="insider-report-2026-08-30.csv"`)
	assert.Contains(t, gotMessage, "multipart/mixed")
	assert.Contains(t, gotMessage, "New incidences:      2")
}

func TestMailerDeliverMissingCredentials(t *testing.T) {
	mailer, _ := newMailerFixture(t)
	mailer.send = func(string, string, string, []string, []byte) error {
		t.Fatal("send should not be reached without credentials")
		return nil
	}

	err := mailer.Deliver([]string{"ops@example.com"}, []byte("x"), FormatCSV, incidence.Stats{})
	assert.Error(t, err)
}
