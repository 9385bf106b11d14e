package incidence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insiderhq/insider/internal/footprint"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testFootprint(path string, statusCode int, createdAt time.Time) *footprint.Footprint {
	fp := footprint.FromPayload(map[string]any{
		"request_path":   path,
		"request_method": "get",
		"status_code":    statusCode,
	})
	fp.CreatedAt = createdAt
	return fp
}

func TestUpsertCreatesThenIncrements(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	inc, created, err := store.Upsert("fp-1", "KeyError at /cart", now)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), inc.OccurrenceCount)
	assert.Equal(t, StatusOpen, inc.Status)
	assert.Nil(t, inc.LastNotified)

	later := now.Add(time.Minute)
	inc, created, err = store.Upsert("fp-1", "KeyError at /cart", later)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(2), inc.OccurrenceCount)
	assert.True(t, inc.LastSeen.After(inc.FirstSeen))
}

func TestUpsertConcurrentSameFingerprint(t *testing.T) {
	store := newTestStore(t)
	const n = 32

	var wg sync.WaitGroup
	createdCount := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := store.Upsert("fp-race", "Race at /checkout", time.Now())
			if err != nil {
				t.Error(err)
				return
			}
			createdCount <- created
		}()
	}
	wg.Wait()
	close(createdCount)

	creates := 0
	for created := range createdCount {
		if created {
			creates++
		}
	}
	assert.Equal(t, 1, creates, "exactly one caller observes creation")

	inc, err := store.GetByFingerprint("fp-race")
	require.NoError(t, err)
	assert.Equal(t, int64(n), inc.OccurrenceCount)

	all, err := store.List("", 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMarkNotified(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	inc, _, err := store.Upsert("fp-2", "T", now)
	require.NoError(t, err)

	require.NoError(t, store.MarkNotified(inc.ID, now, false))
	got, err := store.Get(inc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastNotified)
	assert.WithinDuration(t, now, *got.LastNotified, time.Second)
	assert.Equal(t, StatusOpen, got.Status)
}

func TestMarkNotifiedReopens(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	inc, _, err := store.Upsert("fp-3", "T", now)
	require.NoError(t, err)

	_, err = store.BulkSetStatus([]int64{inc.ID}, StatusResolved)
	require.NoError(t, err)

	require.NoError(t, store.MarkNotified(inc.ID, now, true))
	got, err := store.Get(inc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, got.Status)
}

func TestBulkSetStatusIdempotent(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	a, _, err := store.Upsert("fp-a", "A", now)
	require.NoError(t, err)
	b, _, err := store.Upsert("fp-b", "B", now)
	require.NoError(t, err)

	affected, err := store.BulkSetStatus([]int64{a.ID, b.ID, 99999}, StatusResolved)
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	// repeat is a no-op
	affected, err = store.BulkSetStatus([]int64{a.ID, b.ID}, StatusResolved)
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)

	// occurrence count untouched by status transitions
	got, err := store.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.OccurrenceCount)
}

func TestBulkSetStatusRejectsUnknownStatus(t *testing.T) {
	store := newTestStore(t)
	_, err := store.BulkSetStatus([]int64{1}, Status("ARCHIVED"))
	assert.Error(t, err)
}

func TestInsertAndLinkFootprint(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	fp := footprint.FromPayload(map[string]any{
		"request_path":   "/orders/42",
		"request_method": "post",
		"status_code":    500,
		"exception_name": "IntegrityError",
		"system_logs":    []any{"constraint violated"},
	})
	require.NoError(t, store.InsertFootprint(fp))

	inc, _, err := store.Upsert(footprint.Fingerprint(fp), fp.Title(), now)
	require.NoError(t, err)
	require.NoError(t, store.LinkFootprint(fp.ID, inc.ID))

	stats, err := store.ReportStats(time.Hour, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ServerErrors)
	require.Len(t, stats.TopOffenders, 1)
	assert.Equal(t, "IntegrityError at /orders/42", stats.TopOffenders[0].Title)
}

func TestRecordErrorCommitsAsUnit(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	fp := testFootprint("/api/orders/42", 500, now)
	rec, err := store.RecordError(fp, footprint.Fingerprint(fp), now, time.Hour)
	require.NoError(t, err)
	assert.True(t, rec.Created)
	assert.True(t, rec.Decision.Notify)
	require.NotNil(t, rec.Incidence.LastNotified)

	var linked int64
	require.NoError(t, store.db.QueryRow(`SELECT incidence_id FROM footprints WHERE id = ?`, fp.ID).Scan(&linked))
	assert.Equal(t, rec.Incidence.ID, linked)

	got, err := store.Get(rec.Incidence.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastNotified)
}

func TestRecordErrorRollsBackWhenUpsertFails(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	// Fail the sequence after the footprint insert has gone through.
	_, err := store.db.Exec(`
		CREATE TRIGGER reject_incidences BEFORE INSERT ON incidences
		BEGIN SELECT RAISE(ABORT, 'storage offline'); END`)
	require.NoError(t, err)

	fp := testFootprint("/api/orders/42", 500, now)
	_, err = store.RecordError(fp, footprint.Fingerprint(fp), now, time.Hour)
	require.Error(t, err)

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM footprints`).Scan(&count))
	assert.Equal(t, 0, count, "failed record must not leave an orphan footprint")
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM incidences`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestRecordErrorRollsBackWhenNotifyMarkFails(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	fp := testFootprint("/api/orders/42", 500, now)
	rec, err := store.RecordError(fp, footprint.Fingerprint(fp), now, time.Hour)
	require.NoError(t, err)
	_, err = store.BulkSetStatus([]int64{rec.Incidence.ID}, StatusResolved)
	require.NoError(t, err)

	// The recurrence reopens and notifies, so it must write last_notified;
	// blocking that write has to undo the occurrence bump too.
	_, err = store.db.Exec(`
		CREATE TRIGGER reject_notify BEFORE UPDATE OF last_notified ON incidences
		BEGIN SELECT RAISE(ABORT, 'notify disabled'); END`)
	require.NoError(t, err)

	again := testFootprint("/api/orders/42", 500, now.Add(time.Minute))
	_, err = store.RecordError(again, footprint.Fingerprint(again), now.Add(time.Minute), time.Hour)
	require.Error(t, err)

	got, err := store.Get(rec.Incidence.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.OccurrenceCount)
	assert.Equal(t, StatusResolved, got.Status)

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM footprints`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSweepFootprints(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	fresh := testFootprint("/fresh", 200, now)
	old := testFootprint("/old", 200, now.AddDate(0, 0, -31))
	require.NoError(t, store.InsertFootprint(fresh))
	require.NoError(t, store.InsertFootprint(old))

	deleted, err := store.SweepFootprints(30, false, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestSweepDisabledIsNoOp(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, store.InsertFootprint(testFootprint("/old", 200, now.AddDate(0, 0, -365))))

	deleted, err := store.SweepFootprints(0, false, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	deleted, err = store.SweepFootprints(-1, false, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
}

func TestSweepOrphanPolicy(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	old := testFootprint("/gone", 500, now.AddDate(0, 0, -40))
	require.NoError(t, store.InsertFootprint(old))
	inc, _, err := store.Upsert("fp-orphan", "Gone", now.AddDate(0, 0, -40))
	require.NoError(t, err)
	require.NoError(t, store.LinkFootprint(old.ID, inc.ID))

	// default policy keeps the orphaned incidence
	_, err = store.SweepFootprints(30, false, now)
	require.NoError(t, err)
	_, err = store.GetByFingerprint("fp-orphan")
	assert.NoError(t, err)

	// re-create the aged footprint, then sweep with orphan deletion enabled
	old2 := testFootprint("/gone", 500, now.AddDate(0, 0, -40))
	require.NoError(t, store.InsertFootprint(old2))
	require.NoError(t, store.LinkFootprint(old2.ID, inc.ID))

	_, err = store.SweepFootprints(30, true, now)
	require.NoError(t, err)
	_, err = store.GetByFingerprint("fp-orphan")
	assert.Error(t, err)
}

func TestReportStatsWindow(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	inside := testFootprint("/in", 500, now.Add(-time.Hour))
	outside := testFootprint("/out", 500, now.Add(-48*time.Hour))
	require.NoError(t, store.InsertFootprint(inside))
	require.NoError(t, store.InsertFootprint(outside))

	stats, err := store.ReportStats(24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalFootprints)
	assert.Equal(t, int64(1), stats.ServerErrors)
}
