package db

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PowerSchill/automation-concierge/internal/clock"
	"github.com/PowerSchill/automation-concierge/internal/logging"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T, opts ...Option) (*Database, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(testStart)
	opts = append([]Option{WithClock(clk)}, opts...)
	database, err := Open(filepath.Join(t.TempDir(), "state", "state.db"), opts...)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database, clk
}

func TestOpen_WALAndPermissions(t *testing.T) {
	database, _ := openTestDB(t)

	var mode string
	if err := database.conn.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to read journal mode: %v", err)
	}
	if strings.ToLower(mode) != "wal" {
		t.Errorf("expected WAL journal mode, got %q", mode)
	}

	info, err := os.Stat(database.Path())
	if err != nil {
		t.Fatalf("failed to stat database: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected mode 0600, got %o", perm)
	}

	dirInfo, err := os.Stat(filepath.Dir(database.Path()))
	if err != nil {
		t.Fatalf("failed to stat directory: %v", err)
	}
	if perm := dirInfo.Mode().Perm(); perm != 0700 {
		t.Errorf("expected directory mode 0700, got %o", perm)
	}
}

func TestOpen_MigratesOnceAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := first.MarkProcessed("evt-1", "mention", DispositionNoMatch); err != nil {
		t.Fatalf("failed to mark processed: %v", err)
	}
	first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatalf("failed to reopen database: %v", err)
	}
	defer second.Close()

	version, err := second.SchemaVersion()
	if err != nil {
		t.Fatalf("failed to read schema version: %v", err)
	}
	if version != targetVersion(migrations) {
		t.Errorf("expected schema version %d, got %d", targetVersion(migrations), version)
	}

	var rows int
	if err := second.conn.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&rows); err != nil {
		t.Fatalf("failed to count versions: %v", err)
	}
	if rows != version {
		t.Errorf("expected one schema_version row per migration, got %d", rows)
	}

	ok, err := second.IsProcessed("evt-1")
	if err != nil || !ok {
		t.Errorf("expected state to survive reopen, got %v (err=%v)", ok, err)
	}
}

func TestMigrate_GapIsFatal(t *testing.T) {
	conn, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "gap.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer conn.Close()

	database := &Database{conn: conn, clock: clock.NewFake(testStart), logger: logging.Discard()}
	registry := map[int]migration{1: migrations[1], 3: migrations[3]}

	err = database.migrate(registry)
	if err == nil {
		t.Fatal("expected error for missing migration")
	}
	if !strings.Contains(err.Error(), "migration 2 missing") {
		t.Errorf("unexpected error: %v", err)
	}

	version, _ := database.SchemaVersion()
	if version != 1 {
		t.Errorf("expected version 1 applied before the gap, got %d", version)
	}
}

func TestCheckpoint_Monotonic(t *testing.T) {
	database, clk := openTestDB(t)

	cp, err := database.GetCheckpoint(DefaultCheckpointID)
	if err != nil {
		t.Fatalf("failed to get checkpoint: %v", err)
	}
	if cp.LastEventTimestamp.Valid || cp.LastPollTimestamp.Valid {
		t.Fatalf("expected empty checkpoint, got %+v", cp)
	}

	t1 := testStart.Add(-2 * time.Hour)
	t2 := testStart.Add(-1 * time.Hour)

	cp.Update(t2, clk.Now(), clk.Now())
	if err := database.SaveCheckpoint(cp); err != nil {
		t.Fatalf("failed to save checkpoint: %v", err)
	}

	// an older event timestamp must not move the checkpoint back
	cp.Update(t1, clk.Now(), clk.Now())
	if !cp.LastEventTimestamp.Time.Equal(t2) {
		t.Errorf("in-memory update moved backwards to %v", cp.LastEventTimestamp.Time)
	}
	stale := &Checkpoint{ID: DefaultCheckpointID}
	stale.Update(t1, clk.Now(), clk.Now())
	if err := database.SaveCheckpoint(stale); err != nil {
		t.Fatalf("failed to save stale checkpoint: %v", err)
	}

	got, err := database.GetCheckpoint(DefaultCheckpointID)
	if err != nil {
		t.Fatalf("failed to get checkpoint: %v", err)
	}
	if !got.LastEventTimestamp.Valid || !got.LastEventTimestamp.Time.Equal(t2) {
		t.Errorf("expected stored checkpoint %v, got %+v", t2, got.LastEventTimestamp)
	}
	if !got.LastPollTimestamp.Time.Equal(testStart) {
		t.Errorf("expected poll timestamp %v, got %v", testStart, got.LastPollTimestamp.Time)
	}

	// a zero event time keeps the stored value
	clk.Advance(time.Minute)
	empty := &Checkpoint{ID: DefaultCheckpointID}
	empty.Update(time.Time{}, clk.Now(), clk.Now())
	if err := database.SaveCheckpoint(empty); err != nil {
		t.Fatalf("failed to save checkpoint: %v", err)
	}
	got, _ = database.GetCheckpoint(DefaultCheckpointID)
	if !got.LastEventTimestamp.Time.Equal(t2) {
		t.Errorf("expected event timestamp kept at %v, got %v", t2, got.LastEventTimestamp.Time)
	}
	if !got.LastPollTimestamp.Time.Equal(clk.Now()) {
		t.Errorf("expected poll timestamp advanced, got %v", got.LastPollTimestamp.Time)
	}
}

func TestProcessedEvents(t *testing.T) {
	database, _ := openTestDB(t)

	ok, err := database.IsProcessed("evt-1")
	if err != nil {
		t.Fatalf("failed to check processed: %v", err)
	}
	if ok {
		t.Fatal("expected unprocessed event")
	}

	if err := database.MarkProcessed("evt-1", "mention", DispositionActionExecuted); err != nil {
		t.Fatalf("failed to mark processed: %v", err)
	}
	// marking again is an upsert
	if err := database.MarkProcessed("evt-1", "mention", DispositionError); err != nil {
		t.Fatalf("failed to re-mark processed: %v", err)
	}

	ev, err := database.GetProcessedEvent("evt-1")
	if err != nil {
		t.Fatalf("failed to get processed event: %v", err)
	}
	if ev.Disposition != DispositionError {
		t.Errorf("expected latest disposition, got %s", ev.Disposition)
	}
	if want := testStart.Add(30 * 24 * time.Hour); !ev.TTLExpiresAt.Equal(want) {
		t.Errorf("expected ttl %v, got %v", want, ev.TTLExpiresAt)
	}

	missing, err := database.GetProcessedEvent("evt-2")
	if err != nil || missing != nil {
		t.Errorf("expected nil for unknown event, got %+v (err=%v)", missing, err)
	}
}

func TestCleanupExpired_Retention(t *testing.T) {
	database, clk := openTestDB(t, WithRetentionDays(30))

	if err := database.MarkProcessed("evt-old", "mention", DispositionNoMatch); err != nil {
		t.Fatalf("failed to mark processed: %v", err)
	}

	clk.Advance(29 * 24 * time.Hour)
	removed, err := database.CleanupExpired()
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("expected nothing removed at day 29, got %d", removed)
	}

	clk.Advance(2 * 24 * time.Hour)
	removed, err = database.CleanupExpired()
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed at day 31, got %d", removed)
	}

	ok, _ := database.IsProcessed("evt-old")
	if ok {
		t.Error("expected expired event to be gone")
	}
}

func TestActionHistory_Idempotent(t *testing.T) {
	database, _ := openTestDB(t)

	for _, result := range []ResultStatus{ResultFailed, ResultSuccess} {
		if err := database.RecordAction("evt-1", "r1", "console", result, "msg"); err != nil {
			t.Fatalf("failed to record action: %v", err)
		}
	}

	var rows int
	if err := database.conn.QueryRow(`SELECT COUNT(*) FROM action_history WHERE event_id = 'evt-1'`).Scan(&rows); err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if rows != 1 {
		t.Errorf("expected exactly one row, got %d", rows)
	}

	rec, err := database.GetAction("evt-1", "r1")
	if err != nil {
		t.Fatalf("failed to get action: %v", err)
	}
	if rec.Result != ResultSuccess {
		t.Errorf("expected latest result success, got %s", rec.Result)
	}

	ok, err := database.HasActionExecuted("evt-1", "r1")
	if err != nil || !ok {
		t.Errorf("expected action executed, got %v (err=%v)", ok, err)
	}
	ok, _ = database.HasActionExecuted("evt-1", "r2")
	if ok {
		t.Error("expected no action for a different rule")
	}
}

func TestThresholdFired_FireOnceAndRearm(t *testing.T) {
	database, _ := openTestDB(t)
	const entity = "acme/widgets#7"

	fired, err := database.HasThresholdFired(entity, "stale-pr", "48h")
	if err != nil || fired {
		t.Fatalf("expected unfired threshold, got %v (err=%v)", fired, err)
	}

	for i := 0; i < 2; i++ {
		if err := database.RecordThresholdFired(entity, "stale-pr", "48h"); err != nil {
			t.Fatalf("failed to record threshold: %v", err)
		}
	}
	if err := database.RecordThresholdFired(entity, "stale-pr", "since:updated_at"); err != nil {
		t.Fatalf("failed to record threshold: %v", err)
	}

	fired, _ = database.HasThresholdFired(entity, "stale-pr", "48h")
	if !fired {
		t.Error("expected threshold fired")
	}
	fired, _ = database.HasThresholdFired(entity, "stale-pr", "72h")
	if fired {
		t.Error("expected a distinct threshold to be unfired")
	}

	markers, err := database.ThresholdsForEntity(entity)
	if err != nil {
		t.Fatalf("failed to list markers: %v", err)
	}
	if len(markers) != 2 {
		t.Fatalf("expected 2 markers, got %d", len(markers))
	}

	cleared, err := database.ClearThresholdFired(entity, "stale-pr", "48h")
	if err != nil || !cleared {
		t.Fatalf("expected marker cleared, got %v (err=%v)", cleared, err)
	}
	cleared, _ = database.ClearThresholdFired(entity, "stale-pr", "48h")
	if cleared {
		t.Error("expected second clear to report nothing removed")
	}
	fired, _ = database.HasThresholdFired(entity, "stale-pr", "48h")
	if fired {
		t.Error("expected threshold re-armed")
	}
}

func TestWithTx_RollsBackOnFailure(t *testing.T) {
	database, _ := openTestDB(t)

	injected := errors.New("disk full")
	database.beforeCommit = func(op string) error { return injected }

	err := database.RecordAction("evt-1", "r1", "console", ResultSuccess, "")
	if !errors.Is(err, injected) {
		t.Fatalf("expected injected error, got %v", err)
	}
	_, err = database.WriteAuditEntry(&AuditEntry{Disposition: DispositionNoMatch, Message: "x"})
	if !errors.Is(err, injected) {
		t.Fatalf("expected injected error, got %v", err)
	}

	database.beforeCommit = nil

	ok, err := database.HasActionExecuted("evt-1", "r1")
	if err != nil {
		t.Fatalf("failed to check action: %v", err)
	}
	if ok {
		t.Error("expected failed transaction to leave no action row")
	}
	entries, err := database.QueryAuditLog(AuditQuery{})
	if err != nil {
		t.Fatalf("failed to query audit log: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no audit entries, got %d", len(entries))
	}
}

func TestSaveCheckpoint_FailedCommitKeepsPrevious(t *testing.T) {
	database, _ := openTestDB(t)

	saved := testStart.Add(-time.Hour)
	cp := &Checkpoint{ID: DefaultCheckpointID}
	cp.Update(saved, testStart, testStart)
	if err := database.SaveCheckpoint(cp); err != nil {
		t.Fatalf("failed to save checkpoint: %v", err)
	}

	before, err := database.GetCheckpoint(DefaultCheckpointID)
	if err != nil {
		t.Fatalf("failed to get checkpoint: %v", err)
	}

	injected := errors.New("disk full")
	database.beforeCommit = func(op string) error { return injected }

	cp.Update(testStart.Add(-time.Minute), testStart.Add(time.Minute), testStart.Add(time.Minute))
	if err := database.SaveCheckpoint(cp); !errors.Is(err, injected) {
		t.Fatalf("expected injected error, got %v", err)
	}
	database.beforeCommit = nil

	after, err := database.GetCheckpoint(DefaultCheckpointID)
	if err != nil {
		t.Fatalf("failed to get checkpoint: %v", err)
	}
	if !after.LastEventTimestamp.Time.Equal(before.LastEventTimestamp.Time) {
		t.Errorf("expected event timestamp %v after rollback, got %v",
			before.LastEventTimestamp.Time, after.LastEventTimestamp.Time)
	}
	if !after.LastPollTimestamp.Time.Equal(before.LastPollTimestamp.Time) {
		t.Errorf("expected poll timestamp %v after rollback, got %v",
			before.LastPollTimestamp.Time, after.LastPollTimestamp.Time)
	}
	if !after.LastEventTimestamp.Time.Equal(saved) {
		t.Errorf("expected checkpoint to stay at %v, got %v", saved, after.LastEventTimestamp.Time)
	}
}

func TestAuditLog_QueryFilters(t *testing.T) {
	database, clk := openTestDB(t)

	write := func(eventID, ruleID string, matched bool) {
		t.Helper()
		_, err := database.WriteAuditEntry(&AuditEntry{
			EventID:        eventID,
			EventType:      "mention",
			EventSource:    "notification",
			RulesEvaluated: []RuleEvaluation{{RuleID: ruleID, Matched: matched}},
			ActionsTaken:   []ActionTaken{{ActionType: "console", Result: "success", RuleID: ruleID}},
			Disposition:    DispositionActionExecuted,
			Message:        "processed " + eventID,
		})
		if err != nil {
			t.Fatalf("failed to write audit entry: %v", err)
		}
		clk.Advance(time.Hour)
	}

	write("evt-1", "mentions", true)
	write("evt-2", "stale-pr", true)
	write("evt-3", "mentions", false)

	all, err := database.QueryAuditLog(AuditQuery{})
	if err != nil {
		t.Fatalf("failed to query audit log: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].EventID != "evt-3" {
		t.Errorf("expected newest entry first, got %s", all[0].EventID)
	}
	if len(all[0].RulesEvaluated) != 1 || all[0].RulesEvaluated[0].RuleID != "mentions" {
		t.Errorf("unexpected decoded rules %+v", all[0].RulesEvaluated)
	}

	byRule, _ := database.QueryAuditLog(AuditQuery{RuleID: "mentions"})
	if len(byRule) != 2 {
		t.Errorf("expected 2 entries for rule, got %d", len(byRule))
	}

	since, _ := database.QueryAuditLog(AuditQuery{Since: testStart.Add(30 * time.Minute)})
	if len(since) != 2 {
		t.Errorf("expected 2 entries since, got %d", len(since))
	}

	limited, _ := database.QueryAuditLog(AuditQuery{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}

	// a nil event id is stored as NULL and read back empty
	if _, err := database.WriteAuditEntry(&AuditEntry{Disposition: DispositionError, Message: "cycle failed"}); err != nil {
		t.Fatalf("failed to write audit entry: %v", err)
	}
	latest, _ := database.QueryAuditLog(AuditQuery{Limit: 1})
	if latest[0].EventID != "" || latest[0].Disposition != DispositionError {
		t.Errorf("unexpected entry %+v", latest[0])
	}
}

func TestPollRunsAndBackoff(t *testing.T) {
	database, clk := openTestDB(t)

	last, err := database.GetLastRun()
	if err != nil || last != nil {
		t.Fatalf("expected no runs, got %+v (err=%v)", last, err)
	}

	run := &PollRun{
		RunID:           "01HZX",
		StartedAt:       clk.Now(),
		EventsSeen:      4,
		EventsProcessed: 3,
		ActionsExecuted: 2,
		Errors:          1,
		ErrorMessage:    sql.NullString{String: "one failed", Valid: true},
		DurationMs:      sql.NullInt64{Int64: 120, Valid: true},
	}
	if err := database.LogRun(run); err != nil {
		t.Fatalf("failed to log run: %v", err)
	}
	if run.ID == 0 {
		t.Error("expected run id assigned")
	}

	last, err = database.GetLastRun()
	if err != nil {
		t.Fatalf("failed to get last run: %v", err)
	}
	if last.EventsSeen != 4 || last.Errors != 1 || !last.StartedAt.Equal(testStart) {
		t.Errorf("unexpected run %+v", last)
	}

	state, err := database.GetBackoffState()
	if err != nil {
		t.Fatalf("failed to get backoff state: %v", err)
	}
	if state.ConsecutiveFailures != 0 || state.LastFailureTime.Valid {
		t.Errorf("expected empty backoff, got %+v", state)
	}

	state.ConsecutiveFailures = 2
	state.LastFailureTime = sql.NullTime{Time: testStart, Valid: true}
	if err := database.SaveBackoffState(state); err != nil {
		t.Fatalf("failed to save backoff state: %v", err)
	}
	got, _ := database.GetBackoffState()
	if got.ConsecutiveFailures != 2 || !got.LastFailureTime.Time.Equal(testStart) {
		t.Errorf("unexpected backoff state %+v", got)
	}

	stats, err := database.Stats()
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}
	if stats.PollRuns != 1 || stats.SchemaVersion != targetVersion(migrations) {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestThresholdMarkersDoNotTouchActionHistory(t *testing.T) {
	database, _ := openTestDB(t)

	if err := database.RecordThresholdFired("evt-1", "r1", "48h"); err != nil {
		t.Fatalf("failed to record threshold: %v", err)
	}
	ok, err := database.HasActionExecuted("evt-1", "r1")
	if err != nil {
		t.Fatalf("failed to check action: %v", err)
	}
	if ok {
		t.Error("threshold marker leaked into action history")
	}

	if err := database.RecordAction("threshold:evt-1", "r1", "console", ResultSuccess, ""); err != nil {
		t.Fatalf("failed to record action: %v", err)
	}
	fired, _ := database.HasThresholdFired("evt-1", "r1", "72h")
	if fired {
		t.Error("action row leaked into threshold markers")
	}
}
