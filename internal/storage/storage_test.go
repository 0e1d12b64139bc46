package storage

import (
	"errors"
	"testing"
	"time"

	"agent-sentinel/internal/alerting"
	"agent-sentinel/internal/schema"

	"github.com/google/uuid"
)

func TestMemorySink(t *testing.T) {
	s := NewMemorySink()

	event := &schema.LogEvent{ID: 1, Message: "m", Level: schema.LevelInfo, Source: "agent", IngestedAt: time.Now().UTC()}
	issue := &schema.SecurityIssue{IssueType: "pii_email", Category: schema.CategorySensitiveData, SourceEventID: 1}
	alert := &alerting.Alert{ID: uuid.New(), IssueType: "pii_email"}

	if err := s.WriteEvent(event); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if err := s.WriteIssue(issue); err != nil {
		t.Fatalf("WriteIssue: %v", err)
	}
	if err := s.WriteAlert(alert); err != nil {
		t.Fatalf("WriteAlert: %v", err)
	}

	if got := s.Events(); len(got) != 1 || got[0].ID != 1 {
		t.Errorf("Events() = %v", got)
	}
	if got := s.Issues(); len(got) != 1 {
		t.Errorf("Issues() = %v", got)
	}
	if got := s.Alerts(); len(got) != 1 {
		t.Errorf("Alerts() = %v", got)
	}

	t.Run("closed sink rejects writes", func(t *testing.T) {
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := s.WriteEvent(event); !errors.Is(err, ErrClosed) {
			t.Errorf("WriteEvent after close = %v, want ErrClosed", err)
		}
	})
}

func TestSplitStatements(t *testing.T) {
	sql := `
		CREATE TABLE a (id UInt64) ENGINE = MergeTree() ORDER BY id;
		INSERT INTO a VALUES ('semi;colon');
	`
	statements := splitStatements(sql)
	if len(statements) != 2 {
		t.Fatalf("got %d statements, want 2", len(statements))
	}
	if statements[1] != "INSERT INTO a VALUES ('semi;colon')" {
		t.Errorf("quoted semicolon split: %q", statements[1])
	}
}

func TestLoadMigrations(t *testing.T) {
	m := &Migrator{}
	migrations, err := m.loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(migrations) < 3 {
		t.Fatalf("got %d migrations, want at least 3", len(migrations))
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version <= migrations[i-1].Version {
			t.Errorf("migrations out of order at %d", i)
		}
	}
	if migrations[0].Name != "create_log_events" {
		t.Errorf("first migration = %q", migrations[0].Name)
	}
}

func TestStorageError(t *testing.T) {
	err := WrapInsertError("Flush", "alerts", errors.New("boom"))
	var serr *StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("error type = %T", err)
	}
	if !errors.Is(err, ErrBatchInsertFailed) {
		t.Error("errors.Is(ErrBatchInsertFailed) = false")
	}
	if !IsRetryable(err) {
		t.Error("insert errors should be retryable")
	}
}
