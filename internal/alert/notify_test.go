package alert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/knowyourrights/knowyourrights/internal/profile"
	"github.com/knowyourrights/knowyourrights/internal/storage"
)

func testAlert() Alert {
	return Alert{
		Contacts: []profile.TrustedContact{alex, {ID: "c2", Name: "Sam", Phone: "555-0101", Preference: "sms"}},
		Location: "1.000000, 2.000000",
		FiredAt:  time.Date(2026, 3, 1, 12, 0, 3, 0, time.Local),
	}
}

func TestNotifiersDeliversToAllDespiteErrors(t *testing.T) {
	var calls []string
	ns := Notifiers{
		NotifierFunc(func(context.Context, Alert) error { calls = append(calls, "a"); return errors.New("sms gateway down") }),
		nil,
		NotifierFunc(func(context.Context, Alert) error { calls = append(calls, "b"); return nil }),
	}

	err := ns.Notify(context.Background(), testAlert())
	if err == nil || !strings.Contains(err.Error(), "sms gateway down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if strings.Join(calls, ",") != "a,b" {
		t.Fatalf("expected every notifier to run, got %v", calls)
	}
}

func TestStoreNotifier(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := (StoreNotifier{Store: store}).Notify(context.Background(), testAlert()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	logs, err := store.ListAlertLogs(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListAlertLogs failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected one alert log, got %d", len(logs))
	}
	if logs[0].Location != "1.000000, 2.000000" || len(logs[0].Recipients) != 2 || logs[0].Recipients[1].Preference != "sms" {
		t.Fatalf("unexpected alert log %#v", logs[0])
	}
}

func TestJournalNotifier(t *testing.T) {
	dir := t.TempDir()
	if err := (JournalNotifier{Journal: storage.NewWriter(dir)}).Notify(context.Background(), testAlert()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "2026-03-01.md"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "Alex (both), Sam (sms)") || !strings.Contains(content, "Location: 1.000000, 2.000000") {
		t.Fatalf("unexpected journal content: %s", content)
	}
}

func TestLogNotifier(t *testing.T) {
	if err := (LogNotifier{}).Notify(context.Background(), testAlert()); err != nil {
		t.Fatalf("LogNotifier failed: %v", err)
	}
}
