package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/knowyourrights/knowyourrights/internal/storage"
)

type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

type NotifierFunc func(ctx context.Context, a Alert) error

func (f NotifierFunc) Notify(ctx context.Context, a Alert) error {
	return f(ctx, a)
}

// Notifiers delivers an alert to every notifier, even when some fail.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range ns {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier stands in for SMS and phone delivery by logging who would be
// contacted.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, a Alert) error {
	for _, c := range a.Contacts {
		slog.Info("alert: would notify contact", "name", c.Name, "phone", c.Phone, "via", c.Preference, "location", a.Location)
	}
	return nil
}

type AlertLogStore interface {
	InsertAlertLog(ctx context.Context, log storage.AlertLog) error
}

// StoreNotifier records every fired alert in the alert log.
type StoreNotifier struct {
	Store AlertLogStore
}

func (n StoreNotifier) Notify(ctx context.Context, a Alert) error {
	if err := n.Store.InsertAlertLog(ctx, storage.AlertLog{
		ID:         uuid.NewString(),
		FiredAt:    a.FiredAt,
		Location:   a.Location,
		Recipients: Recipients(a),
	}); err != nil {
		return fmt.Errorf("record alert: %w", err)
	}
	return nil
}

type JournalWriter interface {
	Append(entry storage.JournalEntry) error
}

// JournalNotifier appends a line per fired alert to the incident journal.
type JournalNotifier struct {
	Journal JournalWriter
}

func (n JournalNotifier) Notify(_ context.Context, a Alert) error {
	names := make([]string, 0, len(a.Contacts))
	for _, c := range a.Contacts {
		names = append(names, fmt.Sprintf("%s (%s)", c.Name, c.Preference))
	}
	entry := storage.JournalEntry{
		Time: a.FiredAt,
		Kind: "sos",
		Text: fmt.Sprintf("SOS sent to %s. Location: %s", strings.Join(names, ", "), a.Location),
	}
	if err := n.Journal.Append(entry); err != nil {
		return fmt.Errorf("journal alert: %w", err)
	}
	return nil
}

func Recipients(a Alert) []storage.AlertRecipient {
	out := make([]storage.AlertRecipient, 0, len(a.Contacts))
	for _, c := range a.Contacts {
		out = append(out, storage.AlertRecipient{Name: c.Name, Phone: c.Phone, Preference: c.Preference})
	}
	return out
}
