package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// JournalEntry is one line of the incident journal.
type JournalEntry struct {
	Time time.Time
	Kind string
	Text string
}

func (e JournalEntry) FormatMarkdown() string {
	return fmt.Sprintf("- **%s** [%s] %s", e.Time.Format("15:04:05"), e.Kind, strings.TrimSpace(e.Text))
}

// Writer appends incident entries to one markdown file per local day.
type Writer struct {
	dir string
	mu  sync.Mutex
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

func (w *Writer) Append(entry JournalEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	path := w.pathFor(entry.Time)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintln(f, entry.FormatMarkdown()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

func (w *Writer) CurrentPath() string {
	return w.pathFor(time.Now())
}

func (w *Writer) pathFor(t time.Time) string {
	return filepath.Join(w.dir, t.Format("2006-01-02")+".md")
}
