// Package gdrive backs up recordings and the incident journal to Google Drive.
package gdrive

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const journalDocMimeType = "application/vnd.google-apps.document"

// Files is the subset of the Drive files API used here.
type Files interface {
	Create(ctx context.Context, meta *drive.File, media io.Reader) (string, error)
	Update(ctx context.Context, fileID string, media io.Reader) error
}

type Syncer struct {
	files    Files
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewSyncer(ctx context.Context, credPath, folderID string) (*Syncer, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return NewSyncerWithFiles(driveFiles{svc: svc}, folderID), nil
}

func NewSyncerWithFiles(files Files, folderID string) *Syncer {
	return &Syncer{
		files:    files,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}
}

// Upload stores a recording as a new Drive file and returns its id.
func (s *Syncer) Upload(ctx context.Context, localPath, name, mimeType string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	id, err := s.files.Create(ctx, &drive.File{
		Name:     name,
		MimeType: mimeType,
		Parents:  s.parents(),
	}, f)
	if err != nil {
		return "", fmt.Errorf("drive create: %w", err)
	}
	return id, nil
}

// SyncJournal mirrors one day's journal into a Google Doc, creating it on
// first sync and replacing its contents afterwards.
func (s *Syncer) SyncJournal(ctx context.Context, localPath, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	if fileID, ok := s.fileIDs[date]; ok {
		if err := s.files.Update(ctx, fileID, f); err != nil {
			return fmt.Errorf("drive update: %w", err)
		}
		return nil
	}

	id, err := s.files.Create(ctx, &drive.File{
		Name:     fmt.Sprintf("knowyourrights-journal-%s", date),
		MimeType: journalDocMimeType,
		Parents:  s.parents(),
	}, f)
	if err != nil {
		return fmt.Errorf("drive create: %w", err)
	}

	s.fileIDs[date] = id
	return nil
}

func (s *Syncer) parents() []string {
	if s.folderID == "" {
		return nil
	}
	return []string{s.folderID}
}

type driveFiles struct {
	svc *drive.Service
}

func (d driveFiles) Create(ctx context.Context, meta *drive.File, media io.Reader) (string, error) {
	file, err := d.svc.Files.Create(meta).Media(media).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return file.Id, nil
}

func (d driveFiles) Update(ctx context.Context, fileID string, media io.Reader) error {
	_, err := d.svc.Files.Update(fileID, &drive.File{}).Media(media).Context(ctx).Do()
	return err
}
