package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/meetscribe/meetscribe/internal/types"
)

// DriveUploader mirrors exported transcript files to a Google Drive folder.
// It is an optional delivery target; failures never block export or webhook.
type DriveUploader struct {
	service    *drive.Service
	folderName string
	folderID   string
}

// NewDriveUploader creates a Drive uploader from stored OAuth credentials.
// A previously issued token file must exist; the server cannot run the
// interactive consent flow.
func NewDriveUploader(credentialsFile, tokenFile, folderName string) (*DriveUploader, error) {
	ctx := context.Background()

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read oauth token (run the authorization flow first): %w", err)
	}
	client := config.Client(ctx, tok)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}

	du := &DriveUploader{service: srv, folderName: folderName}
	if err := du.ensureFolder(); err != nil {
		return nil, err
	}
	return du, nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func (du *DriveUploader) ensureFolder() error {
	query := fmt.Sprintf("name='%s' and mimeType='application/vnd.google-apps.folder' and trashed=false",
		du.folderName)

	r, err := du.service.Files.List().Q(query).Spaces("drive").Fields("files(id, name)").Do()
	if err != nil {
		return fmt.Errorf("unable to search for folder: %w", err)
	}
	if len(r.Files) > 0 {
		du.folderID = r.Files[0].Id
		return nil
	}

	folder := &drive.File{
		Name:     du.folderName,
		MimeType: "application/vnd.google-apps.folder",
	}
	file, err := du.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return fmt.Errorf("unable to create folder: %w", err)
	}
	du.folderID = file.Id
	return nil
}

// UploadExport uploads an exported transcript file plus a metadata sidecar
// and returns a shareable link.
func (du *DriveUploader) UploadExport(localPath string, rec types.MeetingRecord) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open export: %w", err)
	}
	defer f.Close()

	txtFile := &drive.File{
		Name:    filepath.Base(localPath),
		Parents: []string{du.folderID},
	}
	created, err := du.service.Files.Create(txtFile).Media(f).Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload transcript: %w", err)
	}

	metadata := map[string]any{
		"meetingSoftware":       rec.MeetingSoftware,
		"meetingTitle":          rec.MeetingTitle,
		"meetingStartTimestamp": rec.MeetingStartTimestamp,
		"meetingEndTimestamp":   rec.MeetingEndTimestamp,
		"turnCount":             len(rec.Transcript),
		"chatMessageCount":      len(rec.ChatMessages),
		"uploadedAt":            time.Now().Format(time.RFC3339),
	}
	metaJSON, _ := json.MarshalIndent(metadata, "", "  ")
	metaFile := &drive.File{
		Name:    filepath.Base(localPath) + ".meta.json",
		Parents: []string{du.folderID},
	}
	// Sidecar upload is best effort; the transcript itself already made it.
	if tmp, terr := os.CreateTemp("", "meetscribe-meta-*.json"); terr == nil {
		defer os.Remove(tmp.Name())
		defer tmp.Close()
		if _, werr := tmp.Write(metaJSON); werr == nil {
			tmp.Seek(0, 0)
			du.service.Files.Create(metaFile).Media(tmp).Do()
		}
	}

	return fmt.Sprintf("https://drive.google.com/file/d/%s/view", created.Id), nil
}
