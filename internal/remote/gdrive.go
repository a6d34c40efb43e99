package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/tasksync/internal/document"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	DefaultDriveFileName = "data.json"
	driveTokenURL        = "https://oauth2.googleapis.com/token"
)

type GoogleDriveConfig struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	TokenURL     string
	FileName     string
	FolderID     string
	// Endpoint overrides the Drive API base, e.g. "http://127.0.0.1:8080/drive/v3/".
	Endpoint   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// GoogleDrive stores the document as a named file in the user's Drive.
// Writes are plain overwrites; Drive revisions are not used as tokens.
type GoogleDrive struct {
	service  *drive.Service
	fileName string
	folderID string

	mu     sync.Mutex
	fileID string
}

func NewGoogleDrive(ctx context.Context, cfg GoogleDriveConfig) (*GoogleDrive, error) {
	accessToken := strings.TrimSpace(cfg.AccessToken)
	refreshToken := strings.TrimSpace(cfg.RefreshToken)
	if accessToken == "" && refreshToken == "" {
		return nil, newError(ModeGoogleDrive, "configure", KindNotConfigured, errors.New("access or refresh token is required"))
	}
	base := cfg.HTTPClient
	if base == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		base = &http.Client{Timeout: timeout}
	}
	token := &oauth2.Token{AccessToken: accessToken, RefreshToken: refreshToken, TokenType: "Bearer"}
	var source oauth2.TokenSource = oauth2.StaticTokenSource(token)
	if refreshToken != "" && strings.TrimSpace(cfg.ClientID) != "" {
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: firstNonEmpty(cfg.TokenURL, driveTokenURL)},
		}
		source = oauthCfg.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, base), token)
	}
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base), source)

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, newError(ModeGoogleDrive, "configure", KindNotConfigured, err)
	}
	return &GoogleDrive{
		service:  service,
		fileName: firstNonEmpty(cfg.FileName, DefaultDriveFileName),
		folderID: strings.TrimSpace(cfg.FolderID),
	}, nil
}

func (g *GoogleDrive) Mode() Mode {
	return ModeGoogleDrive
}

func (g *GoogleDrive) CheckAvailability(ctx context.Context) bool {
	_, err := g.service.About.Get().Fields("user(emailAddress)").Context(ctx).Do()
	return err == nil
}

func (g *GoogleDrive) FetchData(ctx context.Context) (Snapshot, error) {
	fileID, err := g.lookupFile(ctx, "fetch")
	if err != nil {
		return Snapshot{}, err
	}
	if fileID == "" {
		return Snapshot{Doc: document.New()}, nil
	}
	resp, err := g.service.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		err = classifyDrive("fetch", err)
		if KindOf(err) == KindNotFound {
			g.forgetFile()
			return Snapshot{Doc: document.New()}, nil
		}
		return Snapshot{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Snapshot{}, newError(ModeGoogleDrive, "fetch", KindRemoteUnavailable, err)
	}
	doc, err := decodeDocument(ModeGoogleDrive, "fetch", body)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Doc: doc}, nil
}

func (g *GoogleDrive) UpdateData(ctx context.Context, w Write) (WriteResult, error) {
	body, err := document.EncodeIndent(w.Doc)
	if err != nil {
		return WriteResult{}, newError(ModeGoogleDrive, "update", KindInvalidData, err)
	}
	fileID, err := g.lookupFile(ctx, "update")
	if err != nil {
		return WriteResult{}, err
	}
	media := googleapi.ContentType("application/json")
	if fileID != "" {
		_, err = g.service.Files.Update(fileID, &drive.File{}).
			Media(bytes.NewReader(body), media).
			Fields("id").
			Context(ctx).
			Do()
		if err != nil {
			return WriteResult{}, classifyDrive("update", err)
		}
		return WriteResult{Persisted: true}, nil
	}

	meta := &drive.File{Name: g.fileName, MimeType: "application/json"}
	if g.folderID != "" {
		meta.Parents = []string{g.folderID}
	}
	created, err := g.service.Files.Create(meta).
		Media(bytes.NewReader(body), media).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return WriteResult{}, classifyDrive("update", err)
	}
	g.mu.Lock()
	g.fileID = created.Id
	g.mu.Unlock()
	return WriteResult{Persisted: true}, nil
}

// lookupFile resolves the document's file id by name, caching it. An empty id
// with a nil error means the file does not exist yet.
func (g *GoogleDrive) lookupFile(ctx context.Context, op string) (string, error) {
	g.mu.Lock()
	cached := g.fileID
	g.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	query := fmt.Sprintf("name = '%s' and trashed = false", escapeDriveQuery(g.fileName))
	if g.folderID != "" {
		query += fmt.Sprintf(" and '%s' in parents", escapeDriveQuery(g.folderID))
	}
	list, err := g.service.Files.List().
		Q(query).
		Spaces("drive").
		Fields("files(id, name)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", classifyDrive(op, err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	g.mu.Lock()
	g.fileID = list.Files[0].Id
	g.mu.Unlock()
	return list.Files[0].Id, nil
}

func (g *GoogleDrive) forgetFile() {
	g.mu.Lock()
	g.fileID = ""
	g.mu.Unlock()
}

func classifyDrive(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &Error{
			Kind:       kindForStatus(apiErr.Code),
			Mode:       ModeGoogleDrive,
			Op:         op,
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return newError(ModeGoogleDrive, op, KindAuthFailure, err)
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return newError(ModeGoogleDrive, op, KindInvalidData, err)
	}
	return newError(ModeGoogleDrive, op, KindRemoteUnavailable, err)
}

func escapeDriveQuery(value string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
}
