package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/agentworkforce/tasksync/internal/document"
)

const (
	DefaultDropboxAPIURL     = "https://api.dropboxapi.com"
	DefaultDropboxContentURL = "https://content.dropboxapi.com"
	DefaultDropboxPath       = "/data.json"
	dropboxArgHeader         = "Dropbox-API-Arg"
	dropboxResultHeader      = "Dropbox-API-Result"
)

type DropboxConfig struct {
	AccessToken string
	Path        string
	APIURL      string
	ContentURL  string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// Dropbox stores the document as a single file and uses the file rev as
// its version token.
type Dropbox struct {
	token      string
	path       string
	apiURL     string
	contentURL string
	transport  httpTransport
}

type dropboxMetadata struct {
	Name string `json:"name"`
	Rev  string `json:"rev"`
}

func NewDropbox(cfg DropboxConfig) (*Dropbox, error) {
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, newError(ModeDropbox, "configure", KindNotConfigured, errors.New("access token is required"))
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = DefaultDropboxPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &Dropbox{
		token:      token,
		path:       path,
		apiURL:     strings.TrimRight(firstNonEmpty(cfg.APIURL, DefaultDropboxAPIURL), "/"),
		contentURL: strings.TrimRight(firstNonEmpty(cfg.ContentURL, DefaultDropboxContentURL), "/"),
		transport:  newHTTPTransport(ModeDropbox, cfg.HTTPClient, cfg.Timeout, bearer(token)),
	}, nil
}

func (d *Dropbox) Mode() Mode {
	return ModeDropbox
}

func (d *Dropbox) CheckAvailability(ctx context.Context) bool {
	_, err := d.transport.do(ctx, "probe", httpRequest{
		method: http.MethodPost,
		url:    d.apiURL + "/2/users/get_current_account",
	})
	return err == nil
}

func (d *Dropbox) FetchData(ctx context.Context) (Snapshot, error) {
	arg, err := dropboxArg(map[string]any{"path": d.path})
	if err != nil {
		return Snapshot{}, newError(ModeDropbox, "fetch", KindUnknown, err)
	}
	resp, err := d.transport.do(ctx, "fetch", httpRequest{
		method:  http.MethodPost,
		url:     d.contentURL + "/2/files/download",
		headers: map[string]string{dropboxArgHeader: arg},
	})
	if err != nil {
		err = classifyDropbox(err)
		if KindOf(err) == KindNotFound {
			return Snapshot{Doc: document.New()}, nil
		}
		return Snapshot{}, err
	}
	var meta dropboxMetadata
	if raw := resp.header.Get(dropboxResultHeader); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return Snapshot{}, newError(ModeDropbox, "fetch", KindInvalidData, err)
		}
	}
	doc, err := decodeDocument(ModeDropbox, "fetch", resp.body)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Doc: doc, Version: meta.Rev}, nil
}

func (d *Dropbox) CurrentVersion(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]any{"path": d.path})
	if err != nil {
		return "", newError(ModeDropbox, "version", KindUnknown, err)
	}
	resp, err := d.transport.do(ctx, "version", httpRequest{
		method:  http.MethodPost,
		url:     d.apiURL + "/2/files/get_metadata",
		headers: map[string]string{"Content-Type": "application/json"},
		body:    body,
	})
	if err != nil {
		err = classifyDropbox(err)
		if KindOf(err) == KindNotFound {
			return "", nil
		}
		return "", err
	}
	var meta dropboxMetadata
	if err := json.Unmarshal(resp.body, &meta); err != nil {
		return "", newError(ModeDropbox, "version", KindInvalidData, err)
	}
	return meta.Rev, nil
}

func (d *Dropbox) UpdateData(ctx context.Context, w Write) (WriteResult, error) {
	body, err := document.EncodeIndent(w.Doc)
	if err != nil {
		return WriteResult{}, newError(ModeDropbox, "update", KindInvalidData, err)
	}
	var mode any = "add"
	if w.BaseVersion != "" {
		mode = map[string]string{".tag": "update", "update": w.BaseVersion}
	}
	arg, err := dropboxArg(map[string]any{
		"path":       d.path,
		"mode":       mode,
		"autorename": false,
		"mute":       true,
	})
	if err != nil {
		return WriteResult{}, newError(ModeDropbox, "update", KindUnknown, err)
	}
	resp, err := d.transport.do(ctx, "update", httpRequest{
		method: http.MethodPost,
		url:    d.contentURL + "/2/files/upload",
		headers: map[string]string{
			dropboxArgHeader: arg,
			"Content-Type":   "application/octet-stream",
		},
		body: body,
	})
	if err != nil {
		return WriteResult{}, classifyDropbox(err)
	}
	var meta dropboxMetadata
	if err := json.Unmarshal(resp.body, &meta); err != nil {
		return WriteResult{}, newError(ModeDropbox, "update", KindInvalidData, err)
	}
	return WriteResult{Persisted: true, Version: meta.Rev}, nil
}

// classifyDropbox refines 409 responses, which Dropbox uses for every
// endpoint-specific error, using the error_summary path.
func classifyDropbox(err error) error {
	var remoteErr *Error
	if !errors.As(err, &remoteErr) || remoteErr.StatusCode != http.StatusConflict {
		return err
	}
	summary := remoteErr.Message
	switch {
	case strings.Contains(summary, "not_found"):
		remoteErr.Kind = KindNotFound
	case strings.Contains(summary, "conflict"):
		remoteErr.Kind = KindVersionConflict
	default:
		remoteErr.Kind = KindUnknown
	}
	return remoteErr
}

// dropboxArg encodes the Dropbox-API-Arg header. Header values must be
// ASCII, so everything outside it is written as a JSON \u escape.
func dropboxArg(arg map[string]any) (string, error) {
	encoded, err := json.Marshal(arg)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, r := range string(encoded) {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
			continue
		}
		for _, unit := range utf16.Encode([]rune{r}) {
			fmt.Fprintf(&b, `\u%04x`, unit)
		}
	}
	return b.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
