package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentworkforce/tasksync/internal/document"
)

const (
	DefaultGitHubAPIURL = "https://api.github.com"
	DefaultGitHubPath   = "data.json"
	githubBackupDir     = "backups"
	githubBackupLayout  = "20060102T150405Z"
	githubAPIVersion    = "2022-11-28"
)

type GitHubConfig struct {
	Token      string
	Owner      string
	Repo       string
	Path       string
	Branch     string
	APIURL     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// GitHub keeps the document as a file in a repository. The blob sha is the
// version token and every write must present the sha it replaces.
type GitHub struct {
	owner     string
	repo      string
	path      string
	branch    string
	apiURL    string
	transport httpTransport
}

type githubContent struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type githubPutRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

type githubPutResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

func NewGitHub(cfg GitHubConfig) (*GitHub, error) {
	token := strings.TrimSpace(cfg.Token)
	owner := strings.TrimSpace(cfg.Owner)
	repo := strings.TrimSpace(cfg.Repo)
	if token == "" || owner == "" || repo == "" {
		return nil, newError(ModeGitHub, "configure", KindNotConfigured, errors.New("token, owner and repo are required"))
	}
	return &GitHub{
		owner:     owner,
		repo:      repo,
		path:      strings.Trim(firstNonEmpty(cfg.Path, DefaultGitHubPath), "/"),
		branch:    strings.TrimSpace(cfg.Branch),
		apiURL:    strings.TrimRight(firstNonEmpty(cfg.APIURL, DefaultGitHubAPIURL), "/"),
		transport: newHTTPTransport(ModeGitHub, cfg.HTTPClient, cfg.Timeout, githubAuth(token)),
	}, nil
}

func githubAuth(token string) func(req *http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	}
}

func (g *GitHub) Mode() Mode {
	return ModeGitHub
}

func (g *GitHub) CheckAvailability(ctx context.Context) bool {
	_, err := g.transport.do(ctx, "probe", httpRequest{method: http.MethodGet, url: g.repoURL()})
	return err == nil
}

func (g *GitHub) FetchData(ctx context.Context) (Snapshot, error) {
	content, found, err := g.getContent(ctx, "fetch")
	if err != nil {
		return Snapshot{}, err
	}
	if !found {
		return Snapshot{Doc: document.New()}, nil
	}
	raw, err := g.decodeContent(ctx, content)
	if err != nil {
		return Snapshot{}, err
	}
	doc, err := decodeDocument(ModeGitHub, "fetch", raw)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Doc: doc, Version: content.SHA}, nil
}

func (g *GitHub) CurrentVersion(ctx context.Context) (string, error) {
	content, found, err := g.getContent(ctx, "version")
	if err != nil || !found {
		return "", err
	}
	return content.SHA, nil
}

func (g *GitHub) UpdateData(ctx context.Context, w Write) (WriteResult, error) {
	message := strings.TrimSpace(w.Label)
	if message == "" {
		message = "Update data"
	}
	sha, err := g.putFile(ctx, "update", g.path, w.Doc, message, w.BaseVersion)
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Persisted: true, Version: sha}, nil
}

// WriteBackup stores a full copy under backups/ named by the UTC time.
func (g *GitHub) WriteBackup(ctx context.Context, doc document.Document, at time.Time) error {
	path := fmt.Sprintf("%s/data-%s.json", githubBackupDir, at.UTC().Format(githubBackupLayout))
	_, err := g.putFile(ctx, "backup", path, doc, "Backup before update", "")
	return err
}

func (g *GitHub) getContent(ctx context.Context, op string) (githubContent, bool, error) {
	resp, err := g.transport.do(ctx, op, httpRequest{method: http.MethodGet, url: g.contentsURL(g.path, true)})
	if err != nil {
		if KindOf(err) == KindNotFound {
			return githubContent{}, false, nil
		}
		return githubContent{}, false, err
	}
	var content githubContent
	if err := json.Unmarshal(resp.body, &content); err != nil {
		return githubContent{}, false, newError(ModeGitHub, op, KindInvalidData, err)
	}
	return content, true, nil
}

// decodeContent handles both inline base64 content and the "none" encoding
// GitHub uses for large files, which needs a raw media request.
func (g *GitHub) decodeContent(ctx context.Context, content githubContent) ([]byte, error) {
	switch content.Encoding {
	case "base64":
		cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(content.Content)
		raw, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, newError(ModeGitHub, "fetch", KindInvalidData, err)
		}
		return raw, nil
	case "none", "":
		resp, err := g.transport.do(ctx, "fetch", httpRequest{
			method:  http.MethodGet,
			url:     g.contentsURL(g.path, true),
			headers: map[string]string{"Accept": "application/vnd.github.raw"},
		})
		if err != nil {
			return nil, err
		}
		return resp.body, nil
	default:
		return nil, newError(ModeGitHub, "fetch", KindInvalidData, fmt.Errorf("unsupported content encoding %q", content.Encoding))
	}
}

func (g *GitHub) putFile(ctx context.Context, op, path string, doc document.Document, message, sha string) (string, error) {
	raw, err := document.EncodeIndent(doc)
	if err != nil {
		return "", newError(ModeGitHub, op, KindInvalidData, err)
	}
	body, err := json.Marshal(githubPutRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(raw),
		SHA:     sha,
		Branch:  g.branch,
	})
	if err != nil {
		return "", newError(ModeGitHub, op, KindUnknown, err)
	}
	resp, err := g.transport.do(ctx, op, httpRequest{
		method:  http.MethodPut,
		url:     g.contentsURL(path, false),
		headers: map[string]string{"Content-Type": "application/json"},
		body:    body,
	})
	if err != nil {
		return "", classifyGitHub(err)
	}
	var out githubPutResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", newError(ModeGitHub, op, KindInvalidData, err)
	}
	return out.Content.SHA, nil
}

// classifyGitHub treats a 422 that complains about the sha as a conflict:
// GitHub answers that way when the file exists but no sha was supplied.
func classifyGitHub(err error) error {
	var remoteErr *Error
	if errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(remoteErr.Message), "sha") {
		remoteErr.Kind = KindVersionConflict
	}
	return err
}

func (g *GitHub) repoURL() string {
	return fmt.Sprintf("%s/repos/%s/%s", g.apiURL, url.PathEscape(g.owner), url.PathEscape(g.repo))
}

func (g *GitHub) contentsURL(path string, withRef bool) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	out := g.repoURL() + "/contents/" + strings.Join(segments, "/")
	if withRef && g.branch != "" {
		out += "?ref=" + url.QueryEscape(g.branch)
	}
	return out
}
