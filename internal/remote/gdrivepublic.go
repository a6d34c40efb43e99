package remote

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/tasksync/internal/document"
)

const (
	DefaultPublicDriveURL = "https://www.googleapis.com"
	PublicDriveCacheTTL   = 5 * time.Second
)

type GoogleDrivePublicConfig struct {
	FileID     string
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Now        func() time.Time
}

// GoogleDrivePublic reads a publicly shared Drive file. It cannot write:
// UpdateData reports the document as not persisted without failing.
type GoogleDrivePublic struct {
	fileURL   string
	transport httpTransport
	now       func() time.Time

	mu       sync.Mutex
	cached   document.Document
	cachedAt time.Time
	hasCache bool
}

func NewGoogleDrivePublic(cfg GoogleDrivePublicConfig) (*GoogleDrivePublic, error) {
	fileID := strings.TrimSpace(cfg.FileID)
	apiKey := strings.TrimSpace(cfg.APIKey)
	if fileID == "" || apiKey == "" {
		return nil, newError(ModeGoogleDrivePublic, "configure", KindNotConfigured, errors.New("file id and api key are required"))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultPublicTimeout
	}
	query := url.Values{}
	query.Set("alt", "media")
	query.Set("key", apiKey)
	base := strings.TrimRight(firstNonEmpty(cfg.BaseURL, DefaultPublicDriveURL), "/")
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &GoogleDrivePublic{
		fileURL:   base + "/drive/v3/files/" + url.PathEscape(fileID) + "?" + query.Encode(),
		transport: newHTTPTransport(ModeGoogleDrivePublic, cfg.HTTPClient, timeout, nil),
		now:       now,
	}, nil
}

func (p *GoogleDrivePublic) Mode() Mode {
	return ModeGoogleDrivePublic
}

// CheckAvailability fetches the file; a public file has no cheaper probe.
// A successful probe primes the cache.
func (p *GoogleDrivePublic) CheckAvailability(ctx context.Context) bool {
	_, err := p.FetchData(ctx)
	return err == nil
}

func (p *GoogleDrivePublic) FetchData(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	if p.hasCache && p.now().Sub(p.cachedAt) < PublicDriveCacheTTL {
		doc := p.cached.Clone()
		p.mu.Unlock()
		return Snapshot{Doc: doc}, nil
	}
	p.mu.Unlock()

	resp, err := p.transport.do(ctx, "fetch", httpRequest{method: http.MethodGet, url: p.fileURL})
	if err != nil {
		if KindOf(err) == KindNotFound {
			return Snapshot{Doc: document.New()}, nil
		}
		return Snapshot{}, err
	}
	doc, err := decodeDocument(ModeGoogleDrivePublic, "fetch", resp.body)
	if err != nil {
		return Snapshot{}, err
	}

	p.mu.Lock()
	p.cached = doc.Clone()
	p.cachedAt = p.now()
	p.hasCache = true
	p.mu.Unlock()
	return Snapshot{Doc: doc}, nil
}

func (p *GoogleDrivePublic) UpdateData(context.Context, Write) (WriteResult, error) {
	return WriteResult{Persisted: false}, nil
}
