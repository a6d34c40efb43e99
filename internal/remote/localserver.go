package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentworkforce/tasksync/internal/document"
	"nhooyr.io/websocket"
)

const (
	localServerHealthPath = "/health"
	localServerDataPath   = "/api/data"
	localServerFeedPath   = "/ws"
	operationLabelHeader  = "X-Operation-Label"
)

type LocalServerConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// LocalServer talks to a tasksync server on the local network. It is
// version-unaware: the server keeps whatever was written last.
type LocalServer struct {
	baseURL   string
	transport httpTransport
}

func NewLocalServer(cfg LocalServerConfig) (*LocalServer, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, newError(ModeLocalServer, "configure", KindNotConfigured, errors.New("base url is required"))
	}
	if _, err := url.Parse(base); err != nil {
		return nil, newError(ModeLocalServer, "configure", KindNotConfigured, err)
	}
	return &LocalServer{
		baseURL:   base,
		transport: newHTTPTransport(ModeLocalServer, cfg.HTTPClient, cfg.Timeout, nil),
	}, nil
}

func (s *LocalServer) Mode() Mode {
	return ModeLocalServer
}

func (s *LocalServer) CheckAvailability(ctx context.Context) bool {
	_, err := s.transport.do(ctx, "health", httpRequest{method: http.MethodGet, url: s.baseURL + localServerHealthPath})
	return err == nil
}

func (s *LocalServer) FetchData(ctx context.Context) (Snapshot, error) {
	resp, err := s.transport.do(ctx, "fetch", httpRequest{
		method:  http.MethodGet,
		url:     s.baseURL + localServerDataPath,
		headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		if KindOf(err) == KindNotFound {
			return Snapshot{Doc: document.New()}, nil
		}
		return Snapshot{}, err
	}
	doc, err := decodeDocument(ModeLocalServer, "fetch", resp.body)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Doc: doc}, nil
}

func (s *LocalServer) UpdateData(ctx context.Context, w Write) (WriteResult, error) {
	body, err := document.Encode(w.Doc)
	if err != nil {
		return WriteResult{}, newError(ModeLocalServer, "update", KindInvalidData, err)
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if label := strings.TrimSpace(w.Label); label != "" {
		headers[operationLabelHeader] = label
	}
	if _, err := s.transport.do(ctx, "update", httpRequest{
		method:  http.MethodPut,
		url:     s.baseURL + localServerDataPath,
		headers: headers,
		body:    body,
	}); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Persisted: true}, nil
}

// WatchChanges subscribes to the server's websocket feed and calls onChange
// for every message received. It returns when ctx ends or the feed drops.
func (s *LocalServer) WatchChanges(ctx context.Context, onChange func()) error {
	feedURL, err := websocketURL(s.baseURL + localServerFeedPath)
	if err != nil {
		return newError(ModeLocalServer, "watch", KindNotConfigured, err)
	}
	// websocket refuses clients with Timeout set; the feed is long-lived.
	dialClient := &http.Client{Transport: s.transport.httpClient.Transport}
	conn, _, err := websocket.Dial(ctx, feedURL, &websocket.DialOptions{HTTPClient: dialClient})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return newError(ModeLocalServer, "watch", KindRemoteUnavailable, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return newError(ModeLocalServer, "watch", KindRemoteUnavailable, err)
		}
		onChange()
	}
}

func websocketURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	return parsed.String(), nil
}

func decodeDocument(mode Mode, op string, body []byte) (document.Document, error) {
	doc, err := document.Decode(body)
	if err != nil {
		return document.Document{}, newError(mode, op, KindInvalidData, err)
	}
	return doc, nil
}
