package sources

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"nhooyr.io/websocket"

	"inboxd/internal/credential"
	"inboxd/internal/models"
	"inboxd/internal/providers"
	"inboxd/internal/structures"
)

const maxSnapshotSize = 8 << 20

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// realtimeConn talks to the realtime store: REST for snapshots and writes,
// a WebSocket per path that streams full JSON snapshots on every change.
type realtimeConn struct {
	base           *url.URL
	token          string
	client         *http.Client
	reconnectDelay time.Duration
	logger         providers.Logger
}

func newRealtimeConn(conf *structures.Config, token string, logger providers.Logger) (*realtimeConn, error) {
	base, err := url.Parse(strings.TrimRight(conf.Remote.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse remote url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote url must be http(s), got %q", base.Scheme)
	}
	timeout := conf.Remote.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	delay := conf.Remote.ReconnectDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &realtimeConn{
		base:           base,
		token:          token,
		client:         &http.Client{Timeout: timeout},
		reconnectDelay: delay,
		logger:         logger,
	}, nil
}

func (c *realtimeConn) endpoint(parts ...string) string {
	u := *c.base
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	u.Path = path.Join(append([]string{c.base.Path}, parts...)...)
	u.RawPath = path.Join(append([]string{c.base.EscapedPath()}, escaped...)...)
	return u.String()
}

func (c *realtimeConn) streamURL(resource string) string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = path.Join(c.base.Path, "subscribe")
	u.RawQuery = url.Values{"path": []string{resource}}.Encode()
	return u.String()
}

func (c *realtimeConn) headers() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// do performs a request and returns the body of a 2xx response. A 404 yields
// a nil body and no error.
func (c *realtimeConn) do(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header = c.headers()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return data, nil
}

// stream keeps a WebSocket open on resource, reconnecting after errors until
// the returned subscription is closed.
func (c *realtimeConn) stream(ctx context.Context, resource string, onMessage func([]byte) error, onErr ErrorHandler) Subscription {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	report := func(err error) {
		if ctx.Err() != nil {
			return
		}
		if onErr != nil {
			onErr(err)
		}
	}

	go func() {
		defer close(done)
		for ctx.Err() == nil {
			conn, _, err := websocket.Dial(ctx, c.streamURL(resource), &websocket.DialOptions{HTTPHeader: c.headers()})
			if err != nil {
				report(fmt.Errorf("subscribe %s: %w", resource, err))
			} else {
				conn.SetReadLimit(maxSnapshotSize)
				for {
					_, data, err := conn.Read(ctx)
					if err != nil {
						report(fmt.Errorf("read %s: %w", resource, err))
						break
					}
					if ctx.Err() != nil {
						break
					}
					if err := onMessage(data); err != nil {
						report(fmt.Errorf("decode %s: %w", resource, err))
					}
				}
				_ = conn.Close(websocket.StatusNormalClosure, "")
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(c.reconnectDelay):
				c.logger.Debugf(providers.TypeSource, "Reconnecting to %s", resource)
			}
		}
	}()

	var once sync.Once
	return subscriptionFunc(func() {
		once.Do(func() {
			cancel()
			<-done
		})
	})
}

// RealtimeNotifications reads per-student notification channels.
type RealtimeNotifications struct {
	conn *realtimeConn
}

func NewRealtimeNotifications(conf *structures.Config, token string, logger providers.Logger) (*RealtimeNotifications, error) {
	conn, err := newRealtimeConn(conf, token, logger)
	if err != nil {
		return nil, err
	}
	return &RealtimeNotifications{conn: conn}, nil
}

func notificationsResource(studentID string) string {
	return "students/" + studentID + "/notifications"
}

func decodeNotifications(studentID string, data []byte) ([]models.RawNotification, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var m map[string]models.RawNotification
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return notificationsFromMap(studentID, m), nil
}

func (r *RealtimeNotifications) Snapshot(ctx context.Context, studentID string) ([]models.RawNotification, error) {
	data, err := r.conn.do(ctx, http.MethodGet, r.conn.endpoint("students", studentID, "notifications"), nil)
	if err != nil {
		return nil, err
	}
	return decodeNotifications(studentID, data)
}

func (r *RealtimeNotifications) Subscribe(ctx context.Context, studentID string, fn NotificationHandler, onErr ErrorHandler) (Subscription, error) {
	sub := r.conn.stream(ctx, notificationsResource(studentID), func(data []byte) error {
		records, err := decodeNotifications(studentID, data)
		if err != nil {
			return err
		}
		fn(records)
		return nil
	}, onErr)
	return sub, nil
}

func (r *RealtimeNotifications) MarkRead(ctx context.Context, studentID, id string) error {
	_, err := r.conn.do(ctx, http.MethodPatch, r.conn.endpoint("students", studentID, "notifications", id), map[string]bool{"read": true})
	return err
}

func (r *RealtimeNotifications) Delete(ctx context.Context, studentID, id string) error {
	_, err := r.conn.do(ctx, http.MethodDelete, r.conn.endpoint("students", studentID, "notifications", id), nil)
	return err
}

// RealtimeActivities reads the mirrored guardian activity log.
type RealtimeActivities struct {
	conn *realtimeConn
}

func NewRealtimeActivities(conf *structures.Config, token string, logger providers.Logger) (*RealtimeActivities, error) {
	conn, err := newRealtimeConn(conf, token, logger)
	if err != nil {
		return nil, err
	}
	return &RealtimeActivities{conn: conn}, nil
}

func activitiesResource(guardianID string) string {
	return "guardians/" + guardianID + "/activities"
}

// decodeActivities accepts either a JSON array or an id-keyed object.
func decodeActivities(data []byte) ([]models.RawActivity, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if data[0] == '[' {
		var list []models.RawActivity
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var m map[string]models.RawActivity
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	list := make([]models.RawActivity, 0, len(keys))
	for _, k := range keys {
		rec := m[k]
		if rec.ID == "" {
			rec.ID = k
		}
		list = append(list, rec)
	}
	return list, nil
}

func (r *RealtimeActivities) Snapshot(ctx context.Context, guardianID string) ([]models.RawActivity, error) {
	data, err := r.conn.do(ctx, http.MethodGet, r.conn.endpoint("guardians", guardianID, "activities"), nil)
	if err != nil {
		return nil, err
	}
	return decodeActivities(data)
}

func (r *RealtimeActivities) Subscribe(ctx context.Context, guardianID string, fn ActivityHandler, onErr ErrorHandler) (Subscription, error) {
	sub := r.conn.stream(ctx, activitiesResource(guardianID), func(data []byte) error {
		records, err := decodeActivities(data)
		if err != nil {
			return err
		}
		fn(records)
		return nil
	}, onErr)
	return sub, nil
}

func NewNotificationChannel(conf *structures.Config, token credential.BearerToken, logger providers.Logger) (NotificationChannel, error) {
	ch, err := NewRealtimeNotifications(conf, string(token), logger)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func NewActivityLog(conf *structures.Config, token credential.BearerToken, logger providers.Logger) (ActivityLog, error) {
	log, err := NewRealtimeActivities(conf, string(token), logger)
	if err != nil {
		return nil, err
	}
	return log, nil
}
