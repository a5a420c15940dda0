// Package remote implements store.DocumentStore against the shared document
// store over a single authenticated WebSocket. Requests are correlated by
// id; server-pushed change frames are dispatched to per-subscription
// handlers.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/vedran77/ripple/internal/store"
)

const (
	writeWait       = 10 * time.Second
	pingInterval    = 30 * time.Second
	sendBufSize     = 256
	dialMaxElapsed  = 30 * time.Second
	requestDeadline = 15 * time.Second
)

type subscription struct {
	path string
	fn   store.ChangeFunc
}

// Client is a connected remote store. It owns one socket; ReadPump and
// WritePump style goroutines (taken from the chat transport this grew out
// of) run for the lifetime of the connection.
type Client struct {
	conn *websocket.Conn
	uid  string

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan Frame
	subs    map[int64]*subscription
	closed  bool

	sendCh chan Frame
	done   chan struct{}

	closeOnce sync.Once
}

// Dial connects and authenticates with the bearer token. Transient dial
// failures retry with bounded exponential backoff; a context cancellation
// or the elapsed bound surfaces the last error.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	uid, err := subjectOf(token)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	var conn *websocket.Conn
	dial := func() error {
		c, _, derr := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
		if derr != nil {
			return derr
		}
		conn = c
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = dialMaxElapsed
	if err := backoff.Retry(dial, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", store.ErrUnavailable, url, err)
	}

	c := &Client{
		conn:    conn,
		uid:     uid,
		pending: make(map[int64]chan Frame),
		subs:    make(map[int64]*subscription),
		sendCh:  make(chan Frame, sendBufSize),
		done:    make(chan struct{}),
	}
	go c.readPump()
	go c.writePump()
	return c, nil
}

// UID is the subject of the token the connection authenticated with. The
// token is verified server-side; the client only reads the claim.
func subjectOf(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parsing store token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("store token has no subject")
	}
	return sub, nil
}

// UID returns the authenticated user id.
func (c *Client) UID() string { return c.uid }

// Close tears the connection down. Pending requests fail with
// store.ErrClosed; subscriptions stop delivering.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close(websocket.StatusNormalClosure, "")
		c.fail(store.ErrClosed)
	})
}

// fail marks the client dead and releases every waiter.
func (c *Client) fail(err error) {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]chan Frame)
	c.mu.Unlock()
	for _, ch := range pending {
		select {
		case ch <- Frame{Type: frameError, Code: codeUnavailable, Message: err.Error()}:
		default:
		}
	}
}

func (c *Client) readPump() {
	for {
		var f Frame
		if err := wsjson.Read(context.Background(), c.conn, &f); err != nil {
			select {
			case <-c.done:
			default:
				log.Warn("store: connection lost", "err", err)
				c.fail(store.ErrUnavailable)
			}
			return
		}
		switch f.Type {
		case frameChange:
			c.dispatchChange(f)
		case frameResult, frameError:
			c.mu.Lock()
			ch := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- f
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case f := <-c.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := wsjson.Write(ctx, c.conn, f)
			cancel()
			if err != nil {
				log.Warn("store: write error", "err", err)
				c.fail(store.ErrUnavailable)
				return
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				log.Warn("store: ping error", "err", err)
				c.fail(store.ErrUnavailable)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) dispatchChange(f Frame) {
	c.mu.Lock()
	sub := c.subs[f.Sub]
	c.mu.Unlock()
	if sub == nil {
		return
	}
	data := []byte(f.Value)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = nil
	}
	sub.fn(sub.path, data)
}

// request sends a frame and waits for the correlated reply.
func (c *Client) request(ctx context.Context, f Frame) (Frame, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Frame{}, store.ErrClosed
	}
	c.nextID++
	f.ID = c.nextID
	ch := make(chan Frame, 1)
	c.pending[f.ID] = ch
	c.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, requestDeadline)
	defer cancel()

	select {
	case c.sendCh <- f:
	case <-ctx.Done():
		c.drop(f.ID)
		return Frame{}, fmt.Errorf("%w: %v", store.ErrUnavailable, ctx.Err())
	case <-c.done:
		return Frame{}, store.ErrClosed
	}

	select {
	case resp := <-ch:
		if resp.Type == frameError {
			return Frame{}, frameErr(resp)
		}
		return resp, nil
	case <-ctx.Done():
		c.drop(f.ID)
		return Frame{}, fmt.Errorf("%w: %v", store.ErrUnavailable, ctx.Err())
	case <-c.done:
		return Frame{}, store.ErrClosed
	}
}

func (c *Client) drop(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func frameErr(f Frame) error {
	switch f.Code {
	case codeNotFound:
		return store.ErrNotFound
	case codeExists:
		return store.ErrExists
	case codeUnavailable:
		return fmt.Errorf("%w: %s", store.ErrUnavailable, f.Message)
	}
	return fmt.Errorf("store error %s: %s", f.Code, f.Message)
}

func (c *Client) Get(ctx context.Context, path string, dst any) error {
	resp, err := c.request(ctx, Frame{Type: frameGet, Path: path})
	if err != nil {
		return err
	}
	if len(resp.Value) == 0 || bytes.Equal(resp.Value, []byte("null")) {
		return store.ErrNotFound
	}
	if err := json.Unmarshal(resp.Value, dst); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func (c *Client) Set(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	_, err = c.request(ctx, Frame{Type: frameSet, Path: path, Value: raw})
	return err
}

func (c *Client) Create(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	_, err = c.request(ctx, Frame{Type: frameCreate, Path: path, Value: raw})
	return err
}

func (c *Client) Update(ctx context.Context, writes map[string]any) error {
	encoded := make(map[string]json.RawMessage, len(writes))
	for path, value := range writes {
		if value == nil {
			encoded[path] = json.RawMessage("null")
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", path, err)
		}
		encoded[path] = raw
	}
	_, err := c.request(ctx, Frame{Type: frameUpdate, Writes: encoded})
	return err
}

func (c *Client) Push(ctx context.Context, path string, value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", path, err)
	}
	resp, err := c.request(ctx, Frame{Type: framePush, Path: path, Value: raw})
	if err != nil {
		return "", err
	}
	if resp.Key == "" {
		return "", errors.New("push result missing key")
	}
	return resp.Key, nil
}

// Subscribe registers the handler before asking the server to start the
// feed, so the server's initial snapshot change frame is never missed.
func (c *Client) Subscribe(ctx context.Context, path string, fn store.ChangeFunc) (store.CancelFunc, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, store.ErrClosed
	}
	c.nextID++
	subID := c.nextID
	c.subs[subID] = &subscription{path: path, fn: fn}
	c.mu.Unlock()

	if _, err := c.request(ctx, Frame{Type: frameSubscribe, Sub: subID, Path: path}); err != nil {
		c.mu.Lock()
		delete(c.subs, subID)
		c.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, subID)
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			if _, err := c.request(context.Background(), Frame{Type: frameUnsubscribe, Sub: subID}); err != nil {
				log.Warn("store: unsubscribe failed", "path", path, "err", err)
			}
		})
	}
	return cancel, nil
}
