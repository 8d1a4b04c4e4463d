package remote

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// changeMessage is one server notification on the change feed. An empty
// collection means "something changed somewhere, pull everything".
type changeMessage struct {
	Collection string `json:"collection"`
}

// ChangeFeed holds a websocket to the sync service and turns server
// notifications into nudges for the sync engine. The feed is advisory: a
// dropped nudge or a dead socket costs latency, never correctness, because
// the interval pull still runs.
type ChangeFeed struct {
	wsURL  string
	logger *log.Logger

	backoffMin time.Duration
	backoffMax time.Duration

	// onState hears socket up/down transitions, wired to the connectivity
	// monitor.
	onState func(online bool)

	mu     sync.Mutex
	nudges chan string
	stop   chan struct{}
	done   chan struct{}
}

// NewChangeFeed creates a feed for the service at baseURL (http/https; the
// scheme is rewritten for the socket). If logger is nil, a default logger
// writing to stderr is used.
func NewChangeFeed(baseURL string, backoffMin, backoffMax time.Duration, logger *log.Logger) *ChangeFeed {
	if logger == nil {
		logger = log.New(os.Stderr, "[feed] ", log.LstdFlags)
	}
	if backoffMin <= 0 {
		backoffMin = time.Second
	}
	if backoffMax < backoffMin {
		backoffMax = 60 * time.Second
	}
	return &ChangeFeed{
		wsURL:      websocketURL(baseURL),
		logger:     logger,
		backoffMin: backoffMin,
		backoffMax: backoffMax,
		nudges:     make(chan string, 16),
	}
}

func websocketURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/v1/changes"
}

// SetOnState registers a socket state listener. Must be called before Start.
func (f *ChangeFeed) SetOnState(fn func(online bool)) {
	f.onState = fn
}

// Nudges returns the channel of change notifications. Each value is the
// collection the server reported, or "" for all collections.
func (f *ChangeFeed) Nudges() <-chan string {
	return f.nudges
}

// Start launches the connect/read loop. Idempotent while running.
func (f *ChangeFeed) Start(ctx context.Context) {
	f.mu.Lock()
	if f.stop != nil {
		f.mu.Unlock()
		return
	}
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	stop, done := f.stop, f.done
	f.mu.Unlock()

	go f.run(ctx, stop, done)
}

// Stop closes the feed and waits for the loop to exit. Idempotent.
func (f *ChangeFeed) Stop() {
	f.mu.Lock()
	stop, done := f.stop, f.done
	f.stop, f.done = nil, nil
	f.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (f *ChangeFeed) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	backoff := f.backoffMin
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}

		if err := f.readOnce(ctx, stop); err != nil {
			f.setState(false)
			f.logger.Printf("change feed disconnected: %v (retrying in %s)", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > f.backoffMax {
				backoff = f.backoffMax
			}
			continue
		}
		backoff = f.backoffMin
	}
}

// readOnce dials the socket and reads notifications until the connection
// fails or the feed is stopped.
func (f *ChangeFeed) readOnce(ctx context.Context, stop chan struct{}) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.Dial(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	f.setState(true)
	f.logger.Printf("change feed connected")

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go func() {
		select {
		case <-stop:
			cancelRead()
		case <-readCtx.Done():
		}
	}()

	for {
		_, data, err := conn.Read(readCtx)
		if err != nil {
			if readCtx.Err() != nil {
				return nil
			}
			return err
		}
		var msg changeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Printf("WARNING: dropping malformed feed message: %v", err)
			continue
		}
		select {
		case f.nudges <- msg.Collection:
		default:
			// Channel full; the engine already has work queued.
		}
	}
}

func (f *ChangeFeed) setState(online bool) {
	if f.onState != nil {
		f.onState(online)
	}
}
