// Package webhook provides HTTP webhook notification support for sync events.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jvs-project/rsyncer/pkg/logging"
)

// EventType represents the type of sync event that can trigger webhooks.
type EventType string

const (
	EventSyncStart    EventType = "sync.start"
	EventSyncComplete EventType = "sync.complete"
	EventSyncFailed   EventType = "sync.failed"
)

// Event is the JSON payload posted to webhooks.
type Event struct {
	Event     EventType      `json:"event"`
	Timestamp string         `json:"timestamp"`
	Job       string         `json:"job,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Command   string         `json:"command,omitempty"`
	ExitCode  *int           `json:"exit_code,omitempty"`
	Duration  string         `json:"duration,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// HookConfig represents a single webhook endpoint.
type HookConfig struct {
	URL     string      `yaml:"url" json:"url"`
	Secret  string      `yaml:"secret,omitempty" json:"secret,omitempty"`
	Events  []EventType `yaml:"events" json:"events"`
	Enabled bool        `yaml:"enabled" json:"enabled"`
}

// Config represents the webhook configuration.
type Config struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Hooks          []HookConfig  `yaml:"hooks,omitempty" json:"hooks,omitempty"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay" json:"retry_delay"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	AsyncQueueSize int           `yaml:"async_queue_size" json:"async_queue_size"`
}

// DefaultConfig returns the default webhook configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		MaxRetries:     3,
		RetryDelay:     5 * time.Second,
		Timeout:        30 * time.Second,
		AsyncQueueSize: 100,
	}
}

// Client delivers events to the configured hooks.
type Client struct {
	config *Config
	http   *http.Client
	log    *logging.Logger
	queue  chan *job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

type job struct {
	event Event
	hook  HookConfig
}

// NewClient creates a webhook client and starts its background worker.
func NewClient(cfg *Config, logger *logging.Logger) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.Global()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config: cfg,
		http:   &http.Client{Timeout: timeout},
		log:    logger.WithFields(map[string]any{"component": "webhook"}),
		queue:  make(chan *job, max(cfg.AsyncQueueSize, 1)),
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.Enabled {
		c.start()
	}
	return c
}

func (c *Client) start() {
	c.once.Do(func() {
		c.wg.Add(1)
		go c.worker()
	})
}

func (c *Client) worker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			// Drain remaining jobs
			for {
				select {
				case j := <-c.queue:
					c.send(j)
				default:
					return
				}
			}
		case j := <-c.queue:
			c.send(j)
		}
	}
}

// Send delivers event to every enabled hook subscribed to it. When async
// is true the deliveries are queued and Send returns immediately; a full
// queue drops the event with a warning.
func (c *Client) Send(event Event, async bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.config.Enabled || c.closed {
		return nil
	}

	hooks := c.matchingHooks(event.Event)
	if len(hooks) == 0 {
		return nil
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	if async {
		for _, hook := range hooks {
			select {
			case c.queue <- &job{event: event, hook: hook}:
			default:
				c.log.Warn("webhook queue full, dropping event", map[string]any{"event": string(event.Event), "url": hook.URL})
			}
		}
		return nil
	}

	var lastErr error
	for _, hook := range hooks {
		if err := c.sendSync(&job{event: event, hook: hook}); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Notify implements the notifier used by the job runner: deliveries are
// queued and failures only logged.
func (c *Client) Notify(event Event) {
	if err := c.Send(event, true); err != nil {
		c.log.Warn("queue webhook", map[string]any{"error": err.Error()})
	}
}

func (c *Client) matchingHooks(event EventType) []HookConfig {
	var hooks []HookConfig
	for _, hook := range c.config.Hooks {
		if hook.Enabled && matchesEvent(hook, event) {
			hooks = append(hooks, hook)
		}
	}
	return hooks
}

func (c *Client) send(j *job) {
	if err := c.sendSync(j); err != nil {
		c.log.ErrorErr("webhook delivery failed", err, map[string]any{"event": string(j.event.Event), "url": j.hook.URL})
	}
}

// sendSync posts one event with bounded retries.
func (c *Client) sendSync(j *job) error {
	payload, err := json.Marshal(j.event)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-c.ctx.Done():
				return fmt.Errorf("webhook %s: %w (last error: %v)", j.hook.URL, c.ctx.Err(), lastErr)
			case <-time.After(c.config.RetryDelay):
			}
		}

		req, err := c.createRequest(j, payload)
		if err != nil {
			return err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("http %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return lastErr
}

func (c *Client) createRequest(j *job, payload []byte) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodPost, j.hook.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "rsyncer-webhook/1.0")
	req.Header.Set("X-Rsyncer-Event", string(j.event.Event))

	if j.hook.Secret != "" {
		req.Header.Set("X-Rsyncer-Signature", Sign(payload, j.hook.Secret))
	}
	return req, nil
}

// Sign returns the HMAC-SHA256 signature header value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func matchesEvent(hook HookConfig, event EventType) bool {
	for _, e := range hook.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

// Close stops the worker after delivering whatever is still queued.
// Pending retries are abandoned.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}
