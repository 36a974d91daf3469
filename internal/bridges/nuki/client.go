package nuki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-nuki/internal/lock"
)

// Bridge HTTP API defaults.
const (
	DefaultPort    = 8080
	DefaultTimeout = 20 * time.Second

	// maxResponseSize caps a decoded bridge response.
	maxResponseSize = 1 << 20
)

// Lock actions accepted by /lockAction.
const (
	ActionUnlock         = 1
	ActionLock           = 2
	ActionUnlatch        = 3
	ActionLockNGo        = 4
	ActionLockNGoUnlatch = 5
)

// Lock states reported by the bridge.
const (
	StateUncalibrated    = 0
	StateLocked          = 1
	StateUnlocking       = 2
	StateUnlocked        = 3
	StateLocking         = 4
	StateUnlatched       = 5
	StateUnlockedLockNGo = 6
	StateUnlatching      = 7
	StateMotorBlocked    = 254
	StateUndefined       = 255
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ClientConfig configures the bridge HTTP client.
type ClientConfig struct {
	// Host is the bridge's IP address or hostname.
	Host string

	// Port is the bridge HTTP API port. Default: 8080.
	Port int

	// Token is the API token configured on the bridge. Never logged.
	Token string

	// Timeout bounds each request. Default: 20 seconds.
	Timeout time.Duration

	// StrictQueue sends requests one at a time through a single worker.
	// The bridge handles concurrent requests poorly.
	StrictQueue bool

	// HTTPClient overrides the transport. Optional.
	HTTPClient *http.Client
}

// BridgeInfo is the response of /info.
type BridgeInfo struct {
	BridgeType int `json:"bridgeType"`
	IDs        struct {
		HardwareID int `json:"hardwareId"`
		ServerID   int `json:"serverId"`
	} `json:"ids"`
	Versions struct {
		FirmwareVersion     string `json:"firmwareVersion"`
		WifiFirmwareVersion string `json:"wifiFirmwareVersion"`
	} `json:"versions"`
	Uptime          int    `json:"uptime"`
	CurrentTime     string `json:"currentTime"`
	ServerConnected bool   `json:"serverConnected"`
}

// LockStatus is a lock's state as reported by /lockState or /list.
type LockStatus struct {
	State           int    `json:"state"`
	StateName       string `json:"stateName"`
	BatteryCritical bool   `json:"batteryCritical"`
	Success         bool   `json:"success"`
}

// ListedLock is one entry of /list.
type ListedLock struct {
	NukiID         int         `json:"nukiId"`
	DeviceType     int         `json:"deviceType"`
	Name           string      `json:"name"`
	LastKnownState *LockStatus `json:"lastKnownState,omitempty"`
}

// ActionResult is the response of /lockAction.
type ActionResult struct {
	Success         bool `json:"success"`
	BatteryCritical bool `json:"batteryCritical"`
}

// ClientStats holds request counters for health reporting.
type ClientStats struct {
	Requests    uint64
	Errors      uint64
	LastSuccess time.Time
	Reachable   bool
}

// job is one queued bridge request. The worker only ever writes the raw
// body to result; the caller decodes it.
type job struct {
	ctx    context.Context
	path   string
	params url.Values
	result chan jobResult
}

type jobResult struct {
	body json.RawMessage
	err  error
}

// Client talks to one Nuki bridge over its local HTTP API.
//
// Thread Safety: All methods are safe for concurrent use. With StrictQueue
// set, requests are executed one at a time in submission order.
type Client struct {
	cfg     ClientConfig
	baseURL string
	http    *http.Client

	jobs      chan job
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	requests    atomic.Uint64
	errorsTotal atomic.Uint64
	lastSuccess atomic.Int64
	reachable   atomic.Bool

	logger   Logger
	loggerMu sync.RWMutex
}

// NewClient creates a bridge client. With StrictQueue set, a worker goroutine
// is started; call Close to stop it.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("nuki: host is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("nuki: token is required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &Client{
		cfg:     cfg,
		baseURL: "http://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		http:    httpClient,
		jobs:    make(chan job),
		done:    make(chan struct{}),
	}

	if cfg.StrictQueue {
		c.wg.Add(1)
		go c.worker()
	}

	return c, nil
}

// Close stops the request worker. Requests made afterwards fail with
// ErrQueueClosed. Safe to call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
	})
	return nil
}

// Address returns the bridge's host:port.
func (c *Client) Address() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// IsReachable reports whether the last request got an HTTP response.
func (c *Client) IsReachable() bool {
	return c.reachable.Load()
}

// Stats returns a snapshot of the request counters.
func (c *Client) Stats() ClientStats {
	stats := ClientStats{
		Requests:  c.requests.Load(),
		Errors:    c.errorsTotal.Load(),
		Reachable: c.reachable.Load(),
	}
	if ns := c.lastSuccess.Load(); ns != 0 {
		stats.LastSuccess = time.Unix(0, ns).UTC()
	}
	return stats
}

// SetLogger sets the logger for request diagnostics.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Info returns bridge hardware and firmware details.
func (c *Client) Info(ctx context.Context) (BridgeInfo, error) {
	var info BridgeInfo
	if err := c.do(ctx, "/info", url.Values{}, &info); err != nil {
		return BridgeInfo{}, err
	}
	return info, nil
}

// List returns the bridge's paired locks with their last known state.
func (c *Client) List(ctx context.Context) ([]ListedLock, error) {
	var locks []ListedLock
	if err := c.do(ctx, "/list", url.Values{}, &locks); err != nil {
		return nil, err
	}
	return locks, nil
}

// LockState queries the lock directly for its current state.
func (c *Client) LockState(ctx context.Context, nukiID, deviceType int) (LockStatus, error) {
	params := url.Values{}
	params.Set("nukiId", strconv.Itoa(nukiID))
	if deviceType > 0 {
		params.Set("deviceType", strconv.Itoa(deviceType))
	}

	var status LockStatus
	if err := c.do(ctx, "/lockState", params, &status); err != nil {
		return LockStatus{}, err
	}
	return status, nil
}

// LockAction performs an action on a lock. When wait is true the bridge
// answers only after the lock finished the action.
func (c *Client) LockAction(ctx context.Context, nukiID, deviceType, action int, wait bool) (ActionResult, error) {
	params := url.Values{}
	params.Set("nukiId", strconv.Itoa(nukiID))
	params.Set("action", strconv.Itoa(action))
	if deviceType > 0 {
		params.Set("deviceType", strconv.Itoa(deviceType))
	}
	if wait {
		params.Set("nowait", "0")
	} else {
		params.Set("nowait", "1")
	}

	var result ActionResult
	if err := c.do(ctx, "/lockAction", params, &result); err != nil {
		return ActionResult{}, err
	}
	return result, nil
}

// ListLocks returns one handle per paired lock, seeded from /list.
func (c *Client) ListLocks(ctx context.Context) ([]lock.Handle, error) {
	listed, err := c.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}

	handles := make([]lock.Handle, 0, len(listed))
	for _, l := range listed {
		handles = append(handles, newLockHandle(c, l))
	}
	return handles, nil
}

// do runs a request, through the worker when strict queuing is enabled.
func (c *Client) do(ctx context.Context, path string, params url.Values, out any) error {
	select {
	case <-c.done:
		return ErrQueueClosed
	default:
	}

	if !c.cfg.StrictQueue {
		return c.roundTrip(ctx, path, params, out)
	}

	j := job{
		ctx:    ctx,
		path:   path,
		params: params,
		result: make(chan jobResult, 1),
	}

	select {
	case c.jobs <- j:
	case <-ctx.Done():
		return fmt.Errorf("nuki %s: %w", path, ctx.Err())
	case <-c.done:
		return ErrQueueClosed
	}

	select {
	case r := <-j.result:
		if r.err != nil {
			return r.err
		}
		if err := json.Unmarshal(r.body, out); err != nil {
			c.errorsTotal.Add(1)
			return fmt.Errorf("%w: %s: %v", ErrDecodeFailed, path, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("nuki %s: %w", path, ctx.Err())
	}
}

// worker executes queued requests one at a time.
func (c *Client) worker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case j := <-c.jobs:
			if err := j.ctx.Err(); err != nil {
				j.result <- jobResult{err: fmt.Errorf("nuki %s: %w", j.path, err)}
				continue
			}
			var body json.RawMessage
			err := c.roundTrip(j.ctx, j.path, j.params, &body)
			j.result <- jobResult{body: body, err: err}
		}
	}
}

// roundTrip performs one GET against the bridge and decodes the JSON body.
func (c *Client) roundTrip(ctx context.Context, path string, params url.Values, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	c.requests.Add(1)
	start := time.Now()

	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	query.Set("token", c.cfg.Token)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("nuki %s: creating request: %w", path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.errorsTotal.Add(1)
		c.reachable.Store(false)
		return c.transportError(ctx, reqCtx, path, err)
	}
	defer resp.Body.Close()

	c.reachable.Store(true)
	c.logDebug("nuki request",
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: %s", ErrUnauthorized, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: %s status %d", ErrBridgeError, path, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: %s: %v", ErrDecodeFailed, path, err)
	}

	c.lastSuccess.Store(time.Now().UnixNano())
	return nil
}

// transportError classifies a failed request. The url.Error wrapper is
// dropped since its message carries the token.
func (c *Client) transportError(ctx, reqCtx context.Context, path string, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	if ctx.Err() != nil {
		return fmt.Errorf("nuki %s: %w", path, ctx.Err())
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %v", ErrTimeout, path, c.cfg.Timeout)
	}
	return fmt.Errorf("nuki %s: request failed: %w", path, err)
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
