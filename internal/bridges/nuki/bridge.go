package nuki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-nuki/internal/lock"
)

// Bridge operation constants.
const (
	// topicParts is the number of parts in graylogic/{category}/nuki/{address}.
	topicParts = 4

	defaultPollInterval = 30 * time.Second

	// eventWriteTimeout bounds a single event log write.
	eventWriteTimeout = 5 * time.Second
)

// Event kinds recorded in the lock event log.
const (
	EventCommand      = "command"
	EventAvailability = "availability"
)

// Command sources.
const (
	SourceMQTT    = "mqtt"
	SourceService = "service"
	SourceAPI     = "api"
)

// Bridge exposes the locks of one Nuki bridge to Core. It handles:
//   - Polling each lock through its Reconciler
//   - Receiving commands and service calls from Core via MQTT
//   - Publishing retained state, acknowledgements and health
//   - Recording lock events and telemetry
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	client    LockSource
	mqtt      MQTTClient
	health    *HealthReporter
	services  *ServiceRegistry
	recorder  EventRecorder
	telemetry TelemetryWriter
	metrics   *lock.Metrics

	bridgeID     string
	policy       lock.Policy
	pollInterval time.Duration
	now          func() time.Time

	entities   []*Entity
	byID       map[string]*Entity
	entitiesMu sync.RWMutex

	listener   StateListener
	listenerMu sync.RWMutex

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
	IsConnected() bool
}

// LockSource lists the locks paired with the Nuki bridge.
// Satisfied by *Client.
type LockSource interface {
	BridgeLink
	ListLocks(ctx context.Context) ([]lock.Handle, error)
}

// LockEvent is one entry of the lock event log.
type LockEvent struct {
	ID        string
	Timestamp time.Time
	EntityID  string
	NukiID    int
	Kind      string
	Command   string
	Source    string
	Success   bool
	Available bool
	Locked    bool
	Detail    string
}

// EventRecorder persists lock events. Optional.
type EventRecorder interface {
	RecordLockEvent(ctx context.Context, ev LockEvent) error
}

// TelemetryWriter receives a point whenever a lock's state is confirmed or
// its availability changes. Optional.
type TelemetryWriter interface {
	WriteLockState(entityID string, nukiID int, locked, available, batteryCritical bool, ts time.Time)
}

// StateListener is notified when a lock's published state changes.
type StateListener func(entityID string, s lock.Snapshot)

// EntityState pairs an entity id with its snapshot.
type EntityState struct {
	EntityID string `json:"entity_id"`
	lock.Snapshot
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Client talks to the Nuki bridge. Required.
	Client LockSource

	// MQTTClient connects to Core. Required.
	MQTTClient MQTTClient

	// Recorder persists lock events. Optional.
	Recorder EventRecorder

	// Telemetry receives lock state points. Optional.
	Telemetry TelemetryWriter

	// Metrics records reconciler outcomes. Optional.
	Metrics *lock.Metrics

	Logger Logger

	// Policy configures every reconciler. Zero fields take the defaults.
	Policy lock.Policy

	// PollInterval is how often each lock is updated. Default: 30 seconds.
	PollInterval time.Duration

	// HealthInterval is how often health is published. Default: 30 seconds.
	HealthInterval time.Duration

	// BridgeID names the bridge in health messages. Default: "nuki".
	BridgeID string

	Version string

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("nuki client is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	bridgeID := opts.BridgeID
	if bridgeID == "" {
		bridgeID = Protocol
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		client:       opts.Client,
		mqtt:         opts.MQTTClient,
		services:     NewServiceRegistry(),
		recorder:     opts.Recorder,
		telemetry:    opts.Telemetry,
		metrics:      opts.Metrics,
		bridgeID:     bridgeID,
		policy:       opts.Policy,
		pollInterval: pollInterval,
		now:          clock,
		byID:         make(map[string]*Entity),
		done:         make(chan struct{}),
		ctx:          ctx,
		ctxCancel:    ctxCancel,
		logger:       opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  bridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Link:      opts.Client,
	})
	b.health.SetLockCounter(b)
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	b.services.Register(Domain, ServiceLockNGo, lockNGoSchema, b.handleLockNGo)

	return b, nil
}

// Start discovers the paired locks, refreshes them once, subscribes to
// commands and service calls, and starts polling and health reporting.
// Failing to list the locks is fatal.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	handles, err := b.client.ListLocks(ctx)
	if err != nil {
		return fmt.Errorf("discover locks: %w", err)
	}
	b.buildEntities(handles)

	// Initial refresh so Core sees real state before the first poll.
	var g errgroup.Group
	for _, e := range b.snapshotEntities() {
		g.Go(func() error {
			b.update(ctx, e)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // update never fails

	if err := b.mqtt.Subscribe(CommandSubscribeTopic(), 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", CommandSubscribeTopic())

	if err := b.mqtt.Subscribe(ServiceSubscribeTopic(), 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to services: %w", err)
	}
	b.logInfo("subscribed to services", "topic", ServiceSubscribeTopic())

	for _, e := range b.snapshotEntities() {
		b.wg.Add(1)
		go b.pollLoop(e)
	}

	b.health.Start(b.ctx)

	total, available := b.LockCounts()
	b.logInfo("bridge started",
		"bridge_id", b.bridgeID,
		"locks", total,
		"available", available)

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight commands
		b.ctxCancel()

		b.health.Stop()
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

func (b *Bridge) buildEntities(handles []lock.Handle) {
	ids := assignEntityIDs(handles)

	var recLogger lock.Logger
	if logger := b.getLogger(); logger != nil {
		recLogger = logger
	}

	b.entitiesMu.Lock()
	defer b.entitiesMu.Unlock()

	for i, h := range handles {
		rec := lock.New(h, lock.Options{
			Policy:  b.policy,
			Clock:   b.now,
			Logger:  recLogger,
			Metrics: b.metrics,
		})
		e := newEntity(ids[i], rec)
		b.entities = append(b.entities, e)
		b.byID[e.ID] = e

		b.logInfo("lock discovered",
			"entity_id", e.ID,
			"nuki_id", h.NukiID(),
			"name", h.Name())
	}
}

func (b *Bridge) snapshotEntities() []*Entity {
	b.entitiesMu.RLock()
	defer b.entitiesMu.RUnlock()
	out := make([]*Entity, len(b.entities))
	copy(out, b.entities)
	return out
}

func (b *Bridge) entity(id string) (*Entity, bool) {
	b.entitiesMu.RLock()
	defer b.entitiesMu.RUnlock()
	e, ok := b.byID[id]
	return e, ok
}

// pollLoop updates one entity on every tick.
func (b *Bridge) pollLoop(e *Entity) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.update(b.ctx, e)
		}
	}
}

// update runs the reconciler's periodic update for one entity.
func (b *Bridge) update(ctx context.Context, e *Entity) lock.Snapshot {
	before, after := e.apply(ctx, func(ctx context.Context, r *lock.Reconciler) lock.Snapshot {
		return r.Update(ctx)
	})
	b.afterChange(e, before, after)
	return after
}

// Execute runs a lock command on an entity and returns the resulting
// snapshot. Lock and unlock fail with ErrCommandFailed when the lock did not
// end up in the requested state.
func (b *Bridge) Execute(ctx context.Context, entityID, command string, unlatch bool, source string) (lock.Snapshot, error) {
	e, ok := b.entity(entityID)
	if !ok {
		return lock.Snapshot{}, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}

	var (
		after lock.Snapshot
		err   error
	)

	switch command {
	case lock.CommandLock, lock.CommandUnlock:
		want := command == lock.CommandLock
		var before lock.Snapshot
		before, after = e.apply(ctx, func(ctx context.Context, r *lock.Reconciler) lock.Snapshot {
			if want {
				return r.Lock(ctx)
			}
			return r.Unlock(ctx)
		})
		if !after.Available || after.Locked != want {
			err = fmt.Errorf("%w: %s %s", ErrCommandFailed, command, entityID)
		}
		b.afterChange(e, before, after)

	case lock.CommandOpen:
		err = e.call(ctx, func(ctx context.Context, r *lock.Reconciler) error {
			return r.Open(ctx)
		})
		after = e.Snapshot()

	case lock.CommandLockNGo:
		err = e.call(ctx, func(ctx context.Context, r *lock.Reconciler) error {
			return r.LockNGo(ctx, unlatch)
		})
		after = e.Snapshot()

	default:
		return e.Snapshot(), fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	ev := LockEvent{
		EntityID:  e.ID,
		NukiID:    after.NukiID,
		Kind:      EventCommand,
		Command:   command,
		Source:    source,
		Success:   err == nil,
		Available: after.Available,
		Locked:    after.Locked,
	}
	if command == lock.CommandLockNGo && unlatch {
		ev.Detail = "unlatch"
	}
	if err != nil {
		ev.Detail = err.Error()
		b.logWarn("lock command failed",
			"entity_id", e.ID,
			"command", command,
			"source", source,
			"error", err)
	} else {
		b.logInfo("lock command executed",
			"entity_id", e.ID,
			"command", command,
			"source", source)
	}
	b.recordEvent(ev)

	return after, err
}

// CallService invokes a registered nuki service.
func (b *Bridge) CallService(ctx context.Context, service string, data map[string]any) error {
	return b.services.Call(ctx, Domain, service, data)
}

// Services returns the registered services as domain.service.
func (b *Bridge) Services() []string {
	return b.services.Services()
}

// handleLockNGo runs lock'n'go on every selected entity in turn.
func (b *Bridge) handleLockNGo(ctx context.Context, data map[string]any) error {
	unlatch, _ := data[AttrUnlatch].(bool)

	var errs []error
	for _, e := range b.selectEntities(data[AttrEntityID]) {
		if _, err := b.Execute(ctx, e.ID, lock.CommandLockNGo, unlatch, SourceService); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}

// selectEntities resolves a validated entity_id value. Only an explicit
// "all" selects every entity; an absent value selects none and unknown ids
// are ignored.
func (b *Bridge) selectEntities(raw any) []*Entity {
	ids, ok := raw.([]string)
	if !ok || len(ids) == 0 {
		return nil
	}

	all := b.snapshotEntities()

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == entityMatchAll {
			return all
		}
		wanted[id] = true
	}

	selected := make([]*Entity, 0, len(ids))
	for _, e := range all {
		if wanted[e.ID] {
			selected = append(selected, e)
			delete(wanted, e.ID)
		}
	}
	for id := range wanted {
		b.logDebug("service target not found", "entity_id", id)
	}

	return selected
}

// afterChange publishes, records and forwards what changed between two
// snapshots of an entity.
func (b *Bridge) afterChange(e *Entity, before, after lock.Snapshot) {
	availabilityChanged := before.Available != after.Available

	first := !e.markPublished()
	if first || stateChanged(before, after) {
		b.publishState(e.ID, after)
		b.notify(e.ID, after)
	}

	if availabilityChanged {
		b.logInfo("lock availability changed",
			"entity_id", e.ID,
			"available", after.Available)
		b.recordEvent(LockEvent{
			EntityID:  e.ID,
			NukiID:    after.NukiID,
			Kind:      EventAvailability,
			Success:   true,
			Available: after.Available,
			Locked:    after.Locked,
		})
	}

	if b.telemetry != nil && (availabilityChanged || after.LastRefresh.After(before.LastRefresh)) {
		b.telemetry.WriteLockState(e.ID, after.NukiID, after.Locked, after.Available, after.BatteryCritical, b.now())
	}
}

func stateChanged(a, b lock.Snapshot) bool {
	return a.Available != b.Available ||
		a.Locked != b.Locked ||
		a.BatteryCritical != b.BatteryCritical ||
		a.Name != b.Name
}

func (b *Bridge) publishState(entityID string, s lock.Snapshot) {
	payload, err := json.Marshal(NewStateMessage(entityID, s))
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	if err := b.mqtt.Publish(StateTopic(entityID), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
	}
}

func (b *Bridge) notify(entityID string, s lock.Snapshot) {
	b.listenerMu.RLock()
	listener := b.listener
	b.listenerMu.RUnlock()

	if listener != nil {
		listener(entityID, s)
	}
}

func (b *Bridge) recordEvent(ev LockEvent) {
	if b.recorder == nil {
		return
	}

	ev.ID = uuid.NewString()
	ev.Timestamp = b.now().UTC()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(b.ctx), eventWriteTimeout)
	defer cancel()

	if err := b.recorder.RecordLockEvent(ctx, ev); err != nil {
		b.logError("failed to record lock event", err)
	}
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != topicParts || parts[2] != Protocol {
		return fmt.Errorf("invalid topic format: %s", topic)
	}

	switch parts[1] {
	case "command":
		return b.handleCommand(parts[3], payload)
	case "service":
		return b.handleServiceCall(parts[3], payload)
	default:
		return fmt.Errorf("unknown message type: %s", parts[1])
	}
}

// handleCommand validates a command, acknowledges it and executes it in the
// background.
func (b *Bridge) handleCommand(entityID string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	if cmd.EntityID == "" {
		cmd.EntityID = entityID
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Source == "" {
		cmd.Source = SourceMQTT
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"entity_id", cmd.EntityID,
		"command", cmd.Command)

	if !isCommand(cmd.Command) {
		b.publishAck(cmd.EntityID, NewAckError(cmd, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown command: %s", cmd.Command)))
		return nil
	}

	if _, ok := b.entity(cmd.EntityID); !ok {
		b.publishAck(cmd.EntityID, NewAckError(cmd, ErrCodeNotConfigured,
			fmt.Sprintf("entity %s not configured", cmd.EntityID)))
		return nil
	}

	unlatch := false
	if raw, ok := cmd.Parameters[AttrUnlatch]; ok {
		v, err := parseBoolean(raw)
		if err != nil {
			b.publishAck(cmd.EntityID, NewAckError(cmd, ErrCodeInvalidParameters,
				fmt.Sprintf("'unlatch': %v", err)))
			return nil
		}
		unlatch = v
	}

	b.publishAck(cmd.EntityID, NewAckMessage(cmd, AckAccepted))

	b.goTracked(func() {
		if _, err := b.Execute(b.ctx, cmd.EntityID, cmd.Command, unlatch, cmd.Source); err != nil {
			b.publishAck(cmd.EntityID, NewAckError(cmd, ackCode(err), err.Error()))
			return
		}
		b.publishAck(cmd.EntityID, NewAckMessage(cmd, AckCompleted))
	})

	return nil
}

// handleServiceCall runs a service call in the background and acknowledges
// it on the service's ack topic.
func (b *Bridge) handleServiceCall(service string, payload []byte) error {
	var msg ServiceCallMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("parse service call: %w", err)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	cmd := CommandMessage{ID: msg.ID, Command: service, Source: msg.Source}

	if !b.services.Has(Domain, service) {
		b.publishAck(service, NewAckError(cmd, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown service: %s", service)))
		return nil
	}

	b.logInfo("received service call",
		"call_id", msg.ID,
		"service", service)

	b.publishAck(service, NewAckMessage(cmd, AckAccepted))

	b.goTracked(func() {
		if err := b.services.Call(b.ctx, Domain, service, msg.Data); err != nil {
			b.publishAck(service, NewAckError(cmd, ackCode(err), err.Error()))
			return
		}
		b.publishAck(service, NewAckMessage(cmd, AckCompleted))
	})

	return nil
}

// goTracked runs fn in a goroutine that Stop waits for. Nothing runs after Stop.
func (b *Bridge) goTracked(fn func()) {
	select {
	case <-b.done:
		return
	default:
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

func (b *Bridge) publishAck(address string, ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	if err := b.mqtt.Publish(AckTopic(address), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

func isCommand(command string) bool {
	switch command {
	case lock.CommandLock, lock.CommandUnlock, lock.CommandOpen, lock.CommandLockNGo:
		return true
	}
	return false
}

// ackCode maps an execution error to an ack error code.
func ackCode(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return ErrCodeTimeout
	case errors.Is(err, ErrEntityNotFound):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrUnknownCommand), errors.Is(err, ErrUnknownService):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidServiceData):
		return ErrCodeInvalidParameters
	default:
		return ErrCodeDeviceUnreachable
	}
}

// Entities returns every lock's cached state in discovery order.
func (b *Bridge) Entities() []EntityState {
	entities := b.snapshotEntities()
	out := make([]EntityState, 0, len(entities))
	for _, e := range entities {
		out = append(out, EntityState{EntityID: e.ID, Snapshot: e.Snapshot()})
	}
	return out
}

// Entity returns one lock's cached state.
func (b *Bridge) Entity(id string) (EntityState, bool) {
	e, ok := b.entity(id)
	if !ok {
		return EntityState{}, false
	}
	return EntityState{EntityID: e.ID, Snapshot: e.Snapshot()}, true
}

// LockCounts returns how many locks are managed and how many are available.
func (b *Bridge) LockCounts() (total, available int) {
	for _, e := range b.snapshotEntities() {
		total++
		if e.Snapshot().Available {
			available++
		}
	}
	return total, available
}

// SetStateListener sets a callback for published state changes.
func (b *Bridge) SetStateListener(listener StateListener) {
	b.listenerMu.Lock()
	b.listener = listener
	b.listenerMu.Unlock()
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	Reachable      bool   `json:"reachable"`
	Status         string `json:"status"`
	Address        string `json:"address"`
	Requests       uint64 `json:"requests"`
	Errors         uint64 `json:"errors"`
	LocksManaged   int    `json:"locks_managed"`
	LocksAvailable int    `json:"locks_available"`
}

// GetMetrics returns current bridge metrics for the API.
func (b *Bridge) GetMetrics() BridgeMetrics {
	stats := b.client.Stats()
	total, available := b.LockCounts()

	status := "disconnected"
	if stats.Reachable {
		status = "healthy"
		if available < total {
			status = "degraded"
		}
	}

	return BridgeMetrics{
		Reachable:      stats.Reachable,
		Status:         status,
		Address:        b.client.Address(),
		Requests:       stats.Requests,
		Errors:         stats.Errors,
		LocksManaged:   total,
		LocksAvailable: available,
	}
}
