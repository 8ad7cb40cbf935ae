package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout            = 30 * time.Second
	defaultConnectConcurrency = 4
)

// Manager orchestrates multiple MCP client sessions, one record per server
// name.
type Manager struct {
	// mu guards map membership and handler slices only. Record contents are
	// guarded by each record's own mutex.
	mu sync.RWMutex

	options    ManagerOptions
	logger     *slog.Logger
	clock      clockwork.Clock
	source     ConfigSource
	transports TransportFactory
	reconnect  ReconnectPolicy
	metrics    *managerMetrics
	refreshes  singleflight.Group

	records map[string]*serverRecord

	statusHandlers []func(ServerStatus)
	// serverRemovedHandlers are invoked after a server is removed via RemoveServer.
	serverRemovedHandlers []func(string)
}

type serverRecord struct {
	id string

	mu       sync.Mutex
	config   ServerConfig
	callerID string
	// generation increments on every connect attempt and disconnect. Results
	// carrying an older generation are discarded.
	generation uint64
	session    *mcp.ClientSession
	process    *exec.Cmd
	cancel     context.CancelFunc

	retry         clockwork.Timer
	retrySeq      uint64
	retryAttempts int

	status  ServerStatus
	removed bool
}

func newServerRecord(id string, cfg ServerConfig) *serverRecord {
	return &serverRecord{
		id:     id,
		config: cfg,
		status: ServerStatus{
			ServerName: id,
			Transport:  TransportOf(cfg),
			State:      StatusDisconnected,
			Tools:      []Tool{},
			Resources:  []Resource{},
			Prompts:    []Prompt{},
		},
	}
}

// NewManager constructs a Manager with optional initial server configurations.
// Without ManagerOptions.ConfigSource the enabled entries are pre-registered
// as disconnected servers and form the set Initialize connects. With a
// ConfigSource, cfg is ignored and servers appear once Initialize runs.
// When ManagerOptions.AutoConnect is true Initialize runs in the background.
// Callers can provide nil options to fall back to sensible defaults.
func NewManager(cfg map[string]ServerConfig, opts *ManagerOptions) *Manager {
	options := opts.normalized()
	if options.DefaultClientVersion == "" {
		options.DefaultClientVersion = "1.0.0"
	}
	if options.DefaultTimeout <= 0 {
		options.DefaultTimeout = defaultTimeout
	}
	if options.ConnectConcurrency <= 0 {
		options.ConnectConcurrency = defaultConnectConcurrency
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Clock == nil {
		options.Clock = clockwork.NewRealClock()
	}

	var initial StaticConfigSource
	source := options.ConfigSource
	if source == nil {
		initial = make(StaticConfigSource, len(cfg))
		for id, sc := range cfg {
			initial[id] = sc
		}
		source = initial
	}
	transports := options.Transports
	if transports == nil {
		transports = NewTransportFactory(options.Credentials, options.Logger)
	}

	m := &Manager{
		options:    options,
		logger:     options.Logger,
		clock:      options.Clock,
		source:     source,
		transports: transports,
		reconnect:  options.Reconnect.withDefaults(),
		metrics:    newManagerMetrics(options.MetricsRegisterer),
		records:    make(map[string]*serverRecord),
	}
	for id, sc := range enabledServers(initial) {
		m.records[id] = newServerRecord(id, sc)
	}
	if options.AutoConnect {
		go func() {
			if _, err := m.Initialize(context.Background()); err != nil {
				m.logger.Warn("auto-connect failed", "error", err)
			}
		}()
	}
	return m
}

// Metrics returns the gatherer holding the manager's collectors. It is nil
// when ManagerOptions.MetricsRegisterer does not also implement
// prometheus.Gatherer.
func (m *Manager) Metrics() prometheus.Gatherer {
	return m.metrics.gatherer
}

// Initialize connects every enabled server reported by the config source,
// at most ConnectConcurrency at a time. Individual failures are recorded in
// the server's status and do not stop the others. It returns the number of
// servers that ended up connected.
func (m *Manager) Initialize(ctx context.Context) (int, error) {
	all, err := m.source.Servers(ctx)
	if err != nil {
		return 0, fmt.Errorf("mcpmgr: load configuration: %w", err)
	}
	return m.connectAll(ctx, enabledServers(all)), nil
}

func (m *Manager) connectAll(ctx context.Context, configs map[string]ServerConfig) int {
	ids := make([]string, 0, len(configs))
	for id := range configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var connected atomic.Int64
	p := pool.New().WithMaxGoroutines(m.options.ConnectConcurrency)
	for _, id := range ids {
		cfg := configs[id]
		p.Go(func() {
			if _, err := m.ConnectToServer(ctx, id, cfg); err == nil {
				connected.Add(1)
			}
		})
	}
	p.Wait()
	m.logger.Info("servers initialized", "configured", len(ids), "connected", connected.Load())
	return int(connected.Load())
}

// ReloadConfiguration fetches a fresh configuration, shuts down and forgets
// every known server, then initializes from the fresh set. A configuration
// that fails to load leaves the current servers untouched. The swap is not
// atomic: invocations issued between teardown and reconnection fail with
// NotConnectedError.
func (m *Manager) ReloadConfiguration(ctx context.Context) (int, error) {
	all, err := m.source.Servers(ctx)
	if err != nil {
		return 0, fmt.Errorf("mcpmgr: load configuration: %w", err)
	}
	for _, id := range m.ListServers() {
		_ = m.RemoveServer(ctx, id)
	}
	return m.connectAll(ctx, enabledServers(all)), nil
}

// ListServers returns known server identifiers.
func (m *Manager) ListServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasServer reports whether a server ID is known.
func (m *Manager) HasServer(serverID string) bool {
	return m.lookup(serverID) != nil
}

// GetServerConfig returns the configuration last used for a server, or nil.
func (m *Manager) GetServerConfig(serverID string) ServerConfig {
	rec := m.lookup(serverID)
	if rec == nil {
		return nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.config
}

func (m *Manager) lookup(serverID string) *serverRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[serverID]
}

func (m *Manager) snapshotRecords() []*serverRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := make([]*serverRecord, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	return recs
}

// recordFor returns the record for serverID, creating it when cfg is given.
func (m *Manager) recordFor(serverID string, cfg ServerConfig) (*serverRecord, error) {
	if rec := m.lookup(serverID); rec != nil {
		return rec, nil
	}
	if cfg == nil {
		return nil, &ConfigError{Server: serverID, Reason: "unknown server"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[serverID]; ok {
		return rec, nil
	}
	rec := newServerRecord(serverID, cfg)
	m.records[serverID] = rec
	return rec, nil
}

// ConnectToServer (re)connects serverID using cfg, or the stored configuration
// when cfg is nil. Any existing session and pending retry are retired first.
// The caller identity set with WithCallerIdentity is used to resolve
// credentials, now and on later automatic retries.
//
// On failure the error is recorded in the status, one retry is scheduled and
// the error is returned. When another connect or a disconnect for the same
// server starts before this attempt finishes, the attempt's result is
// discarded and ErrStaleResult is returned.
func (m *Manager) ConnectToServer(ctx context.Context, serverID string, cfg ServerConfig) (ServerStatus, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg != nil && !IsEnabled(cfg) {
		return ServerStatus{}, &ConfigError{Server: serverID, Reason: "server is disabled"}
	}
	rec, err := m.recordFor(serverID, cfg)
	if err != nil {
		return ServerStatus{}, err
	}

	rec.mu.Lock()
	if cfg != nil {
		rec.config = cfg
	}
	if callerID, ok := CallerIdentity(ctx); ok {
		rec.callerID = callerID
	}
	rec.retryAttempts = 0
	a, retired, snapshot := m.beginAttemptLocked(ctx, rec)
	rec.mu.Unlock()

	m.closeChannel(serverID, retired.session, retired.process)
	if retired.session != nil {
		m.refreshConnectedGauge()
	}
	m.emitStatus(snapshot)
	return m.runAttempt(a)
}

type attempt struct {
	rec      *serverRecord
	gen      uint64
	config   ServerConfig
	callerID string
	ctx      context.Context
	cancel   context.CancelFunc
}

type retiredChannel struct {
	session *mcp.ClientSession
	process *exec.Cmd
}

// retireLocked detaches the live channel, cancels any in-flight attempt and
// pending retry. The caller closes the returned channel once unlocked.
func (m *Manager) retireLocked(rec *serverRecord) retiredChannel {
	m.cancelRetryLocked(rec)
	if rec.cancel != nil {
		rec.cancel()
		rec.cancel = nil
	}
	r := retiredChannel{session: rec.session, process: rec.process}
	rec.session = nil
	rec.process = nil
	return r
}

func (m *Manager) beginAttemptLocked(parent context.Context, rec *serverRecord) (*attempt, retiredChannel, ServerStatus) {
	retired := m.retireLocked(rec)
	rec.generation++
	ctx, cancel := context.WithTimeout(parent, m.timeoutFor(rec.config))
	rec.cancel = cancel

	rec.status.Transport = TransportOf(rec.config)
	rec.status.State = StatusConnecting
	rec.status.Connected = false
	rec.status.NextRetryAt = nil
	rec.status.ReconnectAttempts = rec.retryAttempts
	clearCapabilities(&rec.status)

	return &attempt{
		rec:      rec,
		gen:      rec.generation,
		config:   rec.config,
		callerID: rec.callerID,
		ctx:      ctx,
		cancel:   cancel,
	}, retired, rec.status.clone()
}

func (m *Manager) runAttempt(a *attempt) (ServerStatus, error) {
	defer a.cancel()
	serverID := a.rec.id

	var (
		ch      *Channel
		session *mcp.ClientSession
		caps    capabilities
	)
	err := ValidateConfig(serverID, a.config)
	if err == nil {
		ch, err = m.transports.Build(a.ctx, TransportRequest{ServerID: serverID, Config: a.config, CallerID: a.callerID})
	}
	if err == nil {
		session, err = m.handshake(a, ch)
	}
	if err == nil {
		caps = discoverCapabilities(a.ctx, m.logger, serverID, session)
	}
	return m.finishAttempt(a, ch, session, caps, err)
}

func (m *Manager) handshake(a *attempt, ch *Channel) (*mcp.ClientSession, error) {
	serverID := a.rec.id
	base := a.config.base()
	impl := &mcp.Implementation{
		Name:    m.effectiveClientName(serverID),
		Version: m.effectiveClientVersion(base),
	}
	opts := m.composeClientOptions(serverID, a.gen, base)
	client := mcp.NewClient(impl, &opts)
	transport := &observedTransport{
		serverID: serverID,
		delegate: ch.Transport,
		logger:   m.resolveLogger(base),
	}
	session, err := client.Connect(a.ctx, transport, nil)
	if err != nil {
		return nil, classifyConnectError(serverID, err)
	}
	return session, nil
}

func (m *Manager) finishAttempt(a *attempt, ch *Channel, session *mcp.ClientSession, caps capabilities, err error) (ServerStatus, error) {
	rec := a.rec
	var process *exec.Cmd
	if ch != nil {
		process = ch.Process
	}

	rec.mu.Lock()
	if rec.removed || rec.generation != a.gen {
		rec.mu.Unlock()
		m.closeChannel(rec.id, session, process)
		m.logger.Debug("discarding superseded connect attempt", "server", rec.id, "error", err)
		return ServerStatus{}, ErrStaleResult
	}
	rec.cancel = nil

	if err != nil {
		rec.status.State = StatusDisconnected
		rec.status.Connected = false
		rec.status.LastError = err.Error()
		clearCapabilities(&rec.status)
		m.scheduleRetryLocked(rec)
		snapshot := rec.status.clone()
		onError := a.config.base().OnError
		rec.mu.Unlock()

		m.closeChannel(rec.id, session, process)
		m.metrics.connects.WithLabelValues(rec.id, "error").Inc()
		m.logger.Warn("failed to connect server", "server", rec.id, "error", err)
		if onError != nil {
			onError(err)
		}
		m.emitStatus(snapshot)
		return snapshot, err
	}

	now := m.clock.Now()
	rec.session = session
	rec.process = process
	rec.retryAttempts = 0
	rec.status.State = StatusConnected
	rec.status.Connected = true
	rec.status.LastConnectedAt = &now
	rec.status.LastError = ""
	rec.status.ServerInfo = caps.info
	rec.status.Tools = caps.tools
	rec.status.Resources = caps.resources
	rec.status.Prompts = caps.prompts
	rec.status.ReconnectAttempts = 0
	rec.status.NextRetryAt = nil
	snapshot := rec.status.clone()
	base := a.config.base()
	rec.mu.Unlock()

	go m.monitorSession(rec, a.gen, session, base)

	m.metrics.connects.WithLabelValues(rec.id, "ok").Inc()
	m.refreshConnectedGauge()
	m.logger.Info("server connected", "server", rec.id,
		"tools", len(caps.tools), "resources", len(caps.resources), "prompts", len(caps.prompts))
	m.emitStatus(snapshot)
	return snapshot, nil
}

// monitorSession waits for the session to end. An end the manager did not
// initiate marks the server disconnected and schedules a reconnection.
func (m *Manager) monitorSession(rec *serverRecord, gen uint64, session *mcp.ClientSession, base *BaseServerConfig) {
	waitErr := session.Wait()

	rec.mu.Lock()
	if rec.removed || rec.generation != gen || rec.session != session {
		rec.mu.Unlock()
		return
	}
	process := rec.process
	rec.session = nil
	rec.process = nil
	cause := waitErr
	if cause == nil {
		cause = errors.New("connection closed")
	}
	lost := &TransportError{Server: rec.id, Err: cause}
	rec.status.State = StatusDisconnected
	rec.status.Connected = false
	rec.status.LastError = lost.Error()
	clearCapabilities(&rec.status)
	m.scheduleRetryLocked(rec)
	snapshot := rec.status.clone()
	rec.mu.Unlock()

	m.closeChannel(rec.id, nil, process)
	m.logger.Warn("server connection lost", "server", rec.id, "error", cause)
	if base.OnError != nil && waitErr != nil {
		base.OnError(waitErr)
	}
	m.refreshConnectedGauge()
	m.emitStatus(snapshot)
}

func (m *Manager) scheduleRetryLocked(rec *serverRecord) {
	m.cancelRetryLocked(rec)
	if m.reconnect.Disabled {
		return
	}
	if m.reconnect.exhausted(rec.retryAttempts) {
		rec.status.LastError = fmt.Sprintf("mcpmgr: giving up on %q after %d reconnect attempts: %s",
			rec.id, rec.retryAttempts, rec.status.LastError)
		m.logger.Warn("giving up on server", "server", rec.id, "attempts", rec.retryAttempts)
		return
	}
	rec.retryAttempts++
	delay := m.reconnect.Delay(rec.retryAttempts)
	rec.retrySeq++
	seq := rec.retrySeq
	// The callback must not block: fake clocks fire it while holding their
	// own lock.
	rec.retry = m.clock.AfterFunc(delay, func() { go m.fireRetry(rec, seq) })

	next := m.clock.Now().Add(delay)
	rec.status.State = StatusRetrying
	rec.status.NextRetryAt = &next
	rec.status.ReconnectAttempts = rec.retryAttempts
	m.metrics.reconnects.WithLabelValues(rec.id).Inc()
	m.logger.Debug("reconnect scheduled", "server", rec.id, "attempt", rec.retryAttempts, "delay", delay)
}

func (m *Manager) cancelRetryLocked(rec *serverRecord) {
	if rec.retry != nil {
		rec.retry.Stop()
		rec.retry = nil
	}
	rec.status.NextRetryAt = nil
}

func (m *Manager) fireRetry(rec *serverRecord, seq uint64) {
	rec.mu.Lock()
	if rec.removed || rec.retry == nil || rec.retrySeq != seq {
		rec.mu.Unlock()
		return
	}
	rec.retry = nil
	a, retired, snapshot := m.beginAttemptLocked(context.Background(), rec)
	rec.mu.Unlock()

	m.closeChannel(rec.id, retired.session, retired.process)
	m.emitStatus(snapshot)
	_, _ = m.runAttempt(a)
}

// closeChannel tears down a session and kills its subprocess. Failures are
// only logged.
func (m *Manager) closeChannel(serverID string, session *mcp.ClientSession, process *exec.Cmd) {
	if session != nil {
		if err := session.Close(); err != nil {
			m.logger.Debug("close session", "server", serverID, "error", err)
		}
	}
	if process != nil && process.Process != nil {
		if err := process.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			m.logger.Debug("kill server process", "server", serverID, "error", err)
		}
	}
}

// DisconnectServer closes the session for the given server ID, cancels any
// pending retry or in-flight connect and leaves the server in the shutdown
// state. It is idempotent and never fails because of teardown errors; if ctx
// ends first the close continues in the background.
func (m *Manager) DisconnectServer(ctx context.Context, serverID string) error {
	rec := m.lookup(serverID)
	if rec == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rec.mu.Lock()
	retired := m.retireLocked(rec)
	rec.generation++
	rec.retryAttempts = 0
	rec.status.State = StatusShutdown
	rec.status.Connected = false
	rec.status.ReconnectAttempts = 0
	clearCapabilities(&rec.status)
	snapshot := rec.status.clone()
	rec.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.closeChannel(serverID, retired.session, retired.process)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Debug("disconnect continuing in background", "server", serverID, "error", ctx.Err())
	}

	if retired.session != nil {
		m.refreshConnectedGauge()
	}
	m.emitStatus(snapshot)
	return nil
}

// DisconnectAllServers closes sessions for all servers concurrently.
func (m *Manager) DisconnectAllServers(ctx context.Context) error {
	p := pool.New().WithErrors().WithMaxGoroutines(m.options.ConnectConcurrency)
	for _, id := range m.ListServers() {
		p.Go(func() error { return m.DisconnectServer(ctx, id) })
	}
	return p.Wait()
}

// Shutdown disconnects every server. Servers stay registered and can be
// reconnected explicitly.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.DisconnectAllServers(ctx)
	m.logger.Info("manager shut down", "servers", len(m.ListServers()))
	return err
}

// RemoveServer disconnects a server and forgets it.
func (m *Manager) RemoveServer(ctx context.Context, serverID string) error {
	if err := m.DisconnectServer(ctx, serverID); err != nil {
		return err
	}
	m.mu.Lock()
	rec, ok := m.records[serverID]
	delete(m.records, serverID)
	handlers := append([]func(string){}, m.serverRemovedHandlers...)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	rec.mu.Lock()
	rec.removed = true
	// A connect that raced the disconnect above may have left a retry behind.
	retired := m.retireLocked(rec)
	rec.mu.Unlock()
	m.closeChannel(serverID, retired.session, retired.process)

	// Notify out of lock to avoid deadlocks.
	for _, h := range handlers {
		func(handler func(string), id string) {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("server removed handler panicked", "server", id, "panic", r)
				}
			}()
			handler(id)
		}(h, serverID)
	}
	return nil
}

// OnServerRemoved registers a callback invoked after RemoveServer deletes the
// server from the manager. Handlers run without the manager lock held.
func (m *Manager) OnServerRemoved(handler func(string)) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	m.serverRemovedHandlers = append(m.serverRemovedHandlers, handler)
	m.mu.Unlock()
}

// OnStatusChange registers a callback invoked with a snapshot whenever a
// server's status changes. Callbacks run outside all manager locks and may be
// called concurrently for different servers; a panicking callback is logged
// and ignored.
func (m *Manager) OnStatusChange(handler func(ServerStatus)) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	m.statusHandlers = append(m.statusHandlers, handler)
	m.mu.Unlock()
}

func (m *Manager) emitStatus(status ServerStatus) {
	m.mu.RLock()
	handlers := append([]func(ServerStatus){}, m.statusHandlers...)
	m.mu.RUnlock()
	for _, h := range handlers {
		func(handler func(ServerStatus)) {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("status handler panicked", "server", status.ServerName, "panic", r)
				}
			}()
			handler(status.clone())
		}(h)
	}
}

func (m *Manager) refreshConnectedGauge() {
	n := 0
	for _, rec := range m.snapshotRecords() {
		rec.mu.Lock()
		if rec.session != nil {
			n++
		}
		rec.mu.Unlock()
	}
	m.metrics.connected.Set(float64(n))
}

// GetServerStatuses returns a snapshot of every known server, sorted by name.
func (m *Manager) GetServerStatuses() []ServerStatus {
	recs := m.snapshotRecords()
	statuses := make([]ServerStatus, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		statuses = append(statuses, rec.status.clone())
		rec.mu.Unlock()
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ServerName < statuses[j].ServerName })
	return statuses
}

// GetServerStatus returns the status of one server.
func (m *Manager) GetServerStatus(serverID string) (ServerStatus, bool) {
	rec := m.lookup(serverID)
	if rec == nil {
		return ServerStatus{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.status.clone(), true
}

// GetAllTools returns the tools of every connected server, sorted by server
// then tool name.
func (m *Manager) GetAllTools() []Tool {
	var tools []Tool
	for _, st := range m.GetServerStatuses() {
		if st.Connected {
			tools = append(tools, st.Tools...)
		}
	}
	sort.SliceStable(tools, func(i, j int) bool {
		if tools[i].ServerName != tools[j].ServerName {
			return tools[i].ServerName < tools[j].ServerName
		}
		return tools[i].Name < tools[j].Name
	})
	return tools
}

// GetAllResources returns the resources of every connected server, sorted by
// server then resource name.
func (m *Manager) GetAllResources() []Resource {
	var resources []Resource
	for _, st := range m.GetServerStatuses() {
		if st.Connected {
			resources = append(resources, st.Resources...)
		}
	}
	sort.SliceStable(resources, func(i, j int) bool {
		if resources[i].ServerName != resources[j].ServerName {
			return resources[i].ServerName < resources[j].ServerName
		}
		return resources[i].Name < resources[j].Name
	})
	return resources
}

// GetAllPrompts returns the prompts of every connected server, sorted by
// server then prompt name.
func (m *Manager) GetAllPrompts() []Prompt {
	var prompts []Prompt
	for _, st := range m.GetServerStatuses() {
		if st.Connected {
			prompts = append(prompts, st.Prompts...)
		}
	}
	sort.SliceStable(prompts, func(i, j int) bool {
		if prompts[i].ServerName != prompts[j].ServerName {
			return prompts[i].ServerName < prompts[j].ServerName
		}
		return prompts[i].Name < prompts[j].Name
	})
	return prompts
}

// PingServer sends a protocol-level ping over the server's live session.
func (m *Manager) PingServer(ctx context.Context, serverID string) error {
	session, timeout, err := m.liveSession(serverID)
	if err == nil {
		ctx, cancel := withTimeout(ctx, timeout)
		defer cancel()
		err = session.Ping(ctx, nil)
	}
	m.observe(serverID, "ping", err)
	return err
}

// CallTool invokes a tool with opaque arguments. The result, including tool
// level errors reported through IsError, is returned unchanged.
func (m *Manager) CallTool(ctx context.Context, serverID, toolName string, args any) (*mcp.CallToolResult, error) {
	return m.CallToolWithParams(ctx, serverID, &mcp.CallToolParams{Name: toolName, Arguments: args})
}

// CallToolWithParams invokes a tool with caller-supplied request parameters.
func (m *Manager) CallToolWithParams(ctx context.Context, serverID string, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	session, timeout, err := m.liveSession(serverID)
	if err != nil {
		m.observe(serverID, "tool", err)
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	res, err := session.CallTool(ctx, params)
	m.observe(serverID, "tool", err)
	return res, err
}

// ReadResource reads a resource by URI from the given server.
func (m *Manager) ReadResource(ctx context.Context, serverID, uri string) (*mcp.ReadResourceResult, error) {
	session, timeout, err := m.liveSession(serverID)
	if err != nil {
		m.observe(serverID, "resource", err)
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	res, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	m.observe(serverID, "resource", err)
	return res, err
}

// GetPrompt renders a prompt with the given arguments.
func (m *Manager) GetPrompt(ctx context.Context, serverID, promptName string, args map[string]string) (*mcp.GetPromptResult, error) {
	session, timeout, err := m.liveSession(serverID)
	if err != nil {
		m.observe(serverID, "prompt", err)
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	res, err := session.GetPrompt(ctx, &mcp.GetPromptParams{Name: promptName, Arguments: args})
	m.observe(serverID, "prompt", err)
	return res, err
}

func (m *Manager) liveSession(serverID string) (*mcp.ClientSession, time.Duration, error) {
	rec := m.lookup(serverID)
	if rec == nil {
		return nil, 0, &NotConnectedError{Server: serverID}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.session == nil {
		return nil, 0, &NotConnectedError{Server: serverID}
	}
	return rec.session, m.timeoutFor(rec.config), nil
}

func (m *Manager) observe(serverID, kind string, err error) {
	m.metrics.invocations.WithLabelValues(serverID, kind, resultLabel(err)).Inc()
}

// refreshCategory re-lists one capability category after a list_changed
// notification. Concurrent notifications for the same session coalesce.
func (m *Manager) refreshCategory(serverID string, gen uint64, kind capabilityKind) {
	key := fmt.Sprintf("%s\x00%d\x00%s", serverID, gen, kind)
	_, _, _ = m.refreshes.Do(key, func() (any, error) {
		rec := m.lookup(serverID)
		if rec == nil {
			return nil, nil
		}
		rec.mu.Lock()
		session := rec.session
		if rec.generation != gen || session == nil {
			rec.mu.Unlock()
			return nil, nil
		}
		timeout := m.timeoutFor(rec.config)
		rec.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var apply func(*ServerStatus)
		switch kind {
		case kindTools:
			tools := discoverCategory(ctx, m.logger, serverID, kind, nil, func(ctx context.Context) ([]Tool, error) {
				return listTools(ctx, serverID, session)
			})
			apply = func(st *ServerStatus) { st.Tools = tools }
		case kindResources:
			resources := discoverCategory(ctx, m.logger, serverID, kind, nil, func(ctx context.Context) ([]Resource, error) {
				return listResources(ctx, serverID, session)
			})
			apply = func(st *ServerStatus) { st.Resources = resources }
		case kindPrompts:
			prompts := discoverCategory(ctx, m.logger, serverID, kind, nil, func(ctx context.Context) ([]Prompt, error) {
				return listPrompts(ctx, serverID, session)
			})
			apply = func(st *ServerStatus) { st.Prompts = prompts }
		default:
			return nil, nil
		}

		rec.mu.Lock()
		if rec.removed || rec.generation != gen || rec.session != session {
			rec.mu.Unlock()
			return nil, nil
		}
		apply(&rec.status)
		snapshot := rec.status.clone()
		rec.mu.Unlock()

		m.logger.Debug("capabilities refreshed", "server", serverID, "category", kind)
		m.emitStatus(snapshot)
		return nil, nil
	})
}

func (m *Manager) timeoutFor(cfg ServerConfig) time.Duration {
	if cfg != nil {
		if t := cfg.base().Timeout; t > 0 {
			return t
		}
	}
	return m.options.DefaultTimeout
}

func (m *Manager) effectiveClientName(serverID string) string {
	if m.options.DefaultClientName != "" {
		return m.options.DefaultClientName
	}
	return serverID
}

func (m *Manager) effectiveClientVersion(base *BaseServerConfig) string {
	if base.Version != "" {
		return base.Version
	}
	return m.options.DefaultClientVersion
}

// composeClientOptions merges defaults with per-server options and hooks the
// list_changed notifications so the status follows the server's catalog.
func (m *Manager) composeClientOptions(serverID string, gen uint64, base *BaseServerConfig) mcp.ClientOptions {
	opts := m.options.DefaultClientOptions
	mergeClientOptions(&opts, &base.ClientOptions)
	wrapped := opts

	originalTool := wrapped.ToolListChangedHandler
	originalPrompt := wrapped.PromptListChangedHandler
	originalResList := wrapped.ResourceListChangedHandler

	// Refreshes run on their own goroutine; the handlers are invoked while
	// the session is reading messages.
	wrapped.ToolListChangedHandler = func(ctx context.Context, req *mcp.ToolListChangedRequest) {
		if originalTool != nil {
			originalTool(ctx, req)
		}
		go m.refreshCategory(serverID, gen, kindTools)
	}
	wrapped.PromptListChangedHandler = func(ctx context.Context, req *mcp.PromptListChangedRequest) {
		if originalPrompt != nil {
			originalPrompt(ctx, req)
		}
		go m.refreshCategory(serverID, gen, kindPrompts)
	}
	wrapped.ResourceListChangedHandler = func(ctx context.Context, req *mcp.ResourceListChangedRequest) {
		if originalResList != nil {
			originalResList(ctx, req)
		}
		go m.refreshCategory(serverID, gen, kindResources)
	}
	return wrapped
}

func mergeClientOptions(dst, src *mcp.ClientOptions) {
	if src == nil {
		return
	}
	if src.CreateMessageHandler != nil {
		dst.CreateMessageHandler = src.CreateMessageHandler
	}
	if src.ElicitationHandler != nil {
		dst.ElicitationHandler = src.ElicitationHandler
	}
	if src.ToolListChangedHandler != nil {
		dst.ToolListChangedHandler = src.ToolListChangedHandler
	}
	if src.PromptListChangedHandler != nil {
		dst.PromptListChangedHandler = src.PromptListChangedHandler
	}
	if src.ResourceListChangedHandler != nil {
		dst.ResourceListChangedHandler = src.ResourceListChangedHandler
	}
	if src.ResourceUpdatedHandler != nil {
		dst.ResourceUpdatedHandler = src.ResourceUpdatedHandler
	}
	if src.LoggingMessageHandler != nil {
		dst.LoggingMessageHandler = src.LoggingMessageHandler
	}
	if src.ProgressNotificationHandler != nil {
		dst.ProgressNotificationHandler = src.ProgressNotificationHandler
	}
	if src.KeepAlive != 0 {
		dst.KeepAlive = src.KeepAlive
	}
}

// resolveLogger picks the JSON-RPC traffic logger for a server. The built-in
// one writes to the manager's slog logger at debug level.
func (m *Manager) resolveLogger(base *BaseServerConfig) RPCLogger {
	if base.RPCLogger != nil {
		return base.RPCLogger
	}
	if m.options.RPCLogger != nil {
		return m.options.RPCLogger
	}
	if base.LogJSONRPC || m.options.DefaultLogJSONRPC {
		logger := m.logger
		return func(event RPCLogEvent) {
			logger.Debug("jsonrpc", "server", event.ServerID,
				"direction", strings.ToUpper(string(event.Direction)), "message", string(event.Message))
		}
	}
	return nil
}

func clearCapabilities(st *ServerStatus) {
	st.Tools = []Tool{}
	st.Resources = []Resource{}
	st.Prompts = []Prompt{}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
