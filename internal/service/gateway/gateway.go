// Package gateway registers tool servers of every kind, manages their connection
// lifecycle and routes tool calls to them.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/toolgate/toolgate/internal/service/connector"
	"github.com/toolgate/toolgate/internal/service/inprocess"
	mcputil "github.com/toolgate/toolgate/internal/service/mcp"
	"github.com/toolgate/toolgate/internal/telemetry"
	"github.com/toolgate/toolgate/pkg/types"
)

var (
	ErrServerNotFound       = errors.New("tool server not found")
	ErrServerExists         = errors.New("tool server already exists")
	ErrNotRemovable         = errors.New("tool server is built-in and cannot be removed or modified")
	ErrNotConnected         = connector.ErrNotConnected
	ErrUnsupportedTransport = errors.New("unsupported transport")
	ErrServerDisabled       = errors.New("tool server is disabled")
)

// ConfigStore persists the configs of local-process and remote servers.
// In-process servers are never handed to it.
type ConfigStore interface {
	Save(ctx context.Context, cfg *types.ToolServerConfig) error
	Delete(ctx context.Context, id string) error
}

type noopStore struct{}

func (noopStore) Save(context.Context, *types.ToolServerConfig) error { return nil }
func (noopStore) Delete(context.Context, string) error                { return nil }

// Config holds the collaborators of a Gateway.
type Config struct {
	// Registry holds the in-process servers. It is required.
	Registry *inprocess.Registry
	// LocalProcess and Remote are the connectors of the other two kinds.
	LocalProcess connector.Connector
	Remote       connector.Connector

	Store   ConfigStore
	Metrics telemetry.CustomMetrics
	Logger  *zap.Logger

	// BatchConcurrency limits the calls of a batch running at once. Zero means no limit.
	BatchConcurrency int
}

// Gateway owns the config and status of every tool server.
// It is safe for concurrent use. Calls to different servers run in parallel;
// connect, disconnect, update and remove are serialized per server id.
type Gateway struct {
	registry   *inprocess.Registry
	connectors map[types.ServerKind]connector.Connector
	store      ConfigStore
	metrics    telemetry.CustomMetrics
	logger     *zap.Logger

	batchConcurrency int

	mu       sync.RWMutex
	configs  map[string]*types.ToolServerConfig
	statuses map[string]*types.ToolServerStatus

	locks *keyedMutex
	group singleflight.Group

	obsMu     sync.RWMutex
	observers []StatusObserver
}

// New creates a gateway. Missing connectors make servers of that kind fail to connect.
func New(cfg Config) *Gateway {
	if cfg.Registry == nil {
		cfg.Registry = inprocess.NewRegistry(cfg.Logger)
	}
	if cfg.Store == nil {
		cfg.Store = noopStore{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewNoopCustomMetrics()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	connectors := map[types.ServerKind]connector.Connector{
		types.KindInProcess: inprocess.NewConnector(cfg.Registry),
	}
	if cfg.LocalProcess != nil {
		connectors[types.KindLocalProcess] = cfg.LocalProcess
	}
	if cfg.Remote != nil {
		connectors[types.KindRemote] = cfg.Remote
	}

	return &Gateway{
		registry:         cfg.Registry,
		connectors:       connectors,
		store:            cfg.Store,
		metrics:          cfg.Metrics,
		logger:           logger,
		batchConcurrency: cfg.BatchConcurrency,
		configs:          make(map[string]*types.ToolServerConfig),
		statuses:         make(map[string]*types.ToolServerStatus),
		locks:            newKeyedMutex(),
	}
}

// Registry returns the in-process registry of the gateway.
func (g *Gateway) Registry() *inprocess.Registry {
	return g.registry
}

// Initialize runs the initialize hooks of the in-process servers and exposes every
// server of the registry through the gateway. Hook failures are logged; the affected
// server retries its hook on first use.
func (g *Gateway) Initialize(ctx context.Context) error {
	if err := g.registry.InitializeAll(ctx); err != nil {
		g.logger.Warn("some in-process servers failed to initialize", zap.Error(err))
	}
	for _, def := range g.registry.List() {
		if err := g.addInProcess(def.Config()); err != nil && !errors.Is(err, ErrServerExists) {
			return err
		}
	}
	return nil
}

// Shutdown disconnects every live connection and runs the cleanup hooks of the in-process servers.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error
	for _, st := range g.GetAllServerStatus() {
		if st.Kind == types.KindInProcess || st.State != types.StateConnected {
			continue
		}
		if _, err := g.Disconnect(ctx, st.ServerID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := g.registry.CleanupAll(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// validateConfig checks a config and fills in the default transport and name.
func validateConfig(cfg *types.ToolServerConfig) error {
	if err := mcputil.ValidateServerID(cfg.ID); err != nil {
		return err
	}
	kind, err := types.ValidateKind(string(cfg.Kind))
	if err != nil {
		return err
	}
	transport, err := types.ValidateTransport(kind, string(cfg.Transport))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedTransport, err.Error())
	}
	cfg.Kind = kind
	cfg.Transport = transport

	switch kind {
	case types.KindLocalProcess:
		if cfg.Command == "" {
			return errors.New("command is required for local-process servers")
		}
	case types.KindRemote:
		if cfg.URL == "" {
			return errors.New("url is required for remote servers")
		}
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	return nil
}

// AddServer registers a new server. Adding an id that already exists is rejected with
// ErrServerExists; use UpdateServer to change a server.
// Local-process and remote servers start disconnected and are persisted.
// In-process servers must already be in the registry and start connected.
func (g *Gateway) AddServer(ctx context.Context, cfg *types.ToolServerConfig) (*types.ToolServerStatus, error) {
	return g.add(ctx, cfg, true)
}

// RestoreServer registers a server loaded from the config store without saving it again.
func (g *Gateway) RestoreServer(ctx context.Context, cfg *types.ToolServerConfig) (*types.ToolServerStatus, error) {
	return g.add(ctx, cfg, false)
}

func (g *Gateway) add(ctx context.Context, in *types.ToolServerConfig, persist bool) (*types.ToolServerStatus, error) {
	if in == nil {
		return nil, errors.New("config must not be nil")
	}
	cfg := in.Clone()
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Kind == types.KindInProcess {
		if err := g.addInProcess(cfg); err != nil {
			return nil, err
		}
		return g.GetServerStatus(cfg.ID)
	}

	unlock := g.locks.Lock(cfg.ID)
	defer unlock()

	if g.exists(cfg.ID) {
		return nil, fmt.Errorf("%w: %s", ErrServerExists, cfg.ID)
	}
	if persist {
		if err := g.store.Save(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to save config of server %s: %w", cfg.ID, err)
		}
	}

	status := types.ToolServerStatus{ServerID: cfg.ID, Kind: cfg.Kind, State: types.StateDisconnected}
	g.mu.Lock()
	g.configs[cfg.ID] = cfg
	g.mu.Unlock()
	g.setStatus(status)

	g.logger.Info("added tool server", zap.String("server_id", cfg.ID), zap.String("kind", string(cfg.Kind)))
	return g.GetServerStatus(cfg.ID)
}

// exists reports whether id is taken by a config or reachable through a registry alias.
func (g *Gateway) exists(id string) bool {
	g.mu.RLock()
	_, ok := g.configs[id]
	g.mu.RUnlock()
	return ok || g.registry.Has(id)
}

// addInProcess exposes a registry definition. The status is connected right away.
func (g *Gateway) addInProcess(cfg *types.ToolServerConfig) error {
	canonical, ok := g.registry.Resolve(cfg.ID)
	if !ok {
		return fmt.Errorf("%w: no in-process definition named %s", ErrServerNotFound, cfg.ID)
	}
	tools, err := g.registry.Tools(canonical)
	if err != nil {
		return err
	}

	unlock := g.locks.Lock(canonical)
	defer unlock()

	g.mu.Lock()
	if _, dup := g.configs[canonical]; dup {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServerExists, canonical)
	}
	def, _ := g.registry.Get(canonical)
	stored := def.Config()
	if cfg.Description != "" {
		stored.Description = cfg.Description
	}
	g.configs[canonical] = stored
	g.mu.Unlock()

	g.setStatus(types.ToolServerStatus{
		ServerID: canonical,
		Kind:     types.KindInProcess,
		State:    types.StateConnected,
		Tools:    tools,
	})
	return nil
}

// UpdateServer replaces the config of an existing server. A connected server is
// reconnected with the new config. Built-in servers cannot be updated.
func (g *Gateway) UpdateServer(ctx context.Context, in *types.ToolServerConfig) (*types.ToolServerStatus, error) {
	if in == nil {
		return nil, errors.New("config must not be nil")
	}
	cfg := in.Clone()
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	unlock := g.locks.Lock(cfg.ID)
	defer unlock()

	old, ok := g.config(cfg.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, cfg.ID)
	}
	if old.Kind == types.KindInProcess || cfg.Kind == types.KindInProcess {
		return nil, fmt.Errorf("%w: %s", ErrNotRemovable, cfg.ID)
	}

	wasConnected := g.state(cfg.ID) == types.StateConnected
	if wasConnected {
		g.disconnectLocked(ctx, old)
	}
	if err := g.store.Save(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config of server %s: %w", cfg.ID, err)
	}
	g.mu.Lock()
	g.configs[cfg.ID] = cfg
	g.mu.Unlock()
	g.logger.Info("updated tool server", zap.String("server_id", cfg.ID))

	if wasConnected && cfg.Enabled {
		return g.connectLocked(ctx, cfg)
	}
	return g.GetServerStatus(cfg.ID)
}

// RemoveServer disconnects a server, best effort, and forgets it.
// Built-in in-process servers return ErrNotRemovable. Dynamic in-process servers
// are removed from the registry as well.
func (g *Gateway) RemoveServer(ctx context.Context, id string) error {
	if canonical, ok := g.registry.Resolve(id); ok {
		id = canonical
	}

	unlock := g.locks.Lock(id)
	defer unlock()

	cfg, ok := g.config(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}

	if cfg.Kind == types.KindInProcess {
		if err := g.registry.Unregister(ctx, id); err != nil {
			if errors.Is(err, inprocess.ErrNotRemovable) {
				return fmt.Errorf("%w: %s", ErrNotRemovable, id)
			}
			// the definition is gone already, only the gateway entry is left
			g.logger.Warn("failed to unregister in-process server", zap.String("server_id", id), zap.Error(err))
		}
		g.forget(id)
		return nil
	}

	if g.state(id) == types.StateConnected {
		g.disconnectLocked(ctx, cfg)
	}
	g.forget(id)
	if err := g.store.Delete(ctx, id); err != nil {
		g.logger.Error("failed to delete config of removed server", zap.String("server_id", id), zap.Error(err))
	}
	g.logger.Info("removed tool server", zap.String("server_id", id))
	return nil
}

func (g *Gateway) forget(id string) {
	g.mu.Lock()
	cfg := g.configs[id]
	delete(g.configs, id)
	delete(g.statuses, id)
	g.mu.Unlock()

	kind := types.ServerKind("")
	if cfg != nil {
		kind = cfg.Kind
	}
	g.publish(types.ToolServerStatus{ServerID: id, Kind: kind, State: types.StateDisconnected, UpdatedAt: time.Now()})
}

// Connect opens a session with a server and discovers its tools.
// Concurrent calls for the same id share one attempt. The returned status is
// connected or error; the error explains a failed attempt.
func (g *Gateway) Connect(ctx context.Context, id string) (*types.ToolServerStatus, error) {
	v, err, _ := g.group.Do(id, func() (any, error) {
		unlock := g.locks.Lock(id)
		defer unlock()

		cfg, ok := g.config(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrServerNotFound, id)
		}
		// the attempt is shared, so it must not be aborted by the first caller going away
		return g.connectLocked(context.WithoutCancel(ctx), cfg)
	})
	status, _ := v.(*types.ToolServerStatus)
	return status, err
}

// connectLocked must be called with the lock of cfg.ID held.
func (g *Gateway) connectLocked(ctx context.Context, cfg *types.ToolServerConfig) (*types.ToolServerStatus, error) {
	if cfg.Kind == types.KindInProcess {
		return g.GetServerStatus(cfg.ID)
	}
	if !cfg.Enabled {
		status, _ := g.GetServerStatus(cfg.ID)
		return status, fmt.Errorf("%w: %s", ErrServerDisabled, cfg.ID)
	}
	if g.state(cfg.ID) == types.StateConnected {
		// reconnecting replaces the session
		g.disconnectLocked(ctx, cfg)
	}

	g.setStatus(types.ToolServerStatus{ServerID: cfg.ID, Kind: cfg.Kind, State: types.StateConnecting})

	tools, err := g.safeConnect(ctx, cfg)
	if err != nil {
		g.logger.Warn("failed to connect to tool server", zap.String("server_id", cfg.ID), zap.Error(err))
		g.setStatus(types.ToolServerStatus{
			ServerID:  cfg.ID,
			Kind:      cfg.Kind,
			State:     types.StateError,
			LastError: err.Error(),
		})
		status, _ := g.GetServerStatus(cfg.ID)
		return status, err
	}

	// tools are stored in the same update that makes the server visible as connected
	g.setStatus(types.ToolServerStatus{ServerID: cfg.ID, Kind: cfg.Kind, State: types.StateConnected, Tools: tools})
	return g.GetServerStatus(cfg.ID)
}

func (g *Gateway) safeConnect(ctx context.Context, cfg *types.ToolServerConfig) (tools []types.ToolDeclaration, err error) {
	conn, ok := g.connectors[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no connector for %s servers", ErrUnsupportedTransport, cfg.Kind)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("connector panicked: %v", p)
		}
	}()
	tools, err = conn.Connect(ctx, cfg.Clone())
	if tools == nil && err == nil {
		tools = []types.ToolDeclaration{}
	}
	return tools, err
}

// Disconnect closes the session with a server. Disconnecting a server that is not
// connected is a no-op.
func (g *Gateway) Disconnect(ctx context.Context, id string) (*types.ToolServerStatus, error) {
	unlock := g.locks.Lock(id)
	defer unlock()

	cfg, ok := g.config(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	if cfg.Kind != types.KindInProcess && g.state(id) != types.StateDisconnected {
		g.disconnectLocked(ctx, cfg)
	}
	return g.GetServerStatus(id)
}

// disconnectLocked closes the session of cfg, swallowing errors, and resets the status.
func (g *Gateway) disconnectLocked(ctx context.Context, cfg *types.ToolServerConfig) {
	if conn, ok := g.connectors[cfg.Kind]; ok {
		func() {
			defer func() {
				if p := recover(); p != nil {
					g.logger.Error("connector panicked on disconnect", zap.String("server_id", cfg.ID), zap.Any("panic", p))
				}
			}()
			if err := conn.Disconnect(ctx, cfg.ID); err != nil {
				g.logger.Warn("failed to disconnect tool server", zap.String("server_id", cfg.ID), zap.Error(err))
			}
		}()
	}
	g.setStatus(types.ToolServerStatus{ServerID: cfg.ID, Kind: cfg.Kind, State: types.StateDisconnected})
}

// setStatus stores a status and publishes it.
func (g *Gateway) setStatus(status types.ToolServerStatus) {
	status.UpdatedAt = time.Now()
	if status.State != types.StateConnected {
		status.Tools = nil
	}
	g.mu.Lock()
	if _, ok := g.configs[status.ServerID]; !ok {
		g.mu.Unlock()
		return
	}
	st := status
	g.statuses[status.ServerID] = &st
	g.mu.Unlock()

	g.metrics.RecordServerState(context.Background(), status.ServerID, string(status.Kind), string(status.State))
	g.logger.Debug("tool server state changed",
		zap.String("server_id", status.ServerID), zap.String("state", string(status.State)),
	)
	g.publish(copyStatus(&status))
}

func (g *Gateway) config(id string) (*types.ToolServerConfig, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cfg, ok := g.configs[id]
	return cfg, ok
}

func (g *Gateway) state(id string) types.ServerState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if st, ok := g.statuses[id]; ok {
		return st.State
	}
	return ""
}

func copyStatus(st *types.ToolServerStatus) types.ToolServerStatus {
	cp := *st
	if st.Tools != nil {
		cp.Tools = append([]types.ToolDeclaration(nil), st.Tools...)
	}
	return cp
}

// GetServerConfig returns a copy of the config of id.
func (g *Gateway) GetServerConfig(id string) (*types.ToolServerConfig, error) {
	if canonical, ok := g.registry.Resolve(id); ok {
		id = canonical
	}
	cfg, ok := g.config(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	return cfg.Clone(), nil
}

// ListServers returns a copy of every config, sorted by id.
func (g *Gateway) ListServers() []*types.ToolServerConfig {
	g.mu.RLock()
	out := make([]*types.ToolServerConfig, 0, len(g.configs))
	for _, cfg := range g.configs {
		out = append(out, cfg.Clone())
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetServerStatus returns a copy of the status of id.
func (g *Gateway) GetServerStatus(id string) (*types.ToolServerStatus, error) {
	if canonical, ok := g.registry.Resolve(id); ok {
		id = canonical
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	st, ok := g.statuses[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	cp := copyStatus(st)
	return &cp, nil
}

// GetAllServerStatus returns a copy of every status, sorted by server id.
func (g *Gateway) GetAllServerStatus() []types.ToolServerStatus {
	g.mu.RLock()
	out := make([]types.ToolServerStatus, 0, len(g.statuses))
	for _, st := range g.statuses {
		out = append(out, copyStatus(st))
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// ListAllAvailableTools returns every tool of every connected server.
// A server reachable under several ids, such as a legacy alias, is listed once under its canonical id.
func (g *Gateway) ListAllAvailableTools() []types.AvailableTool {
	type key struct{ server, tool string }
	seen := make(map[key]bool)
	var out []types.AvailableTool

	add := func(serverID string, tools []types.ToolDeclaration) {
		for _, t := range tools {
			k := key{serverID, t.Name}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, types.AvailableTool{ServerID: serverID, Tool: t})
		}
	}

	for _, st := range g.GetAllServerStatus() {
		if st.State == types.StateConnected {
			add(st.ServerID, st.Tools)
		}
	}
	for _, id := range g.registry.ReachableIDs() {
		canonical, ok := g.registry.Resolve(id)
		if !ok {
			continue
		}
		tools, err := g.registry.Tools(canonical)
		if err != nil {
			continue
		}
		add(canonical, tools)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ServerID != out[j].ServerID {
			return out[i].ServerID < out[j].ServerID
		}
		return out[i].Tool.Name < out[j].Tool.Name
	})
	return out
}

// ProxyRequest forwards a raw request to the host of a remote server.
func (g *Gateway) ProxyRequest(ctx context.Context, id string, req *types.ProxyRequest) (*types.ProxyResponse, error) {
	cfg, ok := g.config(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	if cfg.Kind != types.KindRemote {
		return nil, fmt.Errorf("%w: proxy requests need a remote server, %s is %s", ErrUnsupportedTransport, id, cfg.Kind)
	}
	proxier, ok := g.connectors[types.KindRemote].(connector.Proxier)
	if !ok {
		return nil, fmt.Errorf("%w: remote connector cannot proxy requests", ErrUnsupportedTransport)
	}
	return proxier.ProxyRequest(ctx, cfg.Clone(), req)
}
