// Package inprocess is the registry of tool servers whose handlers run inside the toolgate process.
package inprocess

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	mcputil "github.com/toolgate/toolgate/internal/service/mcp"
	"github.com/toolgate/toolgate/pkg/types"
)

var (
	ErrDuplicate     = errors.New("in-process server is already registered")
	ErrNotFound      = errors.New("in-process server not found")
	ErrToolNotFound  = errors.New("tool not found")
	ErrNotRemovable  = errors.New("in-process server is built-in and cannot be removed")
	ErrOwnerConflict = errors.New("server id is owned by another registration")
)

// Definition describes an in-process tool server.
type Definition struct {
	ID          string
	Name        string
	Description string

	// Tools carries the declaration and handler of every tool, in mcp-go's shape.
	Tools []server.ServerTool

	// Removable is false for built-in servers.
	Removable bool

	// Initialize is called once before the first call. It is optional.
	Initialize func(ctx context.Context) error
	// Cleanup is called once when the server is removed or the registry shuts down. It is optional.
	Cleanup func(ctx context.Context) error
}

// Config returns the gateway config of the definition.
func (d *Definition) Config() *types.ToolServerConfig {
	return &types.ToolServerConfig{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Kind:        types.KindInProcess,
		Transport:   types.TransportNone,
		Enabled:     true,
	}
}

type entry struct {
	def         *Definition
	tools       map[string]server.ServerTool
	owner       string
	initialized bool
}

// Registry holds in-process server definitions. It is safe for concurrent use.
// Handlers are invoked without holding the registry lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	aliases map[string]string
	owners  map[string][]string
	logger  *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*entry),
		aliases: make(map[string]string),
		owners:  make(map[string][]string),
		logger:  logger,
	}
}

func newEntry(def *Definition, owner string) (*entry, error) {
	if def == nil {
		return nil, errors.New("definition must not be nil")
	}
	if err := mcputil.ValidateServerID(def.ID); err != nil {
		return nil, err
	}
	tools := make(map[string]server.ServerTool, len(def.Tools))
	for _, t := range def.Tools {
		if t.Handler == nil {
			return nil, fmt.Errorf("tool %s of server %s has no handler", t.Tool.Name, def.ID)
		}
		if _, dup := tools[t.Tool.Name]; dup {
			return nil, fmt.Errorf("tool %s is declared twice by server %s", t.Tool.Name, def.ID)
		}
		tools[t.Tool.Name] = t
	}
	return &entry{def: def, tools: tools, owner: owner}, nil
}

// Register adds a definition. Registering an id twice is an error.
func (r *Registry) Register(def *Definition) error {
	e, err := newEntry(def, "")
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken(def.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicate, def.ID)
	}
	r.entries[def.ID] = e
	r.logger.Debug("registered in-process server", zap.String("server_id", def.ID), zap.Int("tools", len(e.tools)))
	return nil
}

// taken reports whether id is used by a definition or an alias. Caller must hold the lock.
func (r *Registry) taken(id string) bool {
	if _, ok := r.entries[id]; ok {
		return true
	}
	_, ok := r.aliases[id]
	return ok
}

// Alias makes a legacy id resolve to an existing definition.
func (r *Registry) Alias(alias, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.taken(alias) {
		return fmt.Errorf("%w: %s", ErrDuplicate, alias)
	}
	r.aliases[alias] = id
	return nil
}

// Resolve returns the canonical id of id, which may be an alias.
func (r *Registry) Resolve(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolve(id)
}

func (r *Registry) resolve(id string) (string, bool) {
	if _, ok := r.entries[id]; ok {
		return id, true
	}
	if canonical, ok := r.aliases[id]; ok {
		return canonical, true
	}
	return "", false
}

// Has reports whether id, or an alias named id, is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Resolve(id)
	return ok
}

// Get returns the definition behind id, resolving aliases.
func (r *Registry) Get(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	canonical, ok := r.resolve(id)
	if !ok {
		return nil, false
	}
	return r.entries[canonical].def, true
}

// List returns every definition sorted by id. Aliases are not included.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReachableIDs returns every id a caller can address: canonical ids and aliases.
func (r *Registry) ReachableIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries)+len(r.aliases))
	for id := range r.entries {
		out = append(out, id)
	}
	for alias := range r.aliases {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// Tools returns the declarations of the tools of id.
func (r *Registry) Tools(id string) ([]types.ToolDeclaration, error) {
	def, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := make([]types.ToolDeclaration, 0, len(def.Tools))
	for _, t := range def.Tools {
		out = append(out, mcputil.ConvertTool(t.Tool))
	}
	return out, nil
}

// CallTool invokes a tool handler directly.
// A handler error or panic becomes an error result; the returned error is only
// non-nil if the server or tool does not exist or the server failed to initialize.
func (r *Registry) CallTool(ctx context.Context, id, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	r.mu.RLock()
	canonical, ok := r.resolve(id)
	if !ok {
		r.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e := r.entries[canonical]
	tool, ok := e.tools[toolName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s on server %s", ErrToolNotFound, toolName, canonical)
	}

	if err := r.initialize(ctx, canonical); err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args
	return r.invoke(ctx, canonical, tool, req), nil
}

func (r *Registry) invoke(ctx context.Context, serverID string, tool server.ServerTool, req mcp.CallToolRequest) (res *mcp.CallToolResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("in-process tool handler panicked",
				zap.String("server_id", serverID),
				zap.String("tool", tool.Tool.Name),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			res = mcp.NewToolResultError(fmt.Sprintf("tool %s panicked: %v", tool.Tool.Name, p))
		}
	}()

	res, err := tool.Handler(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	if res == nil {
		return &mcp.CallToolResult{Content: []mcp.Content{}}
	}
	return res
}

// initialize runs the Initialize hook of id once. A failed hook is retried on the next call.
func (r *Registry) initialize(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.initialized {
		r.mu.Unlock()
		return nil
	}
	// marked before running the hook so that it is invoked at most once concurrently
	e.initialized = true
	hook := e.def.Initialize
	r.mu.Unlock()

	if hook == nil {
		return nil
	}
	if err := hook(ctx); err != nil {
		r.mu.Lock()
		e.initialized = false
		r.mu.Unlock()
		return fmt.Errorf("failed to initialize in-process server %s: %w", id, err)
	}
	r.logger.Debug("initialized in-process server", zap.String("server_id", id))
	return nil
}

// InitializeAll runs the Initialize hook of every definition that has not been initialized yet.
// Every hook is attempted; the errors are joined.
func (r *Registry) InitializeAll(ctx context.Context) error {
	var errs []error
	for _, def := range r.List() {
		if err := r.initialize(ctx, def.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unregister removes a removable definition, its aliases and runs its Cleanup hook.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	canonical, ok := r.resolve(id)
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e := r.entries[canonical]
	if !e.def.Removable {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRemovable, canonical)
	}
	initialized := e.initialized
	r.remove(canonical)
	r.mu.Unlock()

	return r.cleanup(ctx, e.def, initialized)
}

// remove deletes a definition with its aliases and owner bookkeeping. Caller must hold the lock.
func (r *Registry) remove(id string) {
	e := r.entries[id]
	delete(r.entries, id)
	for alias, target := range r.aliases {
		if target == id {
			delete(r.aliases, alias)
		}
	}
	if e.owner != "" {
		ids := r.owners[e.owner]
		for i, v := range ids {
			if v == id {
				ids = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(ids) == 0 {
			delete(r.owners, e.owner)
		} else {
			r.owners[e.owner] = ids
		}
	}
}

func (r *Registry) cleanup(ctx context.Context, def *Definition, initialized bool) error {
	if !initialized || def.Cleanup == nil {
		return nil
	}
	if err := def.Cleanup(ctx); err != nil {
		return fmt.Errorf("failed to clean up in-process server %s: %w", def.ID, err)
	}
	return nil
}

// CleanupAll runs the Cleanup hook of every initialized definition and marks them uninitialized.
func (r *Registry) CleanupAll(ctx context.Context) error {
	r.mu.Lock()
	var initialized []*entry
	for _, e := range r.entries {
		if e.initialized {
			initialized = append(initialized, e)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, e := range initialized {
		if err := r.cleanup(ctx, e.def, true); err != nil {
			errs = append(errs, err)
		}
		r.mu.Lock()
		e.initialized = false
		r.mu.Unlock()
	}
	return errors.Join(errs...)
}

// ReplaceOwner atomically swaps the definitions registered by owner for defs.
// Either every new definition is registered or the registry is left unchanged.
// It returns the ids that were removed and added.
func (r *Registry) ReplaceOwner(ctx context.Context, owner string, defs []*Definition) (removed, added []string, err error) {
	if owner == "" {
		return nil, nil, errors.New("owner must not be empty")
	}
	entries := make([]*entry, 0, len(defs))
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		e, err := newEntry(def, owner)
		if err != nil {
			return nil, nil, err
		}
		if seen[def.ID] {
			return nil, nil, fmt.Errorf("%w: %s is declared twice", ErrDuplicate, def.ID)
		}
		seen[def.ID] = true
		// dynamic servers are always removable by their owner
		def.Removable = true
		entries = append(entries, e)
	}

	r.mu.Lock()
	previous := append([]string(nil), r.owners[owner]...)
	mine := make(map[string]bool, len(previous))
	for _, id := range previous {
		mine[id] = true
	}
	for _, e := range entries {
		if r.taken(e.def.ID) && !mine[e.def.ID] {
			r.mu.Unlock()
			return nil, nil, fmt.Errorf("%w: %s", ErrOwnerConflict, e.def.ID)
		}
	}

	type staleEntry struct {
		def         *Definition
		initialized bool
	}
	var stale []staleEntry
	for _, id := range previous {
		e := r.entries[id]
		stale = append(stale, staleEntry{def: e.def, initialized: e.initialized})
		r.remove(id)
	}
	for _, e := range entries {
		r.entries[e.def.ID] = e
		r.owners[owner] = append(r.owners[owner], e.def.ID)
		added = append(added, e.def.ID)
	}
	r.mu.Unlock()

	var errs []error
	for _, e := range stale {
		if err := r.cleanup(ctx, e.def, e.initialized); err != nil {
			errs = append(errs, err)
		}
	}
	r.logger.Info("replaced dynamic registration",
		zap.String("owner", owner), zap.Strings("removed", previous), zap.Strings("added", added),
	)
	return previous, added, errors.Join(errs...)
}

// RemoveOwner removes every definition registered by owner.
func (r *Registry) RemoveOwner(ctx context.Context, owner string) ([]string, error) {
	removed, _, err := r.ReplaceOwner(ctx, owner, nil)
	return removed, err
}

// Owned returns the ids registered by owner.
func (r *Registry) Owned(owner string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.owners[owner]...)
}
