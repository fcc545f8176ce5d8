package gateway

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/service/inprocess"
)

// RegisterDynamic registers in-process servers on behalf of owner, typically a plugin.
// A second registration from the same owner replaces the first one atomically.
func (g *Gateway) RegisterDynamic(ctx context.Context, owner string, defs ...*inprocess.Definition) error {
	for _, def := range defs {
		if def == nil {
			return errors.New("definition must not be nil")
		}
		// ids owned by this owner are replaced, anything else in the gateway is a collision
		if g.takenByOther(owner, def.ID) {
			return fmt.Errorf("%w: %s", ErrServerExists, def.ID)
		}
	}

	removed, added, err := g.registry.ReplaceOwner(ctx, owner, defs)
	if err != nil && removed == nil && added == nil {
		if errors.Is(err, inprocess.ErrOwnerConflict) {
			return fmt.Errorf("%w: %s", ErrServerExists, err.Error())
		}
		return err
	}
	if err != nil {
		g.logger.Warn("cleanup of replaced dynamic servers failed", zap.String("owner", owner), zap.Error(err))
	}

	for _, id := range removed {
		g.forget(id)
	}
	for _, id := range added {
		def, ok := g.registry.Get(id)
		if !ok {
			continue
		}
		if err := g.addInProcess(def.Config()); err != nil {
			return err
		}
	}
	g.logger.Info("registered dynamic tool servers",
		zap.String("owner", owner), zap.Strings("servers", added), zap.Strings("replaced", removed),
	)
	return nil
}

// UnregisterDynamic removes every server registered by owner and nothing else.
func (g *Gateway) UnregisterDynamic(ctx context.Context, owner string) error {
	removed, err := g.registry.RemoveOwner(ctx, owner)
	for _, id := range removed {
		g.forget(id)
	}
	if err != nil {
		g.logger.Warn("cleanup of dynamic servers failed", zap.String("owner", owner), zap.Error(err))
	}
	g.logger.Info("unregistered dynamic tool servers", zap.String("owner", owner), zap.Strings("servers", removed))
	return nil
}

// takenByOther reports whether id is used by a server that owner did not register.
func (g *Gateway) takenByOther(owner, id string) bool {
	for _, owned := range g.registry.Owned(owner) {
		if owned == id {
			return false
		}
	}
	_, ok := g.config(id)
	return ok
}
