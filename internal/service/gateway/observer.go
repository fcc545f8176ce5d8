package gateway

import (
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/pkg/types"
)

// StatusObserver is notified of every status transition of every server.
// Observers are called synchronously, in registration order, outside of gateway locks.
// A removed server is published with the disconnected state.
type StatusObserver interface {
	OnStatusChange(status types.ToolServerStatus)
}

// ObserverFunc adapts a function to StatusObserver.
type ObserverFunc func(status types.ToolServerStatus)

func (f ObserverFunc) OnStatusChange(status types.ToolServerStatus) {
	f(status)
}

// AddObserver subscribes o to status transitions.
func (g *Gateway) AddObserver(o StatusObserver) {
	g.obsMu.Lock()
	defer g.obsMu.Unlock()
	g.observers = append(g.observers, o)
}

func (g *Gateway) publish(status types.ToolServerStatus) {
	g.obsMu.RLock()
	observers := append([]StatusObserver(nil), g.observers...)
	g.obsMu.RUnlock()

	for _, o := range observers {
		g.notify(o, status)
	}
}

func (g *Gateway) notify(o StatusObserver, status types.ToolServerStatus) {
	defer func() {
		if p := recover(); p != nil {
			g.logger.Error("status observer panicked", zap.String("server_id", status.ServerID), zap.Any("panic", p))
		}
	}()
	o.OnStatusChange(status)
}
