// Package relay provides core.Relay implementations: an in-process one over
// app.Hub and a websocket client of the relay server.
package relay

import (
	"context"

	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/core"
)

// Memory is a core.Relay backed by a hub living in the same process.
type Memory struct {
	hub *app.Hub
}

func NewMemory(hub *app.Hub) *Memory {
	return &Memory{hub: hub}
}

func (m *Memory) Append(ctx context.Context, key string, rec core.RelayRecord) (core.RelayRecord, error) {
	if err := ctx.Err(); err != nil {
		return core.RelayRecord{}, err
	}
	return m.hub.Append(key, rec)
}

func (m *Memory) Subscribe(key string, fn func(core.RelayEvent)) (func(), error) {
	return m.hub.Subscribe(key, fn)
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.hub.Delete(key)
	return nil
}

// Hub exposes the backing hub, e.g. to simulate a peer vanishing.
func (m *Memory) Hub() *app.Hub { return m.hub }
