// Package stats provides read-only views over the lobby core for the health
// and monitoring endpoints.
package stats

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Oko-Tester/multiplayer-lobby-railway/internal/lobby"
)

// ConnectionGauge counts the open connections on this process. The transport
// feeds it; the reporter reads it.
type ConnectionGauge struct {
	n atomic.Int64
}

// Inc records an opened connection.
func (g *ConnectionGauge) Inc() { g.n.Add(1) }

// Dec records a closed connection.
func (g *ConnectionGauge) Dec() { g.n.Add(-1) }

// Value returns the current connection count.
func (g *ConnectionGauge) Value() int64 { return g.n.Load() }

// Health is the response body of the health endpoint.
type Health struct {
	Status         string `json:"status"`
	Timestamp      string `json:"timestamp"`
	Connections    int64  `json:"connections"`
	StoreConnected bool   `json:"store_connected"`
}

// LobbySummary describes one lobby in the stats overview.
type LobbySummary struct {
	Players    int      `json:"players"`
	PlayerList []string `json:"playerList"`
}

// Overview is the response body of the lobby stats endpoint.
type Overview struct {
	TotalConnections int64                   `json:"total_connections"`
	Lobbies          map[string]LobbySummary `json:"lobbies"`
}

// Reporter answers health and lobby-stats queries. It only ever reads from
// the membership store.
type Reporter struct {
	store       lobby.Store
	gauge       *ConnectionGauge
	storeHealth func(ctx context.Context) error
	now         func() time.Time
}

// NewReporter creates a Reporter over the given store and gauge. storeHealth
// probes the backing store's reachability; pass nil for an in-process store,
// which is always reachable.
//
// Precondition: store and gauge must be non-nil.
func NewReporter(store lobby.Store, gauge *ConnectionGauge, storeHealth func(ctx context.Context) error) *Reporter {
	return &Reporter{
		store:       store,
		gauge:       gauge,
		storeHealth: storeHealth,
		now:         time.Now,
	}
}

// Health reports process liveness, the connection count, and whether the
// backing store is reachable.
func (r *Reporter) Health(ctx context.Context) Health {
	connected := true
	if r.storeHealth != nil {
		connected = r.storeHealth(ctx) == nil
	}

	status := "healthy"
	if !connected {
		status = "degraded"
	}

	return Health{
		Status:         status,
		Timestamp:      r.now().UTC().Format(time.RFC3339),
		Connections:    r.gauge.Value(),
		StoreConnected: connected,
	}
}

// Overview lists every lobby with its member count and sorted display names.
func (r *Reporter) Overview(ctx context.Context) (Overview, error) {
	ids, err := r.store.Lobbies(ctx)
	if err != nil {
		return Overview{}, err
	}

	out := Overview{
		TotalConnections: r.gauge.Value(),
		Lobbies:          make(map[string]LobbySummary, len(ids)),
	}
	for _, id := range ids {
		players, err := r.store.List(ctx, id)
		if err != nil {
			return Overview{}, err
		}
		names := make([]string, 0, len(players))
		for _, name := range players {
			names = append(names, name)
		}
		sort.Strings(names)
		out.Lobbies[id] = LobbySummary{
			Players:    len(players),
			PlayerList: names,
		}
	}
	return out, nil
}
