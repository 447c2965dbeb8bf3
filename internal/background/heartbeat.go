package background

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redworks/red/internal/ports"
)

const (
	heartbeatKeyPrefix = "nodes:active:"
	heartbeatTTL       = 30 * time.Second
	heartbeatInterval  = 10 * time.Second
)

// Heartbeat advertises this node's liveness on the bus while running.
// The key expires on its own, so a crashed node disappears within the
// TTL without cleanup.
type Heartbeat struct {
	bus    ports.Bus
	nodeID string
	slog   *slog.Logger

	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once
}

func NewHeartbeat(bus ports.Bus, nodeID string, slogger *slog.Logger) *Heartbeat {
	if slogger == nil {
		slogger = slog.Default()
	}
	return &Heartbeat{bus: bus, nodeID: nodeID, slog: slogger, interval: heartbeatInterval}
}

// Start registers immediately and keeps refreshing until Stop.
func (h *Heartbeat) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.beat(ctx)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.beat(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (h *Heartbeat) beat(ctx context.Context) {
	if err := h.bus.Set(ctx, heartbeatKeyPrefix+h.nodeID, time.Now().UTC().Format(time.RFC3339), heartbeatTTL); err != nil {
		h.slog.Warn("heartbeat: refresh failed", "node", h.nodeID, "error", err)
	}
}

// Stop deregisters the node and stops refreshing. Idempotent.
func (h *Heartbeat) Stop(ctx context.Context) {
	h.once.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
		h.wg.Wait()
		if err := h.bus.Del(ctx, heartbeatKeyPrefix+h.nodeID); err != nil {
			h.slog.Warn("heartbeat: deregister failed", "node", h.nodeID, "error", err)
		}
	})
}

// GetActiveNodes lists node ids with a live heartbeat.
func GetActiveNodes(ctx context.Context, bus ports.Bus) ([]string, error) {
	keys, err := bus.Keys(ctx, heartbeatKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	nodes := make([]string, 0, len(keys))
	for _, key := range keys {
		nodes = append(nodes, strings.TrimPrefix(key, heartbeatKeyPrefix))
	}
	return nodes, nil
}
