package logs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redworks/red/internal/domain/models"
)

const subscribeIdleTimeout = 30 * time.Second

// SubscribeToGeneration replays the logs already recorded for a generation
// and then streams new ones. The returned channel closes when the
// generation leaves the generating state, the stream idles past the
// timeout with a terminal generation, or ctx is cancelled.
func (l *Logger) SubscribeToGeneration(ctx context.Context, generationID string) (<-chan *models.LogEntry, error) {
	sub := l.bus.Subscribe(ctx, generationChannel(generationID))
	out := make(chan *models.LogEntry, 64)

	existing, err := l.replay(ctx, generationID)
	if err != nil {
		sub.Close()
		return nil, err
	}

	go func() {
		defer close(out)
		defer sub.Close()

		seen := make(map[string]struct{}, len(existing))
		for _, entry := range existing {
			seen[entry.ID] = struct{}{}
			select {
			case out <- entry:
			case <-ctx.Done():
				return
			}
		}

		idle := time.NewTimer(subscribeIdleTimeout)
		defer idle.Stop()
		for {
			select {
			case msg, ok := <-sub.Messages():
				if !ok {
					return
				}
				var entry models.LogEntry
				if err := json.Unmarshal([]byte(msg.Payload), &entry); err != nil {
					continue
				}
				if _, dup := seen[entry.ID]; dup {
					continue
				}
				seen[entry.ID] = struct{}{}
				select {
				case out <- &entry:
				case <-ctx.Done():
					return
				}
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(subscribeIdleTimeout)
			case <-idle.C:
				if !l.generationActive(ctx, generationID) {
					return
				}
				idle.Reset(subscribeIdleTimeout)
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// replay loads the entries recorded so far, in append order.
func (l *Logger) replay(ctx context.Context, generationID string) ([]*models.LogEntry, error) {
	ids, err := l.bus.LRange(ctx, "generation:"+generationID+":logs", 0, -1)
	if err != nil {
		return nil, err
	}
	entries := make([]*models.LogEntry, 0, len(ids))
	for _, id := range ids {
		raw, err := l.bus.Get(ctx, "log:"+id)
		if err != nil {
			continue
		}
		var entry models.LogEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

func (l *Logger) generationActive(ctx context.Context, generationID string) bool {
	raw, err := l.bus.Get(ctx, "generation:"+generationID)
	if err != nil {
		return false
	}
	var gen models.Generation
	if err := json.Unmarshal([]byte(raw), &gen); err != nil {
		return false
	}
	return gen.IsGenerating()
}
