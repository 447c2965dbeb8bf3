package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redworks/red/internal/adapters/metrics"
	"github.com/redworks/red/internal/domain/models"
)

const subscriberIdleTimeout = 30 * time.Second

// SubscribeToMessage attaches a consumer to a streaming assistant turn.
// Content accumulated before the subscription is replayed as a single init
// event, the latest progress indicator is restored, and live events are
// forwarded until the turn ends. A terminal state short-circuits to the
// final event immediately, so reconnecting after completion still yields a
// usable stream.
//
// The subscription opens before the state snapshot is read: a publisher
// preempted between persisting a chunk and publishing it would otherwise
// leave that chunk out of both the init replay and the live feed. The
// mirror-image interleaving delivers a chunk that the snapshot already
// covers, so live content chunks are dropped until the replayed byte count
// is consumed.
func (p *Pipeline) SubscribeToMessage(ctx context.Context, messageID string) (<-chan models.StreamEvent, error) {
	sub := p.bus.Subscribe(ctx, streamChannel(messageID))
	state, err := p.GetState(ctx, messageID)
	if err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan models.StreamEvent, 64)
	metrics.StreamSubscribersActive.Inc()

	go func() {
		defer close(out)
		defer sub.Close()
		defer metrics.StreamSubscribersActive.Dec()

		send := func(event models.StreamEvent) bool {
			select {
			case out <- event:
				return true
			case <-ctx.Done():
				return false
			}
		}

		replayed := 0
		if state.Content != "" {
			if !send(models.StreamEvent{Type: models.StreamEventInit, ExistingContent: state.Content}) {
				return
			}
			replayed = len(state.Content)
		}
		if state.CurrentStatus != nil {
			restored := models.StreamEvent{
				Type:        state.CurrentStatus.Type,
				Action:      state.CurrentStatus.Action,
				Description: state.CurrentStatus.Description,
				Status:      state.CurrentStatus.Status,
			}
			if !send(restored) {
				return
			}
		}
		if state.IsTerminal() {
			send(terminalEvent(state))
			return
		}

		idle := time.NewTimer(subscriberIdleTimeout)
		defer idle.Stop()
		for {
			select {
			case msg, ok := <-sub.Messages():
				if !ok {
					return
				}
				var event models.StreamEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				if event.Type == models.StreamEventChunk && !event.Thinking && replayed > 0 {
					if len(event.Content) <= replayed {
						replayed -= len(event.Content)
						continue
					}
					event.Content = event.Content[replayed:]
					replayed = 0
				}
				if !send(event) {
					return
				}
				if event.Type == models.StreamEventComplete || event.Type == models.StreamEventError {
					return
				}
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(subscriberIdleTimeout)
			case <-idle.C:
				// The publisher may have finished while we missed the
				// terminal event; recheck the stored state.
				current, err := p.GetState(ctx, messageID)
				if err == nil && current.IsTerminal() {
					send(terminalEvent(current))
					return
				}
				idle.Reset(subscriberIdleTimeout)
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func terminalEvent(state *models.MessageGenerationState) models.StreamEvent {
	if state.Status == models.GenerationStatusError {
		return models.StreamEvent{Type: models.StreamEventError, Error: state.Error}
	}
	return models.StreamEvent{Type: models.StreamEventComplete, Metadata: state.Metadata}
}
