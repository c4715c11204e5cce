package bus

import (
	"context"
	"sync/atomic"

	"github.com/haasonsaas/nexus/pkg/events"
)

// ChanBridge adapts a blocking, off-goroutine observer (a websocket
// writer, a UI event loop) to Subscriber without letting it block the
// step engine. Two lanes: AgentError and lifecycle-relevant kinds
// (SystemPrompt, Message, Condensation) are never dropped; Action and
// Observation events, the high-volume lane replayable from history,
// are dropped under backpressure.
type ChanBridge struct {
	highPri chan events.Event
	lowPri  chan events.Event
	merged  chan events.Event
	dropped uint64
	closed  uint32
}

// ChanBridgeConfig sizes the two lanes. Zero values fall back to
// defaults (32 high-priority, 256 low-priority).
type ChanBridgeConfig struct {
	HighPriBuffer int
	LowPriBuffer  int
}

// NewChanBridge starts the bridge's merge goroutine and returns it along
// with the channel callers should range over to consume events.
func NewChanBridge(cfg ChanBridgeConfig) (*ChanBridge, <-chan events.Event) {
	if cfg.HighPriBuffer <= 0 {
		cfg.HighPriBuffer = 32
	}
	if cfg.LowPriBuffer <= 0 {
		cfg.LowPriBuffer = 256
	}
	br := &ChanBridge{
		highPri: make(chan events.Event, cfg.HighPriBuffer),
		lowPri:  make(chan events.Event, cfg.LowPriBuffer),
		merged:  make(chan events.Event, cfg.HighPriBuffer),
	}
	go br.mergeLoop()
	return br, br.merged
}

// Emit implements Subscriber. Droppable-lane events are dropped rather
// than block when the buffer is full; non-droppable events block until
// space is available or ctx is done.
func (b *ChanBridge) Emit(ctx context.Context, ev events.Event) {
	if atomic.LoadUint32(&b.closed) == 1 {
		return
	}
	if droppable(ev.Kind) {
		select {
		case b.lowPri <- ev:
		default:
			atomic.AddUint64(&b.dropped, 1)
		}
		return
	}
	select {
	case b.highPri <- ev:
	case <-ctx.Done():
	}
}

// DroppedCount returns how many droppable-lane events were discarded
// because the low-priority buffer was full.
func (b *ChanBridge) DroppedCount() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

// Close stops the merge goroutine and closes the output channel. After
// Close, Emit is a no-op.
func (b *ChanBridge) Close() {
	if !atomic.CompareAndSwapUint32(&b.closed, 0, 1) {
		return
	}
	close(b.highPri)
	close(b.lowPri)
}

func (b *ChanBridge) mergeLoop() {
	defer close(b.merged)
	for {
		select {
		case ev, ok := <-b.highPri:
			if ok {
				b.merged <- ev
				continue
			}
			for ev := range b.lowPri {
				b.merged <- ev
			}
			return
		default:
		}

		select {
		case ev, ok := <-b.highPri:
			if ok {
				b.merged <- ev
			} else {
				for ev := range b.lowPri {
					b.merged <- ev
				}
				return
			}
		case ev, ok := <-b.lowPri:
			if ok {
				b.merged <- ev
			}
		}
	}
}

func droppable(k events.Kind) bool {
	switch k {
	case events.KindAction, events.KindObservation:
		return true
	default:
		return false
	}
}
