package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexcodex/testforge/framework"
)

// ChannelTelemetry hands loop events to the UI. Emit never blocks the loop:
// when the buffer is full the event is dropped.
type ChannelTelemetry struct {
	mu     sync.RWMutex
	ch     chan framework.Event
	closed bool
}

// NewChannelTelemetry builds a sink with the given buffer size.
func NewChannelTelemetry(buffer int) *ChannelTelemetry {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelTelemetry{ch: make(chan framework.Event, buffer)}
}

// Emit implements framework.Telemetry.
func (c *ChannelTelemetry) Emit(event framework.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- event:
	default:
	}
}

// Events exposes the receive side.
func (c *ChannelTelemetry) Events() <-chan framework.Event {
	return c.ch
}

// Close stops delivery and closes the channel.
func (c *ChannelTelemetry) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

type loopEventMsg struct{ event framework.Event }

type loopDoneMsg struct{ result framework.LoopResult }

func listenLoopEvents(ch <-chan framework.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return loopEventMsg{event: ev}
	}
}
