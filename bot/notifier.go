package bot

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFIER - Fire-and-forget operator messages
// ═══════════════════════════════════════════════════════════════════════════════
//
//   Multi  - fans one message out to every sink (Telegram, Discord)
//   Async  - buffered queue drained by one goroutine; drops when full
//   Nop    - used when no sink is configured
//
// ═══════════════════════════════════════════════════════════════════════════════

// Notifier delivers a text message. Implementations must not return errors.
type Notifier interface {
	Send(text string)
}

// Nop discards every message
type Nop struct{}

func (Nop) Send(string) {}

// Multi sends to every notifier in order
type Multi []Notifier

func (m Multi) Send(text string) {
	for _, n := range m {
		n.Send(text)
	}
}

// Async queues messages for a background sender
type Async struct {
	next  Notifier
	queue chan string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	dropped int
}

// NewAsync wraps next with a queue of the given size
func NewAsync(next Notifier, size int) *Async {
	if size <= 0 {
		size = 100
	}
	return &Async{
		next:   next,
		queue:  make(chan string, size),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins draining the queue
func (a *Async) Start() {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.mu.Unlock()

	go a.loop()
}

// Stop drains what is queued and stops the sender
func (a *Async) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.stopCh)
	a.mu.Unlock()

	<-a.doneCh
}

// Send enqueues text without blocking
func (a *Async) Send(text string) {
	select {
	case a.queue <- text:
	default:
		a.mu.Lock()
		a.dropped++
		a.mu.Unlock()
		log.Warn().Msg("Notification queue full, dropping message")
	}
}

// Dropped returns how many messages were discarded
func (a *Async) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

func (a *Async) loop() {
	defer close(a.doneCh)
	for {
		select {
		case text := <-a.queue:
			a.next.Send(text)
		case <-a.stopCh:
			for {
				select {
				case text := <-a.queue:
					a.next.Send(text)
				default:
					return
				}
			}
		}
	}
}
