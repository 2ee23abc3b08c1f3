package dashboard

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/crowdvision/people-counter/internal/logger"
	"github.com/crowdvision/people-counter/internal/metrics"
	"github.com/crowdvision/people-counter/internal/pipeline"
)

// FrameBroadcaster manages fanout of annotated JPEG frames to stream clients.
// The pipeline pushes frames in; slow clients drop frames instead of blocking
// the loop.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	metrics *metrics.Metrics
}

// NewFrameBroadcaster creates a frame fanout.
func NewFrameBroadcaster(m *metrics.Metrics) *FrameBroadcaster {
	return &FrameBroadcaster{
		clients: make(map[int]chan []byte),
		metrics: m,
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	fb.clients[id] = ch

	if fb.metrics != nil {
		fb.metrics.StreamClients.Store(uint64(len(fb.clients)))
	}
	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		if fb.metrics != nil {
			fb.metrics.StreamClients.Store(uint64(len(fb.clients)))
		}
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// Publish fans a frame out to all clients.
func (fb *FrameBroadcaster) Publish(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
			if fb.metrics != nil {
				fb.metrics.FramesDropped.Add(1)
			}
		}
	}
}

// StatusBroadcaster periodically serializes the pipeline status and fans it
// out to SSE clients.
type StatusBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	stopped bool

	status   func() pipeline.Status
	interval time.Duration
	stop     chan struct{}
}

// NewStatusBroadcaster creates a broadcaster over the given status provider.
func NewStatusBroadcaster(status func() pipeline.Status, interval time.Duration) *StatusBroadcaster {
	return &StatusBroadcaster{
		clients:  make(map[int]chan []byte),
		status:   status,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel of serialized events.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan []byte) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	id := sb.nextID
	sb.nextID++
	ch := make(chan []byte, 2)
	sb.clients[id] = ch

	logger.Debug("StatusBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (sb *StatusBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		logger.Debug("StatusBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// Start begins the status event loop.
func (sb *StatusBroadcaster) Start() {
	go sb.run()
}

// Stop halts the broadcaster.
func (sb *StatusBroadcaster) Stop() {
	sb.mu.Lock()
	if !sb.stopped {
		close(sb.stop)
		sb.stopped = true
	}
	sb.mu.Unlock()
}

func (sb *StatusBroadcaster) run() {
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case <-ticker.C:
			sb.mu.Lock()
			clientCount := len(sb.clients)
			sb.mu.Unlock()

			if clientCount == 0 {
				continue
			}

			data, err := json.Marshal(sb.status())
			if err != nil {
				logger.Error("StatusBroadcaster", "JSON marshal error: %v", err)
				continue
			}
			sb.broadcast(data)
		}
	}
}

func (sb *StatusBroadcaster) broadcast(data []byte) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	for _, ch := range sb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this event for this client
		}
	}
}
