// Package pipeline runs the frame loop: read, detect, count, alert, render,
// publish.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/crowdvision/people-counter/internal/alert"
	"github.com/crowdvision/people-counter/internal/counter"
	"github.com/crowdvision/people-counter/internal/detect"
	"github.com/crowdvision/people-counter/internal/logger"
	"github.com/crowdvision/people-counter/internal/metrics"
	"github.com/crowdvision/people-counter/internal/overlay"
	"github.com/crowdvision/people-counter/internal/source"
	"github.com/crowdvision/people-counter/pkg/types"
)

// Status is the dashboard-facing snapshot of the pipeline.
type Status struct {
	Model             string            `json:"model"`
	ModelLoaded       bool              `json:"model_loaded"`
	Mode              string            `json:"mode"`
	Lanes             int               `json:"lanes"`
	Capacity          int               `json:"capacity"`
	FramesProcessed   uint64            `json:"frames_processed"`
	CurrentFPS        float64           `json:"current_fps"`
	Counts            counter.Counts    `json:"counts"`
	Detections        []types.Detection `json:"detections"`
	ActiveAlerts      []string          `json:"active_alerts"`
	LastAlert         *alert.Event      `json:"last_alert,omitempty"`
	AlertHistory      []alert.Event     `json:"alert_history"`
	LastDeliveryError string            `json:"last_delivery_error,omitempty"`
	LastError         string            `json:"last_error,omitempty"`
	Timestamp         float64           `json:"timestamp"`
}

// Pipeline owns the frame loop and the mutable processing state: the current
// detector handle, counting mode and latest results.
type Pipeline struct {
	src     source.Source
	alerts  *alert.Manager
	metrics *metrics.Metrics
	publish func([]byte)

	restricted map[string]struct{}

	mu          sync.Mutex
	det         detect.Detector
	modelName   string
	counter     *counter.Counter
	frames      uint64
	fps         float64
	lastFrameAt time.Time
	counts      counter.Counts
	detections  []types.Detection
	active      []alert.Kind
	latestJPEG  []byte
	lastError   string

	done chan struct{}
}

// New creates a pipeline. publish receives each annotated JPEG frame and may
// be nil.
func New(src source.Source, cnt *counter.Counter, alerts *alert.Manager, m *metrics.Metrics, restricted []string, publish func([]byte)) *Pipeline {
	set := make(map[string]struct{}, len(restricted))
	for _, label := range restricted {
		set[strings.ToLower(label)] = struct{}{}
	}
	return &Pipeline{
		src:        src,
		alerts:     alerts,
		metrics:    m,
		publish:    publish,
		restricted: set,
		counter:    cnt,
		done:       make(chan struct{}),
	}
}

// Start launches the frame loop.
func (p *Pipeline) Start(ctx context.Context) {
	go p.run(ctx)
}

// Done is closed when the frame loop has exited.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	logger.Info("Pipeline", "Frame loop starting")

	for {
		frame, err := p.src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Pipeline", "Frame loop stopped")
				return
			}
			p.metrics.ReadErrors.Add(1)
			p.setLastError(err.Error())
			logger.Warn("Pipeline", "Frame read error: %v", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		p.metrics.FramesRead.Add(1)
		p.process(frame)
	}
}

func (p *Pipeline) process(frame types.Frame) {
	p.mu.Lock()
	det := p.det
	p.mu.Unlock()

	var detections []types.Detection
	if det != nil {
		start := time.Now()
		dets, err := det.Detect(frame.Image)
		p.metrics.UpdateDetectLatency(time.Since(start))
		if err != nil {
			p.metrics.DetectErrors.Add(1)
			p.setLastError(err.Error())
			logger.Warn("Pipeline", "Detect error: %v", err)
		} else {
			detections = dets
			p.metrics.DetectionsTotal.Add(uint64(len(dets)))
		}
	}

	// The counter and its tracker are plain single-threaded state also
	// touched by the reset and mode-switch handlers, so the update runs
	// under the pipeline lock.
	p.mu.Lock()
	counts := p.counter.Update(frame.Bounds(), detections)
	cfg := p.counter.Config()
	p.mu.Unlock()

	active := p.alerts.Evaluate(counts, detections)

	p.metrics.PeopleInView.Store(uint64(counts.Total))
	p.metrics.PeopleIn.Store(uint64(counts.In))
	p.metrics.PeopleOut.Store(uint64(counts.Out))
	annotated := overlay.Render(overlay.Frame{
		Frame:       frame,
		Detections:  detections,
		Counts:      counts,
		Mode:        cfg.Mode,
		Lanes:       cfg.Lanes,
		Orientation: cfg.Orientation,
		PersonLabel: cfg.PersonLabel,
		Restricted:  p.restricted,
		Banners:     banners(active),
		ModelLoaded: det != nil,
	})

	jpegData, err := overlay.EncodeJPEG(annotated)
	if err != nil {
		logger.Error("Pipeline", "JPEG encode failed: %v", err)
		return
	}

	now := time.Now()
	p.mu.Lock()
	p.frames++
	if !p.lastFrameAt.IsZero() {
		if dt := now.Sub(p.lastFrameAt).Seconds(); dt > 0 {
			// Exponentially weighted so the number is steady on screen.
			p.fps = 0.9*p.fps + 0.1/dt
		}
	}
	p.lastFrameAt = now
	p.counts = counts
	p.detections = detections
	p.active = active
	p.latestJPEG = jpegData
	p.mu.Unlock()

	p.metrics.FramesProcessed.Add(1)

	if p.publish != nil {
		p.publish(jpegData)
	}
}

func banners(active []alert.Kind) []string {
	var out []string
	for _, kind := range active {
		switch kind {
		case alert.KindCapacity:
			out = append(out, "CAPACITY EXCEEDED!")
		case alert.KindRestricted:
			out = append(out, "RESTRICTED ITEM DETECTED!")
		}
	}
	return out
}

// SetDetector swaps in a newly loaded model, closing the previous one.
func (p *Pipeline) SetDetector(name string, det detect.Detector) {
	p.mu.Lock()
	old := p.det
	p.det = det
	p.modelName = name
	p.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			logger.Warn("Pipeline", "Closing previous model: %v", err)
		}
	}
	logger.Info("Pipeline", "Model %s active", name)
}

// CurrentModel returns the active model name, or "" before the first load.
func (p *Pipeline) CurrentModel() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.modelName
}

// SetMode switches the counting mode, resetting cumulative counts.
func (p *Pipeline) SetMode(mode counter.Mode, lanes int) {
	p.mu.Lock()
	cfg := p.counter.Config()
	cfg.Mode = mode
	if lanes > 0 {
		cfg.Lanes = lanes
	}
	p.counter = counter.New(cfg)
	p.mu.Unlock()

	logger.Info("Pipeline", "Counting mode set to %s (%d lanes)", mode, cfg.Lanes)
}

// ResetCounts zeroes the cumulative entry/exit counts.
func (p *Pipeline) ResetCounts() {
	p.mu.Lock()
	p.counter.ResetCounts()
	p.counts.In, p.counts.Out, p.counts.Net = 0, 0, 0
	p.mu.Unlock()
}

// LatestJPEG returns the most recent annotated frame.
func (p *Pipeline) LatestJPEG() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latestJPEG == nil {
		return nil, false
	}
	out := make([]byte, len(p.latestJPEG))
	copy(out, p.latestJPEG)
	return out, true
}

// Status returns the current snapshot.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	cfg := p.counter.Config()
	st := Status{
		Model:           p.modelName,
		ModelLoaded:     p.det != nil,
		Mode:            string(cfg.Mode),
		Lanes:           cfg.Lanes,
		Capacity:        p.alerts.Capacity(),
		FramesProcessed: p.frames,
		CurrentFPS:      p.fps,
		Counts:          p.counts,
		Detections:      append([]types.Detection(nil), p.detections...),
		LastError:       p.lastError,
		Timestamp:       float64(time.Now().UnixMilli()) / 1000,
	}
	for _, kind := range p.active {
		st.ActiveAlerts = append(st.ActiveAlerts, string(kind))
	}
	p.mu.Unlock()

	st.AlertHistory = p.alerts.History()
	if last, ok := p.alerts.LastEvent(); ok {
		st.LastAlert = &last
	}
	st.LastDeliveryError = p.alerts.LastDeliveryError()
	return st
}

func (p *Pipeline) setLastError(msg string) {
	p.mu.Lock()
	p.lastError = msg
	p.mu.Unlock()
}
