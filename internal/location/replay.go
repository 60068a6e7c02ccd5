package location

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"shiftpilot/mileage-agent/internal/models"

	"go.uber.org/zap"
)

// ReplaySource reads a JSON-lines sample log and delivers one sample per
// line, paced by the recorded timestamps scaled by a speedup factor. It is
// the development and simulation input for the agent; on-device builds
// plug a platform source into the same interface.
type ReplaySource struct {
	path    string
	speedup float64
	logger  *zap.Logger

	mu      sync.Mutex
	current *models.LocationSample
	subs    map[int]func(models.LocationSample)
	nextSub int

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
}

// NewReplaySource creates a replay source over a JSONL file. A speedup of
// 1 replays in real time; 0 or negative delivers as fast as possible.
func NewReplaySource(path string, speedup float64, logger *zap.Logger) *ReplaySource {
	return &ReplaySource{
		path:     path,
		speedup:  speedup,
		logger:   logger,
		subs:     make(map[int]func(models.LocationSample)),
		stopChan: make(chan struct{}),
	}
}

// Start begins replaying samples in a background goroutine.
func (r *ReplaySource) Start() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("replay already started")
	}
	r.started = true
	r.mu.Unlock()

	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("failed to open replay file: %w", err)
	}

	r.wg.Add(1)
	go r.replayLoop(f)

	r.logger.Info("Replay source started",
		zap.String("path", r.path),
		zap.Float64("speedup", r.speedup),
	)
	return nil
}

// Stop stops the replay.
func (r *ReplaySource) Stop() {
	r.mu.Lock()
	select {
	case <-r.stopChan:
		r.mu.Unlock()
		return
	default:
		close(r.stopChan)
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("Replay source stopped")
}

// Subscribe registers a sample handler.
func (r *ReplaySource) Subscribe(handler func(models.LocationSample)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = handler
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Current returns the most recently replayed sample.
func (r *ReplaySource) Current() *models.LocationSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	c := *r.current
	return &c
}

// HasForegroundAccess always holds for a replay input.
func (r *ReplaySource) HasForegroundAccess() bool { return true }

// HasBackgroundAccess always holds for a replay input.
func (r *ReplaySource) HasBackgroundAccess() bool { return true }

func (r *ReplaySource) replayLoop(f *os.File) {
	defer r.wg.Done()
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lastTimestamp int64
	for scanner.Scan() {
		select {
		case <-r.stopChan:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var sample models.LocationSample
		if err := json.Unmarshal(line, &sample); err != nil {
			r.logger.Warn("Skipping malformed replay line", zap.Error(err))
			continue
		}

		if lastTimestamp > 0 && r.speedup > 0 {
			gap := sample.Timestamp - lastTimestamp
			if gap > 0 {
				delay := time.Duration(float64(gap)/r.speedup) * time.Millisecond
				select {
				case <-time.After(delay):
				case <-r.stopChan:
					return
				}
			}
		}
		lastTimestamp = sample.Timestamp

		r.deliver(sample)
	}

	if err := scanner.Err(); err != nil {
		r.logger.Error("Replay read failed", zap.Error(err))
		return
	}
	r.logger.Info("Replay finished")
}

func (r *ReplaySource) deliver(sample models.LocationSample) {
	r.mu.Lock()
	r.current = &sample
	handlers := make([]func(models.LocationSample), 0, len(r.subs))
	for _, h := range r.subs {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(sample)
	}
}
