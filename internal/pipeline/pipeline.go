// Package pipeline wires ingestion, detection, alerting and storage
// into a single processing path for agent log events.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"agent-sentinel/internal/alerting"
	"agent-sentinel/internal/buffer"
	"agent-sentinel/internal/detect"
	"agent-sentinel/internal/logging"
	"agent-sentinel/internal/schema"
	"agent-sentinel/internal/storage"
)

// issueLogCapacity bounds the in-memory record of recent detections.
const issueLogCapacity = 1000

// Config holds pipeline tuning knobs.
type Config struct {
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		QueueSize:    4096,
		ShutdownWait: 30 * time.Second,
	}
}

// Outcome describes everything a single submission produced.
type Outcome struct {
	Event   *schema.LogEvent        `json:"event"`
	Issues  []*schema.SecurityIssue `json:"issues"`
	Alerts  []*alerting.Alert       `json:"alerts"`
	Partial bool                    `json:"partial"`
}

// writeJob is a unit of deferred storage work.
type writeJob struct {
	event *schema.LogEvent
	issue *schema.SecurityIssue
	alert *alerting.Alert
}

// Pipeline is the end-to-end processing path: buffer, detection engine,
// alert manager, dispatcher and storage sink.
type Pipeline struct {
	buffer     *buffer.Buffer
	engine     *detect.Engine
	alerts     *alerting.Manager
	dispatcher *alerting.Dispatcher
	sink       storage.Sink
	config     Config
	logger     *slog.Logger

	// Bounded log of recent detections, newest appended last.
	issueMu  sync.RWMutex
	issueLog []*schema.SecurityIssue

	jobs chan writeJob
	wg   sync.WaitGroup
	done chan struct{}

	// Metrics
	processed uint64
	detected  uint64
	dropped   uint64
	partials  uint64
}

// New creates a Pipeline. The sink may be nil, in which case storage
// writes are skipped entirely.
func New(buf *buffer.Buffer, engine *detect.Engine, alerts *alerting.Manager, dispatcher *alerting.Dispatcher, sink storage.Sink, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.ShutdownWait <= 0 {
		cfg.ShutdownWait = DefaultConfig().ShutdownWait
	}
	return &Pipeline{
		buffer:     buf,
		engine:     engine,
		alerts:     alerts,
		dispatcher: dispatcher,
		sink:       sink,
		config:     cfg,
		logger:     logger,
		issueLog:   make([]*schema.SecurityIssue, 0, issueLogCapacity),
		jobs:       make(chan writeJob, cfg.QueueSize),
		done:       make(chan struct{}),
	}
}

// Start launches the storage drain workers.
func (p *Pipeline) Start(ctx context.Context) {
	if p.sink == nil {
		return
	}
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("pipeline storage workers started", "workers", p.config.Workers)
}

// Submit runs one event through the full path: validation and buffering,
// rule and model detection, alert creation and dispatch. Storage writes
// are queued for the background workers; the caller gets the outcome
// synchronously.
func (p *Pipeline) Submit(ctx context.Context, input *schema.SubmitInput) (*Outcome, error) {
	event, err := p.buffer.Submit(input)
	if err != nil {
		return nil, err
	}
	atomic.AddUint64(&p.processed, 1)
	p.enqueue(writeJob{event: event})

	result, err := p.engine.Evaluate(ctx, event)
	if err != nil {
		return nil, err
	}
	if result.Partial {
		atomic.AddUint64(&p.partials, 1)
	}

	outcome := &Outcome{
		Event:   event,
		Issues:  result.Issues,
		Partial: result.Partial,
	}
	if len(result.Issues) == 0 {
		return outcome, nil
	}
	atomic.AddUint64(&p.detected, uint64(len(result.Issues)))
	p.recordIssues(result.Issues)
	for _, issue := range result.Issues {
		p.logger.Info("security issue detected",
			"issue_type", issue.IssueType,
			"threat_level", issue.ThreatLevel,
			"confidence", issue.Confidence,
			"source", issue.Source,
			"event_id", issue.SourceEventID,
			"evidence", logging.Excerpt(issue.Evidence, 120),
		)
		p.enqueue(writeJob{issue: issue})
	}

	alerts := p.alerts.Process(result.Issues)
	outcome.Alerts = alerts
	for _, alert := range alerts {
		p.enqueue(writeJob{alert: alert})
	}
	if p.dispatcher != nil {
		p.dispatcher.Dispatch(ctx, alerts)
	}

	return outcome, nil
}

// recordIssues appends to the bounded detection log, evicting the
// oldest entries once the capacity is reached.
func (p *Pipeline) recordIssues(issues []*schema.SecurityIssue) {
	p.issueMu.Lock()
	defer p.issueMu.Unlock()

	p.issueLog = append(p.issueLog, issues...)
	if n := len(p.issueLog); n > issueLogCapacity {
		p.issueLog = p.issueLog[n-issueLogCapacity:]
	}
}

// RecentIssues returns up to limit detections, most recent first,
// optionally filtered by category and minimum threat level.
func (p *Pipeline) RecentIssues(limit int, category schema.Category, minThreat schema.ThreatLevel) []*schema.SecurityIssue {
	if limit <= 0 || limit > issueLogCapacity {
		limit = issueLogCapacity
	}

	p.issueMu.RLock()
	defer p.issueMu.RUnlock()

	out := make([]*schema.SecurityIssue, 0, limit)
	for i := len(p.issueLog) - 1; i >= 0 && len(out) < limit; i-- {
		issue := p.issueLog[i]
		if category != "" && issue.Category != category {
			continue
		}
		if minThreat != "" && !issue.ThreatLevel.Meets(minThreat) {
			continue
		}
		out = append(out, issue)
	}
	return out
}

// Summary aggregates the retained detections by category and threat level.
type Summary struct {
	Total         int                         `json:"total"`
	ByCategory    map[schema.Category]int     `json:"by_category"`
	ByThreatLevel map[schema.ThreatLevel]int `json:"by_threat_level"`
	ByDetector    map[schema.Detector]int     `json:"by_detector"`
}

// IssueSummary computes counts over the retained detection log.
func (p *Pipeline) IssueSummary() Summary {
	p.issueMu.RLock()
	defer p.issueMu.RUnlock()

	s := Summary{
		ByCategory:    make(map[schema.Category]int),
		ByThreatLevel: make(map[schema.ThreatLevel]int),
		ByDetector:    make(map[schema.Detector]int),
	}
	for _, issue := range p.issueLog {
		s.Total++
		s.ByCategory[issue.Category]++
		s.ByThreatLevel[issue.ThreatLevel]++
		s.ByDetector[issue.DetectedBy]++
	}
	return s
}

// enqueue hands a job to the storage workers without blocking the
// submission path. A full queue drops the write and counts it.
func (p *Pipeline) enqueue(job writeJob) {
	if p.sink == nil {
		return
	}
	select {
	case p.jobs <- job:
	default:
		atomic.AddUint64(&p.dropped, 1)
		p.logger.Warn("storage queue full, dropping write")
	}
}

// worker drains the write queue into the sink.
func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case job := <-p.jobs:
					p.write(id, job)
				default:
					return
				}
			}
		case job := <-p.jobs:
			p.write(id, job)
		}
	}
}

func (p *Pipeline) write(workerID int, job writeJob) {
	var err error
	switch {
	case job.event != nil:
		err = p.sink.WriteEvent(job.event)
	case job.issue != nil:
		err = p.sink.WriteIssue(job.issue)
	case job.alert != nil:
		err = p.sink.WriteAlert(job.alert)
	}
	if err != nil {
		p.logger.Error("storage write failed", "worker_id", workerID, "error", err)
	}
}

// Stop shuts the storage workers down, draining queued writes and
// flushing the sink.
func (p *Pipeline) Stop() {
	close(p.done)

	if p.sink == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("pipeline storage workers stopped")
	case <-time.After(p.config.ShutdownWait):
		p.logger.Warn("pipeline shutdown timed out")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.sink.Flush(ctx); err != nil {
		p.logger.Error("final sink flush failed", "error", err)
	}
}

// Metrics returns pipeline counters.
type Metrics struct {
	Processed uint64 `json:"processed"`
	Detected  uint64 `json:"detected"`
	Partials  uint64 `json:"partials"`
	Dropped   uint64 `json:"dropped_writes"`
}

// Metrics returns a snapshot of the pipeline counters.
func (p *Pipeline) Metrics() Metrics {
	return Metrics{
		Processed: atomic.LoadUint64(&p.processed),
		Detected:  atomic.LoadUint64(&p.detected),
		Partials:  atomic.LoadUint64(&p.partials),
		Dropped:   atomic.LoadUint64(&p.dropped),
	}
}
