package live

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"calldash-server/pkg/analysis"
	"calldash-server/pkg/config"
	"calldash-server/pkg/metrics"
	"calldash-server/pkg/notify"
	"calldash-server/pkg/store"
)

// Phase is the subscriber's lifecycle state.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseLoading  Phase = "loading"
	PhaseReady    Phase = "ready"
	PhaseDegraded Phase = "degraded"
)

// Snapshot is one published view: the phase plus the stabilized
// metrics. Demo marks placeholder data shown when the store is empty
// or unreachable.
type Snapshot struct {
	Phase     Phase     `json:"phase"`
	Demo      bool      `json:"demo"`
	Trigger   string    `json:"trigger,omitempty"`
	Metrics   Metrics   `json:"metrics"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fetcher is the read surface the subscriber consumes.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, conversionThreshold float64, topKeywords int) (*store.MetricsSnapshot, error)
	ListBadSentiments(ctx context.Context) ([]store.BadSentimentRow, error)
	UpdateSentiment(ctx context.Context, id, sentiment string) error
}

// RepairReport is the terminal outcome of one sentiment repair run.
type RepairReport struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Subscriber keeps a stabilized metrics view current: it refreshes on
// mount, on every store change notification and on manual request, and
// fans the resulting snapshots out to registered listeners. All state
// transitions happen on one goroutine; listeners see snapshots in
// publish order.
type Subscriber struct {
	fetcher  Fetcher
	feed     notify.Feed
	analyzer *analysis.Analyzer
	logger   *logrus.Entry

	debounce            time.Duration
	conversionThreshold float64
	topKeywords         int

	refreshCh chan string
	closeCh   chan struct{}
	closeOnce sync.Once
	started   bool
	done      chan struct{}

	mu           sync.Mutex
	seq          uint64
	closed       bool
	current      Snapshot
	loadingTimer *time.Timer
	listeners    map[int]func(Snapshot)
	nextListener int
}

// NewSubscriber creates a subscriber. Call Start to mount it.
func NewSubscriber(fetcher Fetcher, feed notify.Feed, analyzer *analysis.Analyzer, liveCfg config.LiveConfig, analyticsCfg config.AnalyticsConfig, logger *logrus.Logger) *Subscriber {
	return &Subscriber{
		fetcher:             fetcher,
		feed:                feed,
		analyzer:            analyzer,
		logger:              logger.WithField("component", "live_subscriber"),
		debounce:            liveCfg.LoadingDebounce,
		conversionThreshold: analyticsCfg.ConversionThreshold,
		topKeywords:         analyticsCfg.TopKeywords,
		refreshCh:           make(chan string, 1),
		closeCh:             make(chan struct{}),
		done:                make(chan struct{}),
		current:             Snapshot{Phase: PhaseIdle, Demo: true, Metrics: DemoMetrics(), UpdatedAt: time.Now()},
		listeners:           make(map[int]func(Snapshot)),
	}
}

// Start mounts the subscriber: it acquires the change subscription,
// performs the initial refresh and begins reacting to events.
func (s *Subscriber) Start(ctx context.Context) error {
	sub, err := s.feed.Subscribe(store.TableTranscripts, store.TableSummaries)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	go s.run(ctx, sub)
	return nil
}

func (s *Subscriber) run(ctx context.Context, sub notify.Subscription) {
	defer close(s.done)
	defer sub.Close()

	s.refresh(ctx, "initial")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closeCh:
			return
		case trigger := <-s.refreshCh:
			s.refresh(ctx, trigger)
		case _, ok := <-sub.Events():
			if !ok {
				s.logger.Warn("Change subscription closed, going degraded")
				s.publish(Snapshot{Phase: PhaseDegraded, Demo: true, Metrics: DemoMetrics()})
				return
			}
			drainEvents(sub)
			s.refresh(ctx, "change")
		}
	}
}

// drainEvents coalesces a burst of change notifications into a single
// refresh.
func drainEvents(sub notify.Subscription) {
	for {
		select {
		case <-sub.Events():
		default:
			return
		}
	}
}

func (s *Subscriber) refresh(ctx context.Context, trigger string) {
	s.beginLoading()

	raw, err := s.fetcher.FetchSnapshot(ctx, s.conversionThreshold, s.topKeywords)

	s.endLoading()

	if err != nil {
		metrics.RecordRefresh(trigger, "error")
		s.logger.WithError(err).WithField("trigger", trigger).Warn("Snapshot refresh failed, showing demo data")
		s.publish(Snapshot{Phase: PhaseDegraded, Demo: true, Trigger: trigger, Metrics: DemoMetrics()})
		return
	}

	metrics.RecordRefresh(trigger, "ok")

	if raw.TotalCalls == 0 {
		s.publish(Snapshot{Phase: PhaseReady, Demo: true, Trigger: trigger, Metrics: DemoMetrics()})
		return
	}

	s.mu.Lock()
	prev := s.current.Metrics
	s.mu.Unlock()

	// The trigger rides along so a manual refresh is acknowledged even
	// when the resulting metrics are unchanged.
	s.publish(Snapshot{Phase: PhaseReady, Trigger: trigger, Metrics: Stabilize(prev, raw)})
}

// beginLoading arms the debounce timer. The loading phase is surfaced
// only if the fetch is still in flight when the timer fires; fast
// refreshes never flash a loading state at listeners.
func (s *Subscriber) beginLoading() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	seq := s.seq

	if s.debounce <= 0 {
		return
	}
	s.loadingTimer = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		if s.seq != seq || s.closed {
			s.mu.Unlock()
			return
		}
		s.current.Phase = PhaseLoading
		snap := s.current
		fns := s.listenerList()
		s.mu.Unlock()

		for _, fn := range fns {
			fn(snap)
		}
	})
}

func (s *Subscriber) endLoading() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadingTimer != nil {
		s.loadingTimer.Stop()
		s.loadingTimer = nil
	}
}

func (s *Subscriber) publish(snap Snapshot) {
	snap.UpdatedAt = time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	s.current = snap
	fns := s.listenerList()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Subscriber) listenerList() []func(Snapshot) {
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return fns
}

// Current returns the latest published snapshot.
func (s *Subscriber) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// AddListener registers a snapshot consumer and returns its remove
// function. The listener is called from the subscriber's goroutine and
// must not block.
func (s *Subscriber) AddListener(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Refresh requests a manual refresh. Coalesced if one is already
// pending; a no-op after Close.
func (s *Subscriber) Refresh() {
	select {
	case <-s.closeCh:
	case s.refreshCh <- "manual":
	default:
	}
}

// RepairSentiments re-classifies every transcript row carrying an
// unrecognized sentiment label and writes the corrected labels back,
// then requests a refresh so the view reflects the repair.
func (s *Subscriber) RepairSentiments(ctx context.Context) (RepairReport, error) {
	rows, err := s.fetcher.ListBadSentiments(ctx)
	if err != nil {
		return RepairReport{}, err
	}

	report := RepairReport{Total: len(rows)}
	for _, row := range rows {
		label := s.analyzer.ClassifySentiment(row.Text)
		if err := s.fetcher.UpdateSentiment(ctx, row.ID, string(label)); err != nil {
			s.logger.WithError(err).WithField("transcript_id", row.ID).Warn("Sentiment repair write failed")
			report.Failed++
			continue
		}
		report.Updated++
	}

	s.logger.WithFields(logrus.Fields{
		"total":   report.Total,
		"updated": report.Updated,
		"failed":  report.Failed,
	}).Info("Sentiment repair finished")

	s.Refresh()
	return report, nil
}

// Close unmounts the subscriber. Idempotent; pending timers are
// cancelled and no snapshot is published afterwards.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		started := s.started
		if s.loadingTimer != nil {
			s.loadingTimer.Stop()
			s.loadingTimer = nil
		}
		s.mu.Unlock()

		close(s.closeCh)
		if started {
			<-s.done
		}
	})
}
