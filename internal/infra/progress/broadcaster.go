// Package progress is the presentation boundary for add-task progress and
// remote collaboration indicators. Producers call the domain ports; the
// presentation layer reads plain Update values from a channel and never
// calls back into the core.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahrav/caseflow/internal/domain/collaboration"
	"github.com/ahrav/caseflow/internal/domain/datasource"
	"github.com/ahrav/caseflow/pkg/common/timeutil"
)

// Kind identifies what an Update changes.
type Kind int

const (
	KindIndeterminate Kind = iota
	KindPercent
	KindText
	KindIndicatorStart
	KindIndicatorProgress
	KindIndicatorFinish
)

func (k Kind) String() string {
	switch k {
	case KindIndeterminate:
		return "indeterminate"
	case KindPercent:
		return "percent"
	case KindText:
		return "text"
	case KindIndicatorStart:
		return "indicator_start"
	case KindIndicatorProgress:
		return "indicator_progress"
	case KindIndicatorFinish:
		return "indicator_finish"
	default:
		return "unknown"
	}
}

// Update is one presentation change.
type Update struct {
	Kind Kind
	Time time.Time

	// Source names the local sink that produced the update. Empty for
	// remote indicators.
	Source        string
	Indeterminate bool
	Percent       int

	// Host and IndicatorID identify a remote indicator.
	Host        string
	IndicatorID int64

	Text string
}

// DefaultBuffer is the update channel capacity used when none is given.
const DefaultBuffer = 256

// Broadcaster turns port calls into Updates on a buffered channel. Sends never
// block: when the reader falls behind, updates are dropped and counted.
type Broadcaster struct {
	mu      sync.RWMutex
	updates chan Update
	closed  bool

	dropped       atomic.Uint64
	nextIndicator atomic.Int64

	clock timeutil.Provider
}

var _ collaboration.IndicatorFactory = (*Broadcaster)(nil)

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithTimeProvider sets the clock used to stamp updates.
func WithTimeProvider(p timeutil.Provider) Option { return func(b *Broadcaster) { b.clock = p } }

// NewBroadcaster creates a broadcaster whose channel holds buffer updates.
func NewBroadcaster(buffer int, opts ...Option) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	b := &Broadcaster{
		updates: make(chan Update, buffer),
		clock:   timeutil.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Updates returns the channel the presentation layer reads.
func (b *Broadcaster) Updates() <-chan Update { return b.updates }

// Dropped reports how many updates were discarded because the channel was full.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Close closes the update channel. Later sends are discarded silently.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.updates)
	}
}

func (b *Broadcaster) send(u Update) {
	u.Time = b.clock.Now()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.updates <- u:
	default:
		b.dropped.Add(1)
	}
}

// Sink returns a ProgressSink whose updates carry source.
func (b *Broadcaster) Sink(source string) datasource.ProgressSink {
	return &sink{b: b, source: source}
}

type sink struct {
	b      *Broadcaster
	source string
}

func (s *sink) SetIndeterminate(indeterminate bool) {
	s.b.send(Update{Kind: KindIndeterminate, Source: s.source, Indeterminate: indeterminate})
}

func (s *sink) SetProgress(percent int) {
	s.b.send(Update{Kind: KindPercent, Source: s.source, Percent: percent})
}

func (s *sink) SetProgressText(text string) {
	s.b.send(Update{Kind: KindText, Source: s.source, Text: text})
}

// NewIndicator implements collaboration.IndicatorFactory. Each indicator gets
// a broadcaster-unique id so the presentation layer can tell them apart.
func (b *Broadcaster) NewIndicator(hostName string) collaboration.ProgressIndicator {
	return &indicator{b: b, host: hostName, id: b.nextIndicator.Add(1)}
}

type indicator struct {
	b    *Broadcaster
	host string
	id   int64
}

func (i *indicator) Start(status string) {
	i.b.send(Update{Kind: KindIndicatorStart, Host: i.host, IndicatorID: i.id, Text: status})
}

func (i *indicator) Progress(status string) {
	i.b.send(Update{Kind: KindIndicatorProgress, Host: i.host, IndicatorID: i.id, Text: status})
}

func (i *indicator) Finish() {
	i.b.send(Update{Kind: KindIndicatorFinish, Host: i.host, IndicatorID: i.id})
}
