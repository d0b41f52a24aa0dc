package datasource

import (
	"context"
	"sync"
	"time"

	"github.com/ahrav/caseflow/internal/domain/datasource"
	"github.com/ahrav/caseflow/pkg/common/logger"
)

// DefaultPollInterval is how often the current directory is forwarded.
const DefaultPollInterval = 500 * time.Millisecond

type directoryReader interface {
	CurrentDirectory() string
}

// progressPoller forwards the engine's current directory to the sink until
// stopped. It holds no locks.
type progressPoller struct {
	proc     directoryReader
	sink     datasource.ProgressSink
	interval time.Duration
	log      *logger.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func startPoller(proc directoryReader, sink datasource.ProgressSink, interval time.Duration, log *logger.Logger) *progressPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p := &progressPoller{
		proc:     proc,
		sink:     sink,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *progressPoller) run() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			p.log.Debug(context.Background(), "Progress poller stopped")
			return
		case <-ticker.C:
			if dir := p.proc.CurrentDirectory(); dir != "" {
				p.sink.SetProgressText(dir)
			}
		}
	}
}

// stop requests termination and returns immediately.
func (p *progressPoller) stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// done is closed once the polling goroutine has exited.
func (p *progressPoller) done() <-chan struct{} { return p.doneCh }
