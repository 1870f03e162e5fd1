package tracker

import (
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/memtrace/internal/records"
	"github.com/getsentry/memtrace/internal/timeutil"
)

type (
	// sampler periodically records the process's resident memory usage,
	// independent of allocation traffic. Its lifecycle is tied to the
	// tracker's: started on activation, signaled and joined on destroy.
	//
	// States: stopped -> running -> stop requested -> stopped. The stop
	// request is signaled, not polled, so shutdown latency is bounded by
	// the wake latency of the channel, not the sampling interval.
	sampler struct {
		t        *Tracker
		interval time.Duration
		stopc    chan struct{}
		done     chan struct{}
		once     sync.Once
	}
)

func newSampler(t *Tracker, interval time.Duration) *sampler {
	return &sampler{
		t:        t,
		interval: interval,
		stopc:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *sampler) start() {
	go s.run()
}

// stop requests shutdown and joins the sampler thread. Idempotent.
func (s *sampler) stop() {
	s.once.Do(func() { close(s.stopc) })
	<-s.done
}

func (s *sampler) run() {
	defer close(s.done)
	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-s.stopc:
			return
		case <-timer.C:
		}
		start := time.Now()
		if rss, err := readRSS(); err != nil {
			// No sample this tick, never fatal.
			log.Warn().Err(err).Msg("failed to read resident memory usage")
		} else {
			s.t.write(&records.Record{
				Kind:      records.KindMemorySample,
				Timestamp: timeutil.Nanos(),
				RSS:       rss,
			})
		}
		// Recompute the remaining wait so the cadence stays steady
		// despite variable read and write latency.
		next := s.interval - time.Since(start)
		if next < 0 {
			next = 0
		}
		timer.Reset(next)
	}
}

func readRSS() (uint64, error) {
	p, err := procfs.Self()
	if err != nil {
		return 0, err
	}
	status, err := p.NewStatus()
	if err != nil {
		return 0, err
	}
	return status.VmRSS, nil
}
