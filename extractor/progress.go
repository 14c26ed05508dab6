package extractor

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Phase labels passed through progress sinks.
const (
	PhaseNames   = "decrypting filenames"
	PhaseExtract = "extracting files"
)

// Sink receives scheduler progress. Implementations must be safe for
// concurrent use. The default sink rate-limits log output; tests
// substitute a recording sink via Options.Progress.
type Sink interface {
	Report(current, total int, phase string)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(current, total int, phase string)

func (f SinkFunc) Report(current, total int, phase string) {
	f(current, total, phase)
}

type multiSink []Sink

func (m multiSink) Report(current, total int, phase string) {
	for _, s := range m {
		s.Report(current, total, phase)
	}
}

type nopSink struct{}

func (nopSink) Report(int, int, string) {}

// newSink assembles the sink stack for one phase. Verbose mode silences
// the meter - per-file lines take its place.
func (x *Extractor) newSink(total int) Sink {
	var sinks multiSink

	if x.opts.Progress != nil {
		sinks = append(sinks, x.opts.Progress)
	} else if !x.opts.Verbose {
		sinks = append(sinks, newLogSink(total, x.opts.ProgressInterval, x.log))
	}

	if x.opts.OnProgress != nil {
		sinks = append(sinks, SinkFunc(x.opts.OnProgress))
	}

	switch len(sinks) {
	case 0:
		return nopSink{}
	case 1:
		return sinks[0]
	default:
		return sinks
	}
}

// logSink emits a progress line when a percentage milestone is crossed or
// the minimum interval since the last emission has passed, whichever
// comes first. The mutex is held only to decide whether emission is due.
type logSink struct {
	log      *logrus.Entry
	interval time.Duration

	mu    sync.Mutex
	start time.Time
	last  time.Time
	steps map[int]struct{}
}

func newLogSink(total int, interval time.Duration, log *logrus.Entry) *logSink {
	// 10% steps under 1k entries, 5% under 10k, 1% beyond, with floors
	// of 100/500/1000 so huge archives don't flood the log.
	var step int
	switch {
	case total < 1000:
		step = max(100, total/10)
	case total < 10000:
		step = max(500, total/20)
	default:
		step = max(1000, total/100)
	}

	steps := make(map[int]struct{})
	for i := 0; i <= total; i += step {
		steps[i] = struct{}{}
	}
	steps[total] = struct{}{}

	return &logSink{
		log:      log,
		interval: interval,
		start:    time.Now(),
		steps:    steps,
	}
}

func (s *logSink) Report(current, total int, phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current <= 0 || total <= 0 {
		return
	}

	if _, milestone := s.steps[current]; !milestone && time.Since(s.last) < s.interval {
		return
	}
	s.last = time.Now()

	elapsed := s.last.Sub(s.start).Seconds()

	var rate, eta float64
	if elapsed > 0 {
		rate = float64(current) / elapsed
	}
	if rate > 0 {
		eta = float64(total-current) / rate
	}

	percent := float64(current) / float64(total) * 100

	s.log.Infof("%s: %d/%d (%.1f%%) - %.0f files/sec, ETA: %.0fs",
		phase, current, total, percent, rate, eta)
}
