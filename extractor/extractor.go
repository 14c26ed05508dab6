package extractor

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/joao-paulo-santos/ipfex/ipf"
)

// Options configures a run. The zero value means: auto worker count,
// quiet per-file logging, default progress cadence.
type Options struct {
	// Workers is the size of the pool for both phases. 0 selects
	// DefaultWorkers(). 1 is a correct sequential extraction with
	// identical output.
	Workers int

	// Verbose replaces the progress meter with one log line per entry.
	Verbose bool

	// ProgressInterval is the minimum time between progress emissions.
	// 0 selects the 2s default.
	ProgressInterval time.Duration

	// OnProgress, when set, additionally receives every progress tick.
	OnProgress func(current, total int, phase string)

	// Progress overrides the default rate-limited log sink. Tests use a
	// recording sink here.
	Progress Sink
}

// Report summarizes one extraction run.
type Report struct {
	TotalEntries     int
	ExtractedEntries int
	FailedEntries    int
	Elapsed          time.Duration
}

// DefaultWorkers is the worker pool size when the caller does not choose:
// the workload is cipher+inflate bound, and past 8 threads a single
// spinning disk is the bottleneck anyway.
func DefaultWorkers() int {
	return min(8, runtime.NumCPU())
}

// Extractor drives the two-phase pipeline over one archive: decrypt every
// filename, assign collision-free output paths, then extract every
// payload.
type Extractor struct {
	archive *ipf.Archive
	outDir  string
	opts    Options
	log     *logrus.Entry
}

// New parses the archive's central directory and prepares the output
// directory. Archive-level failures here are fatal; nothing has been
// written yet.
func New(archivePath, outputDir string, opts Options) (*Extractor, error) {
	if opts.Workers == 0 {
		opts.Workers = DefaultWorkers()
	}
	if opts.Workers < 0 {
		return nil, errors.New("worker count must be positive")
	}
	if opts.ProgressInterval == 0 {
		opts.ProgressInterval = 2 * time.Second
	}

	a, err := ipf.Open(archivePath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		a.Close()
		return nil, errors.Wrap(err, "creating output directory")
	}

	return &Extractor{
		archive: a,
		outDir:  outputDir,
		opts:    opts,
		log:     logrus.WithField("pkg", "extractor"),
	}, nil
}

func (x *Extractor) Close() error {
	return x.archive.Close()
}

// Extract is the one-call form: open, run, close.
func Extract(ctx context.Context, archivePath, outputDir string, opts Options) (*Report, error) {
	x, err := New(archivePath, outputDir, opts)
	if err != nil {
		return nil, err
	}
	defer x.Close()

	return x.Run(ctx)
}

// decodedEntry is the scheduler's view of one entry between the phases.
type decodedEntry struct {
	entry   ipf.Entry
	decoded string // empty when the filename could not be recovered
	outName string
	outPath string
}

// Run executes both phases. Per-entry failures are counted in the report;
// the returned error is non-nil only for cancellation. The report's
// observable output is independent of worker count: paths are assigned
// from phase A results in entry-index order before phase B starts.
func (x *Extractor) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	x.log.Infof("decrypting %d filenames using %d workers", len(x.archive.Entries), x.opts.Workers)

	decoded, err := x.decodeNames(ctx)
	if err != nil {
		return nil, err
	}

	x.assignPaths(decoded)

	x.log.Infof("extracting %d files using %d workers", len(decoded), x.opts.Workers)

	report, err := x.extractAll(ctx, decoded)
	report.Elapsed = time.Since(start)

	x.log.Infof("extracted %d/%d entries in %.1fs",
		report.ExtractedEntries, report.TotalEntries, report.Elapsed.Seconds())

	return report, err
}

// assignPaths resolves filename collisions deterministically: entries in
// original index order, suffixes _1, _2, ... before the extension until
// unique. Worker count and completion order cannot affect the result.
func (x *Extractor) assignPaths(decoded []decodedEntry) {
	used := make(map[string]struct{}, len(decoded))

	for i := range decoded {
		d := &decoded[i]

		name := ""
		if d.decoded != "" {
			name = ipf.SafeName(d.decoded)
		}
		if name == "" {
			name = ipf.SyntheticName(d.entry.Index)
		}

		ext := path.Ext(name)
		stem := name[:len(name)-len(ext)]

		candidate := name
		for n := 1; ; n++ {
			if _, taken := used[candidate]; !taken {
				break
			}
			candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		used[candidate] = struct{}{}

		d.outName = candidate
		d.outPath = filepath.Join(x.outDir, candidate)
	}
}
