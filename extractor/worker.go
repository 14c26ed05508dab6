package extractor

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/joao-paulo-santos/ipfex/ipf"
)

// openWorkerHandle gives each worker its own descriptor for positional
// reads. If the reopen fails (fd limits, racing unlink) the worker falls
// back to the archive's shared handle, which is also safe: all reads in
// this package go through ReadAt, never Seek.
func (x *Extractor) openWorkerHandle(llog *logrus.Entry) (io.ReaderAt, func()) {
	f, err := os.Open(x.archive.Path)
	if err != nil {
		llog.Debugf("falling back to shared archive handle: %v", err)
		return x.archive.ReaderAt(), func() {}
	}
	return f, func() { f.Close() }
}

// decodeNames is phase A: every entry's local-header filename is read and
// decrypted in parallel. Results land in per-index slots, so the returned
// slice is in entry-index order regardless of completion order.
func (x *Extractor) decodeNames(shutdownCtx context.Context) ([]decodedEntry, error) {
	entries := x.archive.Entries
	total := len(entries)
	results := make([]decodedEntry, total)

	sink := x.newSink(total)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)

	taskCh := make(chan ipf.Entry)

	for i := 0; i < x.opts.Workers; i++ {
		wg.Add(1)

		go func(id int) {
			llog := x.log.WithFields(logrus.Fields{
				"method": "decodeNames",
				"id":     id,
			})

			llog.Debug("start")
			defer llog.Debug("exit")
			defer wg.Done()

			r, closeHandle := x.openWorkerHandle(llog)
			defer closeHandle()

		MAIN:
			for {
				select {
				case <-shutdownCtx.Done():
					llog.Debug("received shutdown signal")
					break MAIN
				case e, open := <-taskCh:
					if !open {
						llog.Debug("task channel closed - exiting worker")
						break MAIN
					}

					d := x.decodeOne(r, e)
					results[e.Index] = d

					mu.Lock()
					done++
					n := done
					mu.Unlock()

					if x.opts.Verbose {
						if d.decoded != "" {
							llog.Infof("decoded %d/%d: %s", n, total, d.decoded)
						} else {
							llog.Infof("decoded %d/%d: entry %d has no recoverable name", n, total, e.Index)
						}
					}

					sink.Report(n, total, PhaseNames)
				}
			}
		}(i)
	}

	// Feeder
	go func() {
		defer close(taskCh)

		for _, e := range entries {
			select {
			case <-shutdownCtx.Done():
				return
			case taskCh <- e:
			}
		}
	}()

	wg.Wait()

	if err := shutdownCtx.Err(); err != nil {
		return nil, errors.Wrap(ipf.ErrCancelled, err.Error())
	}

	return results, nil
}

// decodeOne recovers one entry's filename. Any failure - out-of-range
// length field, mangled local header, undecodable bytes - degrades the
// entry to a synthetic name rather than dropping it; the payload may
// still be extractable.
func (x *Extractor) decodeOne(r io.ReaderAt, e ipf.Entry) decodedEntry {
	raw, err := ipf.ReadEncryptedName(r, e)
	if err != nil {
		x.log.WithField("method", "decodeOne").Debugf("entry %d: %v", e.Index, err)
		return decodedEntry{entry: e}
	}

	name, ok := ipf.DecodeName(ipf.DecryptName(raw))
	if !ok {
		return decodedEntry{entry: e}
	}

	return decodedEntry{entry: e, decoded: name}
}

// extractAll is phase B: payloads are decrypted and inflated in parallel
// into the paths assigned after phase A. Per-entry failures are logged
// and counted, never fatal.
func (x *Extractor) extractAll(shutdownCtx context.Context, decoded []decodedEntry) (*Report, error) {
	total := len(decoded)

	sink := x.newSink(total)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		done      int
		extracted int
		failed    int
	)

	taskCh := make(chan decodedEntry)

	for i := 0; i < x.opts.Workers; i++ {
		wg.Add(1)

		go func(id int) {
			llog := x.log.WithFields(logrus.Fields{
				"method": "extractAll",
				"id":     id,
			})

			llog.Debug("start")
			defer llog.Debug("exit")
			defer wg.Done()

			r, closeHandle := x.openWorkerHandle(llog)
			defer closeHandle()

		MAIN:
			for {
				select {
				case <-shutdownCtx.Done():
					llog.Debug("received shutdown signal")
					break MAIN
				case d, open := <-taskCh:
					if !open {
						llog.Debug("task channel closed - exiting worker")
						break MAIN
					}

					size, err := x.extractOne(r, d)

					mu.Lock()
					done++
					n := done
					if err != nil {
						failed++
					} else {
						extracted++
					}
					mu.Unlock()

					if err != nil {
						llog.Errorf("failed to extract %s: %v", d.outName, err)
					} else if x.opts.Verbose {
						llog.Infof("extracted %s (%d bytes)", d.outName, size)
					}

					sink.Report(n, total, PhaseExtract)
				}
			}
		}(i)
	}

	// Feeder
	go func() {
		defer close(taskCh)

		for _, d := range decoded {
			select {
			case <-shutdownCtx.Done():
				return
			case taskCh <- d:
			}
		}
	}()

	wg.Wait()

	report := &Report{
		TotalEntries:     total,
		ExtractedEntries: extracted,
		FailedEntries:    failed,
	}

	if err := shutdownCtx.Err(); err != nil {
		return report, errors.Wrap(ipf.ErrCancelled, err.Error())
	}

	return report, nil
}

func (x *Extractor) extractOne(r io.ReaderAt, d decodedEntry) (int64, error) {
	out, err := os.Create(d.outPath)
	if err != nil {
		return 0, errors.Wrap(err, "creating output file")
	}

	warn := func(warnErr error) {
		x.log.Warnf("%s: %v", d.outName, warnErr)
	}

	size, xerr := ipf.ExtractEntry(r, d.entry, out, warn)

	if cerr := out.Close(); xerr == nil && cerr != nil {
		xerr = errors.Wrap(cerr, "closing output file")
	}

	return size, xerr
}
