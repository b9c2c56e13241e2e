// Package pipeline implements the Hash Workers and Writer components
// (spec.md §4.6, §4.7) and wires them together with the Scanner under the
// bounded-channel concurrency model of spec.md §5.
package pipeline

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jgaa/deldupes/internal/codec"
	"github.com/jgaa/deldupes/internal/hashing"
	"github.com/jgaa/deldupes/internal/scanner"
	"github.com/jgaa/deldupes/internal/store"
)

// DefaultBatchSize is the Writer's batch-commit threshold (spec.md §4.7).
const DefaultBatchSize = 10_000

const (
	jobChanPerThread    = 256
	resultChanPerThread = 8192
)

// Result is one hashed observation, handed from a worker to the Writer.
type Result struct {
	Path string
	Meta codec.FileMeta
}

// Options configures a scan pass end to end.
type Options struct {
	Roots          []string // already normalized
	Threads        int      // 0 selects the spec.md default
	FollowSymlinks bool
	Recursive      bool
	DetectDeletes  bool
	BatchSize      int // 0 selects DefaultBatchSize
	HashOptions    hashing.Options
}

// DefaultThreads returns max(1, available_parallelism - 1), spec.md §4.6's
// default Hash Worker pool size.
func DefaultThreads() int {
	n := runtime.GOMAXPROCS(0) - 1
	if n < 1 {
		n = 1
	}

	return n
}

// Stats summarizes one scan pass.
type Stats struct {
	FilesHashed     int
	BatchesWritten  int
	MissingDetected int
}

// Run executes the full scan pipeline: Scanner -> job channel -> N Hash
// Workers -> result channel -> Writer -> Store, followed by
// mark_missing_not_seen when opts.DetectDeletes is set. It returns once
// every stage has drained and joined.
func Run(st *store.Store, opts Options, log zerolog.Logger) (Stats, error) {
	threads := opts.Threads
	if threads <= 0 {
		threads = DefaultThreads()
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	jobs := make(chan scanner.Job, threads*jobChanPerThread)
	results := make(chan Result, threads*resultChanPerThread)

	sc := scanner.New(st, scanner.Options{FollowSymlinks: opts.FollowSymlinks, Recursive: opts.Recursive})

	var (
		seen     map[string]struct{}
		scanErr  error
		scanDone = make(chan struct{})
	)

	go func() {
		seen, scanErr = sc.Run(opts.Roots, jobs)
		close(scanDone)
	}()

	var wg sync.WaitGroup

	hashed := 0

	var hashedMu sync.Mutex

	for i := 0; i < threads; i++ {
		wg.Add(1)

		go func(workerID int) {
			defer wg.Done()

			n := runWorker(jobs, results, opts.HashOptions, log.With().Int("worker", workerID).Logger())

			hashedMu.Lock()
			hashed += n
			hashedMu.Unlock()
		}(i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	w := &writer{store: st, batchSize: batchSize, log: log}

	batches, writeErr := w.run(results)

	<-scanDone

	if scanErr != nil {
		return Stats{}, fmt.Errorf("pipeline: scan: %w", scanErr)
	}

	if writeErr != nil {
		return Stats{}, fmt.Errorf("pipeline: write: %w", writeErr)
	}

	stats := Stats{FilesHashed: hashed, BatchesWritten: batches}

	if opts.DetectDeletes {
		n, err := st.MarkMissingNotSeen(opts.Roots, seen)
		if err != nil {
			return stats, fmt.Errorf("pipeline: mark missing: %w", err)
		}

		stats.MissingDetected = n

		log.Info().Int("count", n).Msg("missing-detection pass complete")
	}

	return stats, nil
}

// runWorker implements spec.md §4.6's Hash Worker loop. Per-file errors are
// swallowed by design: the scan continues. Returns the count of files
// successfully hashed and sent to results.
func runWorker(jobs <-chan scanner.Job, results chan<- Result, hashOpts hashing.Options, log zerolog.Logger) int {
	n := 0

	for job := range jobs {
		info, err := os.Stat(job.Path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		meta, err := hashing.Hash(job.Path, job.Size, job.MtimeSecs, hashOpts)
		if err != nil {
			log.Warn().Err(err).Str("path", job.Path).Msg("hashing failed, skipping file")

			continue
		}

		results <- Result{Path: job.Path, Meta: meta}
		n++
	}

	return n
}

// writer implements spec.md §4.7: the single thread that batches results
// and commits them through the Store.
type writer struct {
	store     *store.Store
	batchSize int
	log       zerolog.Logger
}

// run drains results, committing every batchSize entries and flushing any
// residual buffer once the channel closes. Returns the number of batches
// committed (including the final partial flush, if non-empty).
func (w *writer) run(results <-chan Result) (int, error) {
	buf := make([]store.BatchItem, 0, w.batchSize)
	batches := 0

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}

		if err := w.store.WriteBatchVersions(buf); err != nil {
			return fmt.Errorf("writer: commit batch: %w", err)
		}

		batches++

		w.log.Debug().Int("batch", batches).Int("entries", len(buf)).Msg("batch committed")

		buf = buf[:0]

		return nil
	}

	for r := range results {
		buf = append(buf, store.BatchItem{Path: r.Path, Meta: r.Meta})

		if len(buf) >= w.batchSize {
			if err := flush(); err != nil {
				return batches, err
			}
		}
	}

	if err := flush(); err != nil {
		return batches, err
	}

	return batches, nil
}
