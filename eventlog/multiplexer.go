package eventlog

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/tensorscope/errors"
	"github.com/c360/tensorscope/metric"
	"github.com/c360/tensorscope/pkg/worker"
)

// Lookup errors. Both match errors.ErrNotFound.
var (
	ErrRunNotFound = fmt.Errorf("eventlog: run %w", errors.ErrNotFound)
	ErrTagNotFound = fmt.Errorf("eventlog: tag %w", errors.ErrNotFound)
)

// ErrNotLoaded is returned by run discovery before any reload has finished.
var ErrNotLoaded = fmt.Errorf("eventlog: %w", errors.ErrNotStarted)

// TensorEvent is one recorded value of a tag.
type TensorEvent struct {
	WallTime    float64
	Step        int64
	TensorProto []byte
}

// RunInfo describes a run. Tags maps a plugin name to its sorted tag names.
type RunInfo struct {
	Dir  string
	Tags map[string][]string
}

type tagState struct {
	plugin  string
	content []byte
	hasMeta bool
	events  []TensorEvent
}

type fileState struct {
	offset int64
	stuck  bool
}

// runState is one run directory. files is owned by the goroutine running
// the current reload; tags is guarded by Multiplexer.mu.
type runState struct {
	name  string
	dir   string
	files map[string]*fileState
	tags  map[string]*tagState
}

type loadJob struct {
	ctx     context.Context
	run     *runState
	records *int64
}

// Multiplexer indexes every run below a log directory and serves their
// tensor summaries. Reads are safe for concurrent use; reloads are
// serialized and incremental.
type Multiplexer struct {
	root     string
	logger   *slog.Logger
	metrics  *metric.Metrics
	registry *metric.MetricsRegistry
	workers  int

	reloadMu    sync.Mutex
	pool        *worker.Pool[loadJob]
	poolStarted bool

	mu         sync.RWMutex
	runs       map[string]*runState
	lastReload time.Time
	lastErr    error
}

// Option configures a Multiplexer.
type Option func(*Multiplexer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Multiplexer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records reload metrics and worker pool metrics in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(m *Multiplexer) {
		m.registry = registry
		m.metrics = registry.CoreMetrics()
	}
}

// WithWorkers sets how many runs are loaded in parallel.
func WithWorkers(n int) Option {
	return func(m *Multiplexer) {
		if n > 0 {
			m.workers = n
		}
	}
}

// New creates a multiplexer over root. Nothing is read until Reload.
func New(root string, opts ...Option) *Multiplexer {
	m := &Multiplexer{
		root:    filepath.Clean(root),
		logger:  slog.Default(),
		workers: 4,
		runs:    make(map[string]*runState),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "eventlog")

	var poolOpts []worker.Option[loadJob]
	if m.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[loadJob](m.registry, "eventlog"))
	}
	m.pool = worker.NewPool(m.workers, m.workers*4, m.loadRun, poolOpts...)
	return m
}

// Root returns the log directory.
func (m *Multiplexer) Root() string {
	return m.root
}

// Reload discovers runs and reads any bytes appended to their event files
// since the previous reload.
func (m *Multiplexer) Reload(ctx context.Context) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	start := time.Now()
	if !m.poolStarted {
		if err := m.pool.Start(context.WithoutCancel(ctx)); err != nil {
			return errors.WrapFatal(err, "Multiplexer", "Reload", "start worker pool")
		}
		m.poolStarted = true
	}

	found, err := discoverRuns(m.root)
	if err != nil {
		err = errors.Wrap(err, "Multiplexer", "Reload", "discover runs")
		m.finishReload(start, 0, err)
		return err
	}

	m.mu.Lock()
	for name, dir := range found {
		if _, ok := m.runs[name]; !ok {
			m.runs[name] = &runState{
				name:  name,
				dir:   dir,
				files: make(map[string]*fileState),
				tags:  make(map[string]*tagState),
			}
		}
	}
	for name := range m.runs {
		if _, ok := found[name]; !ok {
			m.logger.Info("Run removed", "run", name)
			delete(m.runs, name)
		}
	}
	jobs := make([]loadJob, 0, len(m.runs))
	var records int64
	for _, rs := range m.runs {
		jobs = append(jobs, loadJob{ctx: ctx, run: rs, records: &records})
	}
	m.mu.Unlock()

	if err := m.pool.Run(ctx, jobs); err != nil {
		err = errors.Wrap(err, "Multiplexer", "Reload", "load runs")
		m.finishReload(start, int(atomic.LoadInt64(&records)), err)
		return err
	}

	m.finishReload(start, int(atomic.LoadInt64(&records)), nil)
	return nil
}

func (m *Multiplexer) finishReload(start time.Time, records int, err error) {
	m.mu.Lock()
	m.lastReload = time.Now()
	m.lastErr = err
	runs := len(m.runs)
	tags := 0
	for _, rs := range m.runs {
		tags += len(rs.tags)
	}
	m.mu.Unlock()

	elapsed := time.Since(start)
	m.metrics.RecordReload(elapsed, runs, tags, records, err)
	if err != nil {
		m.logger.Warn("Reload failed", "error", err, "duration", elapsed)
		return
	}
	m.logger.Debug("Reload finished", "runs", runs, "tags", tags, "records", records, "duration", elapsed)
}

// LastReload reports when the last reload finished and its error.
func (m *Multiplexer) LastReload() (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastReload, m.lastErr
}

// Watch reloads every interval until ctx is done. Reload errors are logged
// and do not stop the loop.
func (m *Multiplexer) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.WrapInvalid(fmt.Errorf("interval %v", interval), "Multiplexer", "Watch", "validate interval")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = m.Reload(ctx)
		}
	}
}

// Close stops the worker pool.
func (m *Multiplexer) Close() error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	return m.pool.Stop(5 * time.Second)
}

// Runs returns every known run.
func (m *Multiplexer) Runs() map[string]RunInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]RunInfo, len(m.runs))
	for name, rs := range m.runs {
		info := RunInfo{Dir: rs.dir, Tags: make(map[string][]string)}
		for tag, ts := range rs.tags {
			info.Tags[ts.plugin] = append(info.Tags[ts.plugin], tag)
		}
		for _, tags := range info.Tags {
			sort.Strings(tags)
		}
		out[name] = info
	}
	return out
}

// PluginRunToTagToContent returns, for each run with at least one tag owned
// by plugin, the plugin content recorded for those tags. It fails with
// ErrNotLoaded until the first reload finishes.
func (m *Multiplexer) PluginRunToTagToContent(plugin string) (map[string]map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastReload.IsZero() {
		return nil, ErrNotLoaded
	}

	out := make(map[string]map[string][]byte)
	for name, rs := range m.runs {
		for tag, ts := range rs.tags {
			if ts.plugin != plugin {
				continue
			}
			if out[name] == nil {
				out[name] = make(map[string][]byte)
			}
			out[name][tag] = append([]byte(nil), ts.content...)
		}
	}
	return out, nil
}

// Tensors returns the events recorded for tag in run, in read order.
func (m *Multiplexer) Tensors(run, tag string) ([]TensorEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rs, ok := m.runs[run]
	if !ok {
		return nil, ErrRunNotFound
	}
	ts, ok := rs.tags[tag]
	if !ok {
		return nil, ErrTagNotFound
	}
	return append([]TensorEvent(nil), ts.events...), nil
}

// loadRun reads new records for one run and merges them in.
func (m *Multiplexer) loadRun(_ context.Context, job loadJob) error {
	rs := job.run
	files, err := eventFiles(rs.dir)
	if err != nil {
		return fmt.Errorf("run %q: %w", rs.name, err)
	}

	seen := make(map[string]bool, len(files))
	var errs []error
	for _, name := range files {
		seen[name] = true
		st, ok := rs.files[name]
		if !ok {
			st = &fileState{}
			rs.files[name] = st
		}
		if st.stuck {
			continue
		}

		events, err := m.readFile(job.ctx, rs, filepath.Join(rs.dir, name), st)
		if len(events) > 0 {
			atomic.AddInt64(job.records, int64(len(events)))
			m.apply(rs, events)
		}
		if err != nil {
			errs = append(errs, err)
			if job.ctx.Err() != nil {
				break
			}
		}
	}
	for name := range rs.files {
		if !seen[name] {
			delete(rs.files, name)
		}
	}
	return stderrors.Join(errs...)
}

// readFile reads complete records after st.offset and advances it.
func (m *Multiplexer) readFile(ctx context.Context, rs *runState, path string, st *fileState) ([]*Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapTransient(err, "Multiplexer", "readFile", "open event file")
	}
	defer f.Close()

	if _, err := f.Seek(st.offset, io.SeekStart); err != nil {
		return nil, errors.WrapTransient(err, "Multiplexer", "readFile", "seek event file")
	}

	rr := NewRecordReader(f)
	var (
		events  []*Event
		skipped int
	)
	defer func() {
		st.offset += rr.Offset()
		m.metrics.RecordDecodeSkipped("eventlog", skipped)
	}()

	for {
		if err := ctx.Err(); err != nil {
			return events, err
		}
		data, err := rr.Next()
		switch {
		case err == nil:
		case stderrors.Is(err, io.EOF), stderrors.Is(err, ErrTruncated):
			return events, nil
		case stderrors.Is(err, ErrCorrupt):
			st.stuck = true
			m.logger.Warn("Corrupt event file, ignoring remainder",
				"run", rs.name, "file", filepath.Base(path), "offset", st.offset+rr.Offset(), "error", err)
			return events, nil
		default:
			return events, errors.WrapTransient(err, "Multiplexer", "readFile", "read record")
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			skipped++
			m.logger.Debug("Skipping undecodable event", "run", rs.name, "file", filepath.Base(path), "error", err)
			continue
		}
		events = append(events, ev)
	}
}

// apply merges decoded events into the run's tags.
func (m *Multiplexer) apply(rs *runState, events []*Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ev := range events {
		for _, v := range ev.Values {
			if v.Tensor == nil {
				continue
			}
			ts, ok := rs.tags[v.Tag]
			if !ok {
				ts = &tagState{}
				rs.tags[v.Tag] = ts
			}
			if v.HasMetadata && !ts.hasMeta {
				ts.hasMeta = true
				ts.plugin = v.PluginName
				ts.content = v.PluginContent
			}
			ts.events = append(ts.events, TensorEvent{
				WallTime:    ev.WallTime,
				Step:        ev.Step,
				TensorProto: v.Tensor,
			})
		}
	}
}

// discoverRuns maps run names to directories holding event files.
func discoverRuns(root string) (map[string]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("log directory %q: %w", root, errors.ErrNotFound)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("log directory %q is not a directory: %w", root, errors.ErrInvalidConfig)
	}

	runs := make(map[string]string)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() || !isEventFile(d.Name()) {
			return nil
		}
		dir := filepath.Dir(path)
		rel, err := filepath.Rel(root, dir)
		if err != nil {
			return err
		}
		runs[filepath.ToSlash(rel)] = dir
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func eventFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isEventFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	// ReadDir already sorts by name.
	return names, nil
}

func isEventFile(name string) bool {
	return strings.Contains(name, "tfevents")
}
