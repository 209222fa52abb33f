package testutil

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360/tensorscope/container"
	"github.com/c360/tensorscope/eventlog"
	"github.com/c360/tensorscope/tensor"
)

// LogDir builds a TensorBoard-style log directory of tensor summaries.
// Each run gets one event file, created on first write.
type LogDir struct {
	Root string

	t       testing.TB
	mu      sync.Mutex
	writers map[string]*eventlog.Writer
}

// NewLogDir creates an empty log directory under t.TempDir. Writers are
// closed when the test ends.
func NewLogDir(t testing.TB) *LogDir {
	t.Helper()
	d := &LogDir{Root: t.TempDir(), t: t, writers: make(map[string]*eventlog.Writer)}
	t.Cleanup(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for _, w := range d.writers {
			_ = w.Close()
		}
	})
	return d
}

func (d *LogDir) writer(run string) *eventlog.Writer {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.writers[run]
	if !ok {
		var err error
		w, err = eventlog.Create(filepath.Join(d.Root, filepath.FromSlash(run)), "")
		require.NoError(d.t, err)
		d.writers[run] = w
	}
	return w
}

// WriteTensor appends one tensor summary for tag at step under plugin. An
// empty plugin writes the value without summary metadata.
func (d *LogDir) WriteTensor(run, tag, plugin string, step int64, arr *tensor.Array) {
	d.t.Helper()
	proto, err := arr.MarshalProto()
	require.NoError(d.t, err)
	d.WriteProto(run, tag, plugin, step, proto)
}

// WriteProto appends an already-serialized TensorProto, which need not be
// valid.
func (d *LogDir) WriteProto(run, tag, plugin string, step int64, proto []byte) {
	d.t.Helper()
	v := eventlog.Value{Tag: tag, Tensor: proto}
	if plugin != "" {
		v.HasMetadata = true
		v.PluginName = plugin
	}
	ev := &eventlog.Event{WallTime: float64(step), Step: step, Values: []eventlog.Value{v}}
	require.NoError(d.t, d.writer(run).WriteEvent(ev))
}

// WriteScalar appends a legacy simple_value summary.
func (d *LogDir) WriteScalar(run, tag string, step int64, v float32) {
	d.t.Helper()
	require.NoError(d.t, d.writer(run).WriteRaw(eventlog.RawSummaryEvent(float64(step), step, eventlog.SimpleValue(tag, v))))
}

// Vector returns a float32 vector.
func Vector(vals ...float64) *tensor.Array {
	return &tensor.Array{DType: tensor.Float32, Shape: []int{len(vals)}, Float: vals}
}

// Matrix returns a float32 rows x cols matrix filled row-major from vals.
func Matrix(rows, cols int, vals ...float64) *tensor.Array {
	return &tensor.Array{DType: tensor.Float32, Shape: []int{rows, cols}, Float: vals}
}

// Layer describes one layer group in a weights fixture.
type Layer struct {
	Name string
	// Steps at which the kernel (and, unless NoBias, the bias) is written.
	Steps  []int64
	NoBias bool
}

// WriteWeights writes a safetensors container with a 2x2 kernel and a
// 2-element bias per layer and step. Values encode the step so responses can
// be checked: kernel [[s, s+1], [s+2, s+3]], bias [s+0.5, s-0.5]. Layers appear in
// the given order.
func WriteWeights(t testing.TB, dir, name string, layers ...Layer) string {
	t.Helper()
	var entries []container.Entry
	for _, l := range layers {
		for _, s := range l.Steps {
			f := float64(s)
			entries = append(entries, container.Entry{
				Key:   container.KernelKey(l.Name, s),
				Array: Matrix(2, 2, f, f+1, f+2, f+3),
			})
			if !l.NoBias {
				entries = append(entries, container.Entry{
					Key:   container.BiasKey(l.Name, s),
					Array: Vector(f+0.5, f-0.5),
				})
			}
		}
	}
	path := filepath.Join(dir, name)
	require.NoError(t, container.CreateSafetensors(path, entries))
	return path
}
