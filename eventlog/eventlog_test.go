package eventlog

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tensorscope/errors"
	"github.com/c360/tensorscope/metric"
	"github.com/c360/tensorscope/tensor"
)

func TestMaskedCRC_Empty(t *testing.T) {
	assert.Equal(t, uint32(0xa282ead8), maskedCRC(nil))
}

func TestRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewRecordWriter(&buf)
	payloads := [][]byte{[]byte("first"), {}, bytes.Repeat([]byte{7}, 100_000)}
	for _, p := range payloads {
		require.NoError(t, w.Write(p))
	}
	total := int64(buf.Len())

	r := NewRecordReader(&buf)
	for _, want := range payloads {
		got, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, total, r.Offset())
}

func TestRecordReader_Truncated(t *testing.T) {
	var buf bytes.Buffer
	w := NewRecordWriter(&buf)
	require.NoError(t, w.Write([]byte("complete")))
	first := int64(buf.Len())
	require.NoError(t, w.Write([]byte("partial record")))
	second := buf.Len() - int(first)

	for _, cut := range []int{3, headerSize, headerSize + 4, second - 1} {
		data := buf.Bytes()[:int(first)+cut]
		r := NewRecordReader(bytes.NewReader(data))
		_, err := r.Next()
		require.NoError(t, err)
		_, err = r.Next()
		assert.ErrorIs(t, err, ErrTruncated, "cut at %d", cut)
		assert.Equal(t, first, r.Offset())
	}
}

func TestRecordReader_Corrupt(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRecordWriter(&buf).Write([]byte("payload")))
	data := buf.Bytes()
	data[headerSize] ^= 0xff

	_, err := NewRecordReader(bytes.NewReader(data)).Next()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func tensorBytes(t *testing.T, a *tensor.Array) []byte {
	t.Helper()
	b, err := a.MarshalProto()
	require.NoError(t, err)
	return b
}

func TestDecodeEvent(t *testing.T) {
	weights := tensorBytes(t, &tensor.Array{DType: tensor.Float32, Shape: []int{2}, Float: []float64{1, 2}})
	ev := &Event{
		WallTime: 1234.5,
		Step:     42,
		Values: []Value{
			{Tag: "w", Tensor: weights, HasMetadata: true, PluginName: "tensors", PluginContent: []byte("cfg")},
			{Tag: "no-meta", Tensor: weights},
		},
	}

	got, err := DecodeEvent(ev.Marshal())
	require.NoError(t, err)
	assert.Equal(t, 1234.5, got.WallTime)
	assert.Equal(t, int64(42), got.Step)
	require.Len(t, got.Values, 2)
	assert.Equal(t, ev.Values[0], got.Values[0])
	assert.False(t, got.Values[1].HasMetadata)
	assert.Equal(t, weights, got.Values[1].Tensor)
}

func TestDecodeEvent_SimpleValueMigration(t *testing.T) {
	got, err := DecodeEvent(RawSummaryEvent(1, 3, SimpleValue("loss", 0.5)))
	require.NoError(t, err)
	require.Len(t, got.Values, 1)

	v := got.Values[0]
	assert.Equal(t, "loss", v.Tag)
	assert.True(t, v.HasMetadata)
	assert.Equal(t, ScalarsPlugin, v.PluginName)

	arr, err := tensor.DecodeProto(v.Tensor)
	require.NoError(t, err)
	assert.Empty(t, arr.Shape)
	assert.Equal(t, []float64{0.5}, arr.Float)
}

func TestDecodeEvent_Malformed(t *testing.T) {
	_, err := DecodeEvent([]byte{0x2a, 0x05, 0x01})
	assert.ErrorIs(t, err, ErrBadEvent)
}

// logFixture writes tensor events into run directories below a temp root.
type logFixture struct {
	t       *testing.T
	root    string
	writers map[string]*Writer
}

func newLogFixture(t *testing.T) *logFixture {
	f := &logFixture{t: t, root: t.TempDir(), writers: make(map[string]*Writer)}
	t.Cleanup(func() {
		for _, w := range f.writers {
			_ = w.Close()
		}
	})
	return f
}

func (f *logFixture) writer(run string) *Writer {
	w, ok := f.writers[run]
	if !ok {
		var err error
		w, err = Create(filepath.Join(f.root, filepath.FromSlash(run)), "")
		require.NoError(f.t, err)
		f.writers[run] = w
	}
	return w
}

func (f *logFixture) write(run, tag, plugin string, step int64, v float64) {
	val := Value{
		Tag:    tag,
		Tensor: tensorBytes(f.t, &tensor.Array{DType: tensor.Float64, Shape: []int{}, Float: []float64{v}}),
	}
	if plugin != "" {
		val.HasMetadata = true
		val.PluginName = plugin
	}
	require.NoError(f.t, f.writer(run).WriteEvent(&Event{WallTime: float64(step), Step: step, Values: []Value{val}}))
}

func TestMultiplexer_Discovery(t *testing.T) {
	f := newLogFixture(t)
	f.write(".", "root_tag", "tensors", 0, 1)
	f.write("train", "w1", "tensors", 0, 1)
	f.write("train", "loss", "scalars", 0, 1)
	f.write("eval/nested", "w2", "tensors", 0, 1)
	f.write("other", "img", "images", 0, 1)
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "empty"), 0o755))

	m := New(f.root)
	defer m.Close()
	require.NoError(t, m.Reload(context.Background()))

	runs := m.Runs()
	assert.Len(t, runs, 4)
	assert.Equal(t, []string{"w1"}, runs["train"].Tags["tensors"])
	assert.Equal(t, []string{"loss"}, runs["train"].Tags["scalars"])
	assert.Contains(t, runs, ".")
	assert.Contains(t, runs, "eval/nested")
	assert.NotContains(t, runs, "empty")

	content, err := m.PluginRunToTagToContent("tensors")
	require.NoError(t, err)
	assert.Len(t, content, 3)
	assert.Contains(t, content["train"], "w1")
	assert.NotContains(t, content["train"], "loss")
	assert.NotContains(t, content, "other")

	last, err := m.LastReload()
	assert.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestMultiplexer_NotLoaded(t *testing.T) {
	f := newLogFixture(t)
	f.write("train", "w1", "tensors", 0, 1)

	m := New(f.root)
	defer m.Close()

	_, err := m.PluginRunToTagToContent("tensors")
	assert.ErrorIs(t, err, ErrNotLoaded)
	assert.ErrorIs(t, err, errors.ErrNotStarted)

	require.NoError(t, m.Reload(context.Background()))
	content, err := m.PluginRunToTagToContent("tensors")
	require.NoError(t, err)
	assert.Contains(t, content["train"], "w1")
}

func TestMultiplexer_FirstMetadataWins(t *testing.T) {
	f := newLogFixture(t)
	f.write("run", "t", "", 0, 1)
	f.write("run", "t", "tensors", 1, 2)
	f.write("run", "t", "scalars", 2, 3)

	m := New(f.root)
	defer m.Close()
	require.NoError(t, m.Reload(context.Background()))

	assert.Equal(t, []string{"t"}, m.Runs()["run"].Tags["tensors"])
	events, err := m.Tensors("run", "t")
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestMultiplexer_TensorsNotFound(t *testing.T) {
	f := newLogFixture(t)
	f.write("run", "t", "tensors", 0, 1)

	m := New(f.root)
	defer m.Close()
	require.NoError(t, m.Reload(context.Background()))

	_, err := m.Tensors("missing", "t")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.True(t, errors.IsNotFound(err))

	_, err = m.Tensors("run", "missing")
	assert.ErrorIs(t, err, ErrTagNotFound)
	assert.True(t, errors.IsNotFound(err))
}

func TestMultiplexer_IncrementalReload(t *testing.T) {
	f := newLogFixture(t)
	f.write("run", "t", "tensors", 0, 1)

	registry := metric.NewMetricsRegistry()
	m := New(f.root, WithMetrics(registry), WithWorkers(2))
	defer m.Close()
	require.NoError(t, m.Reload(context.Background()))

	f.write("run", "t", "tensors", 1, 2)
	f.write("run", "t", "tensors", 1, 3)
	require.NoError(t, m.Reload(context.Background()))
	require.NoError(t, m.Reload(context.Background()))

	events, err := m.Tensors("run", "t")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []int64{0, 1, 1}, []int64{events[0].Step, events[1].Step, events[2].Step})

	// The returned slice is a copy.
	events[0].Step = 99
	again, _ := m.Tensors("run", "t")
	assert.Equal(t, int64(0), again[0].Step)
}

func TestMultiplexer_TruncatedTail(t *testing.T) {
	f := newLogFixture(t)
	f.write("run", "t", "tensors", 0, 1)
	path := f.writer("run").Path()

	var frame bytes.Buffer
	ev := &Event{Step: 1, Values: []Value{{
		Tag:    "t",
		Tensor: tensorBytes(t, tensor.Scalar(2)),
	}}}
	require.NoError(t, NewRecordWriter(&frame).Write(ev.Marshal()))
	half := frame.Len() / 2

	appendBytes := func(b []byte) {
		fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
		require.NoError(t, err)
		_, err = fh.Write(b)
		require.NoError(t, err)
		require.NoError(t, fh.Close())
	}

	m := New(f.root)
	defer m.Close()

	appendBytes(frame.Bytes()[:half])
	require.NoError(t, m.Reload(context.Background()))
	events, err := m.Tensors("run", "t")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	appendBytes(frame.Bytes()[half:])
	require.NoError(t, m.Reload(context.Background()))
	events, err = m.Tensors("run", "t")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestMultiplexer_CorruptFileStopsAtDamage(t *testing.T) {
	f := newLogFixture(t)
	f.write("run", "t", "tensors", 0, 1)
	path := f.writer("run").Path()

	fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = fh.Write(bytes.Repeat([]byte{0xab}, 32))
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	m := New(f.root)
	defer m.Close()
	require.NoError(t, m.Reload(context.Background()))

	events, err := m.Tensors("run", "t")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestMultiplexer_MissingRoot(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "nope"))
	defer m.Close()

	err := m.Reload(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	_, last := m.LastReload()
	assert.Error(t, last)
	assert.Empty(t, m.Runs())
}

func TestMultiplexer_RemovedRun(t *testing.T) {
	f := newLogFixture(t)
	f.write("keep", "t", "tensors", 0, 1)
	f.write("drop", "t", "tensors", 0, 1)

	m := New(f.root)
	defer m.Close()
	require.NoError(t, m.Reload(context.Background()))
	require.Len(t, m.Runs(), 2)

	require.NoError(t, f.writers["drop"].Close())
	delete(f.writers, "drop")
	require.NoError(t, os.RemoveAll(filepath.Join(f.root, "drop")))

	require.NoError(t, m.Reload(context.Background()))
	assert.Len(t, m.Runs(), 1)
	_, err := m.Tensors("drop", "t")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestMultiplexer_Watch(t *testing.T) {
	f := newLogFixture(t)
	m := New(f.root)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx, 10*time.Millisecond) }()

	f.write("run", "t", "tensors", 0, 1)
	assert.Eventually(t, func() bool {
		_, err := m.Tensors("run", "t")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}

	assert.Error(t, m.Watch(context.Background(), 0))
}
