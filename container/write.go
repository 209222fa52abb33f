package container

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/c360/tensorscope/tensor"
)

// Entry is one dataset to write. Key follows the <layer>/<kind>/<step> layout.
type Entry struct {
	Key   string
	Array *tensor.Array
}

// KernelKey returns the dataset key for a layer's kernel at step.
func KernelKey(layer string, step int64) string {
	return layer + "/" + string(Kernel) + "/" + strconv.FormatInt(step, 10)
}

// BiasKey returns the dataset key for a layer's bias at step.
func BiasKey(layer string, step int64) string {
	return layer + "/" + string(Bias) + "/" + strconv.FormatInt(step, 10)
}

// WriteSafetensors writes entries in order as a safetensors file. Header
// order is preserved, so readers see groups in the order given.
func WriteSafetensors(w io.Writer, entries []Entry) error {
	var (
		header bytes.Buffer
		data   bytes.Buffer
	)
	header.WriteByte('{')
	for i, e := range entries {
		raw, err := e.Array.Raw()
		if err != nil {
			return fmt.Errorf("entry %q: %w", e.Key, err)
		}
		start := int64(data.Len())
		data.Write(raw)

		key, err := json.Marshal(e.Key)
		if err != nil {
			return err
		}
		meta, err := json.Marshal(stEntry{
			DType:       e.Array.DType.Tag(),
			Shape:       append([]int{}, e.Array.Shape...),
			DataOffsets: []int64{start, int64(data.Len())},
		})
		if err != nil {
			return err
		}
		if i > 0 {
			header.WriteByte(',')
		}
		header.Write(key)
		header.WriteByte(':')
		header.Write(meta)
	}
	header.WriteByte('}')

	// Pad the header so the data section starts 8-byte aligned.
	for header.Len()%8 != 0 {
		header.WriteByte(' ')
	}

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(header.Len()))
	for _, b := range [][]byte{lenBuf[:], header.Bytes(), data.Bytes()} {
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

// CreateSafetensors writes entries to a new file at path.
func CreateSafetensors(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteSafetensors(f, entries); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
