package container

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/c360/tensorscope/errors"
	"github.com/c360/tensorscope/tensor"
)

const (
	safetensorsMetadataKey = "__metadata__"
	maxHeaderSize          = 100 << 20
)

type stEntry struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// safetensorsStore reads datasets lazily from an open file.
type safetensorsStore struct {
	f        *os.File
	dataBase int64
	groups   []string
	index    map[string]map[Kind]map[string]stEntry
}

func openSafetensors(path string) (*safetensorsStore, error) {
	f, size, err := openReadOnly(path)
	if err != nil {
		return nil, err
	}
	s, err := parseSafetensors(f, size)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	s.f = f
	return s, nil
}

func parseSafetensors(r io.ReaderAt, size int64) (*safetensorsStore, error) {
	var lenBuf [8]byte
	if _, err := r.ReadAt(lenBuf[:], 0); err != nil {
		return nil, openError(fmt.Errorf("read header length: %w", err), "read header")
	}
	headerLen := binary.LittleEndian.Uint64(lenBuf[:])
	if headerLen > maxHeaderSize || int64(headerLen) > size-8 {
		return nil, openError(fmt.Errorf("header length %d exceeds file size %d", headerLen, size), "read header")
	}

	header := make([]byte, headerLen)
	if _, err := r.ReadAt(header, 8); err != nil {
		return nil, openError(err, "read header")
	}

	s := &safetensorsStore{
		dataBase: 8 + int64(headerLen),
		index:    make(map[string]map[Kind]map[string]stEntry),
	}
	dataLen := size - s.dataBase

	err := decodeOrderedObject(header, func(key string, raw json.RawMessage) error {
		if key == safetensorsMetadataKey {
			return nil
		}
		var e stEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("entry %q: %w", key, err)
		}
		if len(e.DataOffsets) != 2 || e.DataOffsets[0] < 0 || e.DataOffsets[1] < e.DataOffsets[0] {
			return fmt.Errorf("entry %q: bad data_offsets %v", key, e.DataOffsets)
		}
		if e.DataOffsets[1] > dataLen {
			return fmt.Errorf("entry %q: data_offsets %v overrun %d data bytes", key, e.DataOffsets, dataLen)
		}
		s.add(key, e)
		return nil
	})
	if err != nil {
		return nil, openError(err, "parse header")
	}
	return s, nil
}

func (s *safetensorsStore) add(key string, e stEntry) {
	group, kind, step, ok := splitKey(key)
	if !ok {
		return
	}
	kinds, ok := s.index[group]
	if !ok {
		kinds = make(map[Kind]map[string]stEntry, 2)
		s.index[group] = kinds
		s.groups = append(s.groups, group)
	}
	steps, ok := kinds[kind]
	if !ok {
		steps = make(map[string]stEntry)
		kinds[kind] = steps
	}
	steps[step] = e
}

// decodeOrderedObject walks a JSON object in document order.
func decodeOrderedObject(b []byte, fn func(key string, raw json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("header is not a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("entry %q: %w", key, err)
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}

func (s *safetensorsStore) Groups() []string {
	return append([]string(nil), s.groups...)
}

func (s *safetensorsStore) Lookup(group string, kind Kind, step int64) (*tensor.Array, bool, error) {
	e, ok := s.index[group][kind][strconv.FormatInt(step, 10)]
	if !ok {
		return nil, false, nil
	}

	if s.f == nil {
		return nil, true, errors.WrapFatal(fmt.Errorf("%w: store closed", errors.ErrIO),
			"container", "Lookup", "read dataset")
	}
	dtype, err := tensor.ParseDType(e.DType)
	if err != nil {
		return nil, true, s.decodeError(group, kind, step, err)
	}
	raw := make([]byte, e.DataOffsets[1]-e.DataOffsets[0])
	if _, err := s.f.ReadAt(raw, s.dataBase+e.DataOffsets[0]); err != nil {
		return nil, true, errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrIO, err),
			"container", "Lookup", "read dataset")
	}
	arr, err := tensor.FromRaw(dtype, e.Shape, raw)
	if err != nil {
		return nil, true, s.decodeError(group, kind, step, err)
	}
	return arr, true, nil
}

func (s *safetensorsStore) decodeError(group string, kind Kind, step int64, err error) error {
	return errors.WrapInvalid(
		fmt.Errorf("%s/%s/%d: %w: %w", group, kind, step, errors.ErrDecode, err),
		"container", "Lookup", "decode dataset")
}

func (s *safetensorsStore) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
