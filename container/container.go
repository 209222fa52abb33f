// Package container reads per-layer weight snapshots from keyed binary
// containers. A container holds, for each layer group, kernel and bias
// datasets keyed by training step:
//
//	<layer>/kernel/<step>
//	<layer>/bias/<step>
//
// Stores are opened read-only for the duration of one request and must be
// closed by the caller.
package container

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/tensorscope/errors"
	"github.com/c360/tensorscope/tensor"
)

// Kind selects the dataset family within a group.
type Kind string

// Dataset families.
const (
	Kernel Kind = "kernel"
	Bias   Kind = "bias"
)

// ErrUnsupportedFormat reports a path whose extension has no backend.
var ErrUnsupportedFormat = stderrors.New("unsupported container format")

// Store is an open weight container.
type Store interface {
	// Groups lists layer groups in the container's native order.
	Groups() []string

	// Lookup returns the dataset for step. ok is false when no dataset
	// exists for that step; err is set when one exists but cannot be decoded.
	Lookup(group string, kind Kind, step int64) (arr *tensor.Array, ok bool, err error)

	Close() error
}

// Open opens the container at path, picking a backend by file extension.
//
// A missing file is classified as not found and an unsupported extension as
// invalid. A file whose index cannot be read wraps errors.ErrIO.
func Open(path string) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors", ".st":
		return openSafetensors(path)
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w %q: %w", ErrUnsupportedFormat, filepath.Ext(path), errors.ErrBadRequest),
			"container", "Open", "select backend")
	}
}

func openError(err error, action string) error {
	if stderrors.Is(err, fs.ErrNotExist) {
		return errors.WrapNotFound(fmt.Errorf("%w: %w", errors.ErrNotFound, err), "container", "Open", action)
	}
	return errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrIO, err), "container", "Open", action)
}

// splitKey parses "<layer>/<kind>/<step>". A leading slash is ignored and the
// layer may itself contain slashes.
func splitKey(key string) (group string, kind Kind, step string, ok bool) {
	key = strings.TrimPrefix(key, "/")
	i := strings.LastIndexByte(key, '/')
	if i <= 0 {
		return "", "", "", false
	}
	step = key[i+1:]
	rest := key[:i]
	j := strings.LastIndexByte(rest, '/')
	if j <= 0 || step == "" {
		return "", "", "", false
	}
	kind = Kind(rest[j+1:])
	if kind != Kernel && kind != Bias {
		return "", "", "", false
	}
	return rest[:j], kind, step, true
}

// openReadOnly opens path read-only and returns its size.
func openReadOnly(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, openError(err, "open file")
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, openError(err, "stat file")
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, 0, openError(fmt.Errorf("%s is a directory", path), "open file")
	}
	return f, info.Size(), nil
}
