package inspector

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/c360/tensorscope/container"
	"github.com/c360/tensorscope/errors"
	"github.com/c360/tensorscope/tensor"
)

// WeightQuery selects a window of steps from a weight container.
type WeightQuery struct {
	Path          string
	Cursor        int64
	Limit         int64
	IncludeKernel bool
	IncludeBias   bool
}

// StepSeries holds one dataset family of a layer, keyed by step.
type StepSeries struct {
	Steps tensor.Steps `json:"steps"`
}

// WeightBundle is the kernel and bias history of one layer.
type WeightBundle struct {
	Name   string     `json:"name"`
	Kernel StepSeries `json:"kernel"`
	Bias   StepSeries `json:"bias"`
}

// GetWeights reads steps [Cursor, Cursor+Limit) for every layer of the
// container at q.Path, in the container's own group order. Steps a layer
// does not have are omitted; steps that fail to decode are omitted and
// counted. The container is closed before GetWeights returns.
func (s *Service) GetWeights(ctx context.Context, q WeightQuery) ([]WeightBundle, error) {
	if q.Path == "" {
		return nil, badWeightQuery("path is required")
	}
	if q.Cursor < 0 {
		return nil, badWeightQuery(fmt.Sprintf("cursor must be >= 0, got %d", q.Cursor))
	}
	if q.Limit <= 0 {
		return nil, badWeightQuery(fmt.Sprintf("limit must be > 0, got %d", q.Limit))
	}

	path, err := s.resolveWeightsPath(q.Path)
	if err != nil {
		return nil, err
	}

	store, err := s.open(path)
	if err != nil {
		s.metrics.RecordContainerOpen(openResult(err), 0)
		return nil, errors.Wrap(err, "Service", "GetWeights", "open container")
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			s.logger.Warn("Closing weight container failed", "path", path, "error", cerr)
		}
	}()

	groups := store.Groups()
	s.metrics.RecordContainerOpen("ok", len(groups))

	end := q.Cursor + q.Limit
	if end < q.Cursor { // overflow
		end = math.MaxInt64
	}

	bundles := make([]WeightBundle, 0, len(groups))
	skipped := 0
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return nil, errors.WrapTransient(err, "Service", "GetWeights", "read groups")
		}

		b := WeightBundle{
			Name:   group,
			Kernel: StepSeries{Steps: tensor.Steps{}},
			Bias:   StepSeries{Steps: tensor.Steps{}},
		}
		for step := q.Cursor; step < end; step++ {
			if q.IncludeKernel {
				skipped += s.lookupInto(store, group, container.Kernel, step, b.Kernel.Steps)
			}
			if q.IncludeBias {
				skipped += s.lookupInto(store, group, container.Bias, step, b.Bias.Steps)
			}
		}
		bundles = append(bundles, b)
	}

	if skipped > 0 {
		s.metrics.RecordDecodeSkipped("weights", skipped)
		s.logger.Warn("Omitted undecodable weight datasets",
			"path", path, "cursor", q.Cursor, "limit", q.Limit, "skipped", skipped)
	}
	return bundles, nil
}

// lookupInto stores the dataset for step in dst when present. It returns 1
// if the dataset exists but could not be decoded.
func (s *Service) lookupInto(store container.Store, group string, kind container.Kind, step int64, dst tensor.Steps) int {
	arr, ok, err := store.Lookup(group, kind, step)
	if !ok {
		return 0
	}
	if err != nil {
		s.logger.Debug("Undecodable weight dataset",
			"group", group, "kind", kind, "step", step, "error", err)
		return 1
	}
	dst[step] = arr
	return 0
}

// resolveWeightsPath applies the weights root, if any. Paths outside the
// root are reported as not found.
func (s *Service) resolveWeightsPath(p string) (string, error) {
	if s.weightsRoot == "" {
		return filepath.Clean(p), nil
	}

	root, err := filepath.Abs(s.weightsRoot)
	if err != nil {
		return "", errors.WrapFatal(err, "Service", "GetWeights", "resolve weights root")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.WrapNotFound(
			fmt.Errorf("container %w", errors.ErrNotFound),
			"Service", "GetWeights", "resolve path")
	}
	return p, nil
}

func badWeightQuery(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%s: %w", msg, errors.ErrBadRequest),
		"Service", "GetWeights", "validate query")
}

func openResult(err error) string {
	switch {
	case errors.IsNotFound(err):
		return "not_found"
	case errors.IsInvalid(err):
		return "invalid"
	default:
		return "error"
	}
}
