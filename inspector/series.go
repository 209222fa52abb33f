package inspector

import (
	"fmt"

	"github.com/c360/tensorscope/errors"
	"github.com/c360/tensorscope/tensor"
)

// TensorSeries is the decoded history of one tag.
type TensorSeries struct {
	Tag   string       `json:"tag"`
	Steps tensor.Steps `json:"steps"`
}

// GetSeries decodes every recorded value of tag in run, keyed by step. When
// a step repeats, the later event wins. Events whose payload cannot be
// decoded are left out and counted.
func (s *Service) GetSeries(run, tag string) (*TensorSeries, error) {
	if run == "" || tag == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("run and tag are required: %w", errors.ErrBadRequest),
			"Service", "GetSeries", "validate input")
	}
	if s.mux == nil {
		return nil, s.seriesNotFound(run, tag, nil)
	}

	events, err := s.mux.Tensors(run, tag)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, s.seriesNotFound(run, tag, err)
		}
		return nil, errors.Wrap(err, "Service", "GetSeries", "read events")
	}
	if len(events) == 0 {
		return nil, s.seriesNotFound(run, tag, nil)
	}

	series := &TensorSeries{Tag: tag, Steps: make(tensor.Steps, len(events))}
	skipped := 0
	for _, ev := range events {
		arr, err := tensor.DecodeProto(ev.TensorProto)
		if err != nil {
			skipped++
			s.logger.Debug("Undecodable tensor event", "run", run, "tag", tag, "step", ev.Step, "error", err)
			continue
		}
		series.Steps[ev.Step] = arr
	}

	if skipped > 0 {
		s.metrics.RecordDecodeSkipped("series", skipped)
		s.logger.Warn("Omitted undecodable steps from series",
			"run", run, "tag", tag, "skipped", skipped, "returned", len(series.Steps))
	}
	return series, nil
}

func (s *Service) seriesNotFound(run, tag string, cause error) error {
	err := fmt.Errorf("no data for run %q tag %q: %w", run, tag, errors.ErrNotFound)
	if cause != nil {
		err = fmt.Errorf("%w (%w)", err, cause)
	}
	return errors.WrapNotFound(err, "Service", "GetSeries", "lookup series")
}
