package inspector

import (
	"sort"
)

// ListRuns maps every run with at least one tag in the plugin namespace to
// its tag names, sorted. A missing or failing multiplexer yields an empty map.
func (s *Service) ListRuns() map[string][]string {
	runs := make(map[string][]string)
	if s.mux == nil {
		return runs
	}

	content, err := s.mux.PluginRunToTagToContent(s.pluginName)
	if err != nil {
		s.logger.Warn("Run discovery failed", "plugin", s.pluginName, "error", err)
		return runs
	}
	for run, tags := range content {
		if len(tags) == 0 {
			continue
		}
		names := make([]string, 0, len(tags))
		for tag := range tags {
			names = append(names, tag)
		}
		sort.Strings(names)
		runs[run] = names
	}
	return runs
}

// Metadata describes the plugin to a dashboard frontend.
type Metadata struct {
	PluginName   string `json:"plugin_name"`
	ESModulePath string `json:"es_module_path"`
	Active       bool   `json:"active"`
}

// IsActive reports whether any run carries data for the plugin.
func (s *Service) IsActive() bool {
	return len(s.ListRuns()) > 0
}

// Metadata returns the plugin's frontend metadata.
func (s *Service) Metadata() Metadata {
	return Metadata{
		PluginName:   s.pluginName,
		ESModulePath: ESModulePath,
		Active:       s.IsActive(),
	}
}
