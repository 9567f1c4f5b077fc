package config

// Layer names the five overlay levels merged by Merge, in the order they
// apply: project → framework → PRD-set → PRD → phase.
type Layer int

const (
	LayerProject Layer = iota
	LayerFramework
	LayerPRDSet
	LayerPRD
	LayerPhase
)

// Merge deep-merges overlays in ascending Layer order (later layers win on
// scalar fields). A fixed set of array fields — framework.rules,
// codebase.searchDirs, codebase.excludeDirs, codebase.ignoreGlobs,
// hooks.preTest, hooks.postApply — are unioned (de-duplicated, order
// preserved); every other slice is replaced wholesale by the last layer that
// sets it.
func Merge(layers ...*Config) *Config {
	result := DefaultConfig()
	for _, l := range layers {
		if l == nil {
			continue
		}
		mergeInto(result, l)
	}
	return result
}

func mergeInto(dst, src *Config) {
	if src.MaxRetries != 0 {
		dst.MaxRetries = src.MaxRetries
	}
	if src.TaskMasterConfig.TasksPath != "" {
		dst.TaskMasterConfig.TasksPath = src.TaskMasterConfig.TasksPath
	}
	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}
	if src.IPC.SessionManagement.MaxSessionAge != 0 {
		dst.IPC.SessionManagement.MaxSessionAge = src.IPC.SessionManagement.MaxSessionAge
	}
	if src.IPC.SessionManagement.MaxHistoryItems != 0 {
		dst.IPC.SessionManagement.MaxHistoryItems = src.IPC.SessionManagement.MaxHistoryItems
	}

	dst.Framework.Rules = unionStrings(dst.Framework.Rules, src.Framework.Rules)
	if len(src.Framework.ErrorPathPatterns) > 0 {
		dst.Framework.ErrorPathPatterns = append([]string(nil), src.Framework.ErrorPathPatterns...)
	}
	if len(src.Framework.ErrorGuidance) > 0 {
		if dst.Framework.ErrorGuidance == nil {
			dst.Framework.ErrorGuidance = make(map[string]string, len(src.Framework.ErrorGuidance))
		}
		for k, v := range src.Framework.ErrorGuidance {
			dst.Framework.ErrorGuidance[k] = v
		}
	}

	dst.Codebase.SearchDirs = unionStrings(dst.Codebase.SearchDirs, src.Codebase.SearchDirs)
	dst.Codebase.ExcludeDirs = unionStrings(dst.Codebase.ExcludeDirs, src.Codebase.ExcludeDirs)
	dst.Codebase.IgnoreGlobs = unionStrings(dst.Codebase.IgnoreGlobs, src.Codebase.IgnoreGlobs)

	dst.Hooks.PreTest = unionStrings(dst.Hooks.PreTest, src.Hooks.PreTest)
	dst.Hooks.PostApply = unionStrings(dst.Hooks.PostApply, src.Hooks.PostApply)

	if src.Monitor.PollingInterval != 0 {
		dst.Monitor.PollingInterval = src.Monitor.PollingInterval
	}
	if src.Monitor.MaxPerHour != 0 {
		dst.Monitor.MaxPerHour = src.Monitor.MaxPerHour
	}
	if len(src.Monitor.Thresholds) > 0 {
		dst.Monitor.Thresholds = append([]MonitorThreshold(nil), src.Monitor.Thresholds...)
	}

	if src.Logging.DebugMode {
		dst.Logging.DebugMode = true
	}
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.JSONFormat {
		dst.Logging.JSONFormat = true
	}
	if len(src.Logging.Categories) > 0 {
		if dst.Logging.Categories == nil {
			dst.Logging.Categories = make(map[string]bool, len(src.Logging.Categories))
		}
		for k, v := range src.Logging.Categories {
			dst.Logging.Categories[k] = v
		}
	}
}

// unionStrings appends elements of b not already present in a, preserving
// the order of a followed by the new elements of b.
func unionStrings(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a))
	out := append([]string(nil), a...)
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
