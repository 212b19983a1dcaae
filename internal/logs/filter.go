package logs

import (
	"encoding/json"
	"strings"
)

// Filter selects log records. The zero Filter matches every line.
type Filter struct {
	RunID    string
	MinLevel string // debug, info, warn, or error
}

func (f Filter) empty() bool {
	return strings.TrimSpace(f.RunID) == "" && strings.TrimSpace(f.MinLevel) == ""
}

// Match reports whether a log line passes the filter. Lines that are not
// JSON records only pass the zero Filter.
func (f Filter) Match(line string) bool {
	if f.empty() {
		return true
	}
	var record struct {
		Level string `json:"level"`
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return false
	}
	if id := strings.TrimSpace(f.RunID); id != "" && record.RunID != id {
		return false
	}
	if level := strings.TrimSpace(f.MinLevel); level != "" && levelRank(record.Level) < levelRank(level) {
		return false
	}
	return true
}

func levelRank(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return 0
	case "warn", "warning":
		return 2
	case "error":
		return 3
	default:
		return 1
	}
}
