// ABOUTME: Readiness detection from server console output
// ABOUTME: Ready once every configured marker has appeared in the output

package supervisor

import "strings"

// ReadinessMatcher watches output lines for a set of markers. Markers may
// appear on the same line or across lines, in any order.
type ReadinessMatcher struct {
	markers []string
	seen    []bool
	ready   bool
}

// NewReadinessMatcher creates a matcher. With no markers it never fires.
func NewReadinessMatcher(markers []string) *ReadinessMatcher {
	return &ReadinessMatcher{
		markers: markers,
		seen:    make([]bool, len(markers)),
	}
}

// Observe records line and reports whether it completed the marker set.
// It returns true at most once.
func (m *ReadinessMatcher) Observe(line string) bool {
	if m.ready || len(m.markers) == 0 {
		return false
	}
	all := true
	for i, marker := range m.markers {
		if !m.seen[i] && strings.Contains(line, marker) {
			m.seen[i] = true
		}
		all = all && m.seen[i]
	}
	m.ready = all
	return all
}

// Ready reports whether every marker has been seen.
func (m *ReadinessMatcher) Ready() bool {
	return m.ready
}
