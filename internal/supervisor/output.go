// ABOUTME: Extracts version and player presence from server console lines
// ABOUTME: Player tracking is by name so repeated join lines do not double count

package supervisor

import "regexp"

var (
	versionPattern = regexp.MustCompile(`Starting minecraft server version (\S+)`)
	joinedPattern  = regexp.MustCompile(`(\w+) joined the game`)
	leftPattern    = regexp.MustCompile(`(\w+) left the game`)
)

// consoleState accumulates facts read from the server's output.
type consoleState struct {
	version string
	players map[string]struct{}
}

func newConsoleState() *consoleState {
	return &consoleState{players: make(map[string]struct{})}
}

// observe updates state from line and reports whether the player count changed.
func (c *consoleState) observe(line string) bool {
	if m := versionPattern.FindStringSubmatch(line); m != nil {
		c.version = m[1]
		return false
	}
	if m := joinedPattern.FindStringSubmatch(line); m != nil {
		if _, ok := c.players[m[1]]; !ok {
			c.players[m[1]] = struct{}{}
			return true
		}
		return false
	}
	if m := leftPattern.FindStringSubmatch(line); m != nil {
		if _, ok := c.players[m[1]]; ok {
			delete(c.players, m[1])
			return true
		}
	}
	return false
}

func (c *consoleState) playerCount() int {
	return len(c.players)
}
