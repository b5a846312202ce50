// ABOUTME: Minimal server.properties reader for port and player limit
// ABOUTME: Malformed or missing values are left unset rather than zero

package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// PropertiesFile is the server's settings file, relative to the server dir.
const PropertiesFile = "server.properties"

// Properties are the settings the supervisor reports.
type Properties struct {
	Port       *int
	MaxPlayers *int
}

// ReadProperties reads path. A missing file yields empty Properties.
func ReadProperties(path string) (Properties, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Properties{}, nil
	}
	if err != nil {
		return Properties{}, fmt.Errorf("opening properties: %w", err)
	}
	defer f.Close()
	return ParseProperties(f)
}

// ParseProperties parses key=value lines, skipping # and ! comments.
func ParseProperties(r io.Reader) (Properties, error) {
	var props Properties
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == '!' {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			continue
		}
		switch strings.TrimSpace(key) {
		case "server-port":
			props.Port = &n
		case "max-players":
			props.MaxPlayers = &n
		}
	}
	if err := scanner.Err(); err != nil {
		return props, fmt.Errorf("reading properties: %w", err)
	}
	return props, nil
}
