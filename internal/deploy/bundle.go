// ABOUTME: Builds the gzip-compressed tar bundle shipped to managed hosts
// ABOUTME: Contains the agent binary and a MANIFEST describing it

package deploy

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
)

const (
	// AgentBinaryName is the file name of the agent inside the install dir.
	AgentBinaryName = "dashblock-agent"
	// ManifestName is the bundle's manifest file.
	ManifestName = "MANIFEST"
)

// Manifest describes the bundled agent binary.
type Manifest struct {
	Binary    string    `json:"binary"`
	SHA256    string    `json:"sha256"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// BuildBundle reads the agent binary at binaryPath and returns a .tar.gz
// holding it and its manifest.
func BuildBundle(binaryPath string, now time.Time) ([]byte, *Manifest, error) {
	data, err := os.ReadFile(binaryPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading agent binary: %w", err)
	}

	sum := sha256.Sum256(data)
	manifest := &Manifest{
		Binary:    AgentBinaryName,
		SHA256:    hex.EncodeToString(sum[:]),
		Size:      int64(len(data)),
		CreatedAt: now.UTC(),
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encoding manifest: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	files := []struct {
		name string
		mode int64
		data []byte
	}{
		{AgentBinaryName, 0o755, data},
		{ManifestName, 0o644, append(manifestJSON, '\n')},
	}
	for _, f := range files {
		if err := addFile(tw, f.name, f.mode, f.data, now); err != nil {
			return nil, nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, nil, fmt.Errorf("closing tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return buf.Bytes(), manifest, nil
}

func addFile(tw *tar.Writer, name string, mode int64, data []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    mode,
		Size:    int64(len(data)),
		ModTime: modTime,
		Format:  tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("writing %s to tar: %w", name, err)
	}
	return nil
}

// ReadBundle lists the files in a bundle built by BuildBundle.
func ReadBundle(r io.Reader) (map[string][]byte, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	files := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return files, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar entry: %w", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", hdr.Name, err)
		}
		files[hdr.Name] = data
	}
}
