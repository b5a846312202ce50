// ABOUTME: systemd unit rendering for the privileged install path
// ABOUTME: The unit restarts the agent on crash after a fixed delay

package deploy

import (
	"bytes"
	"fmt"
	"text/template"
)

// ServiceName is the systemd unit name used on managed hosts.
const ServiceName = "dashblock-agent"

// UnitPath is where the unit file is written.
const UnitPath = "/etc/systemd/system/" + ServiceName + ".service"

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=dashblock agent supervising {{.ServerPath}}
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User={{.User}}
WorkingDirectory={{.InstallDir}}
ExecStart={{.InstallDir}}/` + AgentBinaryName + ` run --config {{.InstallDir}}/agent.toml
Restart=always
RestartSec={{.RestartSec}}

[Install]
WantedBy=multi-user.target
`))

// UnitParams fills the unit template.
type UnitParams struct {
	User       string
	InstallDir string
	ServerPath string
	RestartSec int
}

// RenderUnit returns the systemd unit text.
func RenderUnit(p UnitParams) (string, error) {
	if p.RestartSec == 0 {
		p.RestartSec = 10
	}
	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("rendering unit: %w", err)
	}
	return buf.String(), nil
}
