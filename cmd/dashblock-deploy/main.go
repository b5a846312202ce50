// ABOUTME: One-shot CLI that installs dashblock-agent on a remote host over SSH
// ABOUTME: Runs the same orchestrator as the hub's /internal/deploy endpoint

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/dashblock/internal/deploy"
	"github.com/2389/dashblock/internal/logging"
)

// PassphraseEnv names the variable holding the private key passphrase, so
// it never appears in the process list.
const PassphraseEnv = "DASHBLOCK_SSH_PASSPHRASE"

type options struct {
	host        string
	port        int
	user        string
	keyFile     string
	serverPath  string
	agentKey    string
	relayURL    string
	agentBinary string
	knownHosts  string
	runtime     string
	timeout     time.Duration
	jsonOutput  bool
	logLevel    string
}

func main() {
	ok, err := run(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if !ok {
		os.Exit(1)
	}
}

func parseFlags(args []string) (*options, error) {
	var o options
	flagSet := pflag.NewFlagSet("dashblock-deploy", pflag.ContinueOnError)
	flagSet.StringVar(&o.host, "host", "", "remote host (required)")
	flagSet.IntVarP(&o.port, "port", "p", deploy.DefaultSSHPort, "SSH port")
	flagSet.StringVarP(&o.user, "user", "u", "", "SSH username (required)")
	flagSet.StringVarP(&o.keyFile, "identity", "i", "", "private key file (required); passphrase from $"+PassphraseEnv)
	flagSet.StringVar(&o.serverPath, "server-path", "", "game server directory on the remote host (required)")
	flagSet.StringVar(&o.agentKey, "agent-key", "", "agent key from 'dashblock-hub server add' (required)")
	flagSet.StringVar(&o.relayURL, "relay-url", "", "hub address as reachable from the remote host (required)")
	flagSet.StringVar(&o.agentBinary, "agent-binary", "dashblock-agent", "local dashblock-agent build to install")
	flagSet.StringVar(&o.knownHosts, "known-hosts", "", "known_hosts file for host key checking (default: accept any key)")
	flagSet.StringVar(&o.runtime, "runtime", "java", "runtime the server needs, probed before installing")
	flagSet.DurationVar(&o.timeout, "timeout", 15*time.Second, "SSH dial timeout")
	flagSet.BoolVar(&o.jsonOutput, "json", false, "print the result as JSON")
	flagSet.StringVar(&o.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	required := []struct{ name, value string }{
		{"host", o.host},
		{"user", o.user},
		{"identity", o.keyFile},
		{"server-path", o.serverPath},
		{"agent-key", o.agentKey},
		{"relay-url", o.relayURL},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, fmt.Errorf("--%s is required", r.name)
		}
	}
	return &o, nil
}

// request builds the deploy request, reading the key file and passphrase.
func (o *options) request() (deploy.Request, error) {
	key, err := os.ReadFile(o.keyFile)
	if err != nil {
		return deploy.Request{}, fmt.Errorf("reading identity: %w", err)
	}
	var passphrase []byte
	if p := os.Getenv(PassphraseEnv); p != "" {
		passphrase = []byte(p)
	}
	return deploy.Request{
		Host:       o.host,
		Port:       o.port,
		Username:   o.user,
		PrivateKey: key,
		Passphrase: passphrase,
		ServerPath: o.serverPath,
		AgentKey:   o.agentKey,
		RelayURL:   o.relayURL,
	}, nil
}

// run deploys and reports whether the deployment succeeded. An error means
// the deployment never started.
func run(args []string, out io.Writer) (bool, error) {
	o, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	if _, err := os.Stat(o.agentBinary); err != nil {
		return false, fmt.Errorf("agent binary: %w", err)
	}
	req, err := o.request()
	if err != nil {
		return false, err
	}

	logger := logging.New(os.Stderr, o.logLevel, "text")
	orchestrator := deploy.New(deploy.Options{
		Dialer: &deploy.SSHDialer{
			KnownHostsFile: o.knownHosts,
			Timeout:        o.timeout,
			Logger:         logger,
		},
		AgentBinary: o.agentBinary,
		Runtime:     o.runtime,
		Logger:      logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result := orchestrator.Deploy(ctx, req)
	return result.Success, printResult(out, result, o.jsonOutput)
}

func printResult(out io.Writer, result deploy.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if result.Success {
		color.New(color.FgGreen).Fprintf(out, "  ✓ %s\n", result.Message)
		if result.AgentPath != "" {
			fmt.Fprintf(out, "  Agent: %s\n", result.AgentPath)
		}
		return nil
	}
	color.New(color.FgRed, color.Bold).Fprintln(out, "  ✗ deployment failed")
	fmt.Fprintln(out, result.Message)
	return nil
}
