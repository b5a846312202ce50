// ABOUTME: Entry point for dashblock-agent, the supervisor running beside a game server
// ABOUTME: "run" connects to the hub and manages the server; "check" validates an install

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/2389/dashblock/internal/agentconfig"
	"github.com/2389/dashblock/internal/logging"
	"github.com/2389/dashblock/internal/relayclient"
	"github.com/2389/dashblock/internal/supervisor"
)

// Version is set by goreleaser at build time.
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return errors.New("no command given")
	}

	switch args[0] {
	case "run":
		return runAgent(args[1:])
	case "check":
		return runCheck(args[1:], os.Stdout)
	case "version", "--version":
		fmt.Println("dashblock-agent", version)
		return nil
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: dashblock-agent <command> [--config PATH]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run      Connect to the hub and supervise the server")
	fmt.Fprintln(w, "  check    Validate the config and server directory")
	fmt.Fprintln(w, "  version  Print the version")
}

// parseConfigFlag parses the flags shared by every subcommand.
func parseConfigFlag(name string, args []string) (string, error) {
	var configPath string
	flagSet := pflag.NewFlagSet("dashblock-agent "+name, pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", agentconfig.DefaultPath(), "path to agent.toml")
	if err := flagSet.Parse(args); err != nil {
		return "", err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return "", fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return configPath, nil
}

func runAgent(args []string) error {
	configPath, err := parseConfigFlag("run", args)
	if err != nil {
		return err
	}

	cfg, err := agentconfig.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

	addr, schemeTLS, err := relayclient.ParseRelayURL(cfg.RelayURL)
	if err != nil {
		return err
	}

	client := relayclient.New(relayclient.Options{
		Addr:           addr,
		AgentKey:       cfg.AgentKey,
		TLS:            cfg.Relay.TLS || schemeTLS,
		ReconnectDelay: cfg.Relay.ReconnectDelay.Std(),
		Logger:         logger.With("component", "relay"),
	})

	sup, err := supervisor.New(supervisor.ConfigFrom(cfg), supervisor.Options{
		Reporter: client,
		Logger:   logger.With("component", "supervisor"),
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting dashblock-agent",
		"version", version,
		"config", configPath,
		"relay", addr,
		"server_path", cfg.ServerPath,
	)

	probeDone := make(chan struct{})
	go func() {
		defer close(probeDone)
		sup.Run(ctx)
	}()

	err = client.Run(ctx, sup)
	cancel()
	<-probeDone
	return err
}

// runCheck validates what an install needs before the agent is started.
// Failures are returned as errors so the message reaches stderr.
func runCheck(args []string, out io.Writer) error {
	configPath, err := parseConfigFlag("check", args)
	if err != nil {
		return err
	}

	cfg, err := agentconfig.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "config:   %s\n", configPath)

	if _, _, err := relayclient.ParseRelayURL(cfg.RelayURL); err != nil {
		return err
	}
	fmt.Fprintf(out, "relay:    %s\n", cfg.RelayURL)

	info, err := os.Stat(cfg.ServerPath)
	if err != nil {
		return fmt.Errorf("server_path %s: %w", cfg.ServerPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("server_path %s is not a directory", cfg.ServerPath)
	}
	fmt.Fprintf(out, "server:   %s\n", cfg.ServerPath)

	// An empty server directory is fine at install time; start reports it.
	plan, err := supervisor.PlanLaunch(supervisor.ConfigFrom(cfg))
	switch {
	case errors.Is(err, supervisor.ErrNoLaunchTarget):
		fmt.Fprintf(out, "launch:   none yet (warning: %v)\n", err)
	case err != nil:
		return fmt.Errorf("cannot launch server: %w", err)
	default:
		fmt.Fprintf(out, "launch:   %s\n", plan)
		fmt.Fprintf(out, "variant:  %s\n", plan.Variant)
	}

	props, err := supervisor.ReadProperties(filepath.Join(cfg.ServerPath, supervisor.PropertiesFile))
	if err != nil {
		return err
	}
	if props.Port != nil {
		fmt.Fprintf(out, "port:     %d\n", *props.Port)
	}
	if props.MaxPlayers != nil {
		fmt.Fprintf(out, "players:  %d max\n", *props.MaxPlayers)
	}

	fmt.Fprintln(out, "ok")
	return nil
}
