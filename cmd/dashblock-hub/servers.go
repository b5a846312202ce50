// ABOUTME: Admin subcommands for server records, client tokens and lifecycle commands
// ABOUTME: Server records are edited directly in the hub database

package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/dashblock/internal/auth"
	"github.com/2389/dashblock/internal/protocol"
	"github.com/2389/dashblock/internal/store"
)

// parseArgs splits args into named flag values and positionals. Both
// "--name value" and "--name=value" are accepted; only names in flags are
// allowed.
func parseArgs(args []string, flags map[string]*string) ([]string, error) {
	var positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			positional = append(positional, arg)
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		dst, ok := flags[name]
		if !ok {
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		*dst = value
	}
	return positional, nil
}

// newAgentKey returns a random secret suitable for an agent key.
func newAgentKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating agent key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func openStore() (*store.SQLiteStore, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

func runServer(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: dashblock-hub server add|list|rm")
	}
	switch args[0] {
	case "add":
		return runServerAdd(ctx, args[1:])
	case "list", "ls":
		return runServerList(ctx)
	case "rm", "remove":
		return runServerRemove(ctx, args[1:])
	default:
		return fmt.Errorf("unknown server subcommand: %s", args[0])
	}
}

func runServerAdd(ctx context.Context, args []string) error {
	var name, id string
	rest, err := parseArgs(args, map[string]*string{"name": &name, "id": &id})
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("--name flag is required")
	}
	if id == "" {
		id = uuid.NewString()
	}

	key, err := newAgentKey()
	if err != nil {
		return err
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.CreateServer(ctx, &store.Server{ID: id, Name: name, AgentKey: key}); err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Printf("  ✓ Registered server %q\n", name)
	fmt.Printf("  ID:        %s\n", id)
	fmt.Printf("  Agent key: %s\n", key)
	fmt.Println()
	yellow.Println("  The agent key is shown once. Put it in the agent's agent.toml or pass it to dashblock-deploy.")
	return nil
}

func runServerList(ctx context.Context) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	servers, err := s.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("listing servers: %w", err)
	}
	if len(servers) == 0 {
		fmt.Println("No servers registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tAGENT\tSTATUS\tPLAYERS\tLAST SEEN")
	for _, srv := range servers {
		agent := "disconnected"
		if srv.IsConnected {
			agent = "connected"
		}
		seen := "never"
		if srv.LastSeen != nil {
			seen = srv.LastSeen.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			srv.ID, srv.Name, agent, srv.Status, srv.PlayersOnline, srv.MaxPlayers, seen)
	}
	return w.Flush()
}

func runServerRemove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: dashblock-hub server rm ID")
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.DeleteServer(ctx, args[0]); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no server with id %s", args[0])
		}
		return fmt.Errorf("removing server: %w", err)
	}
	color.New(color.FgGreen).Printf("  ✓ Removed server %s\n", args[0])
	return nil
}

func runToken(args []string) error {
	var subject, ttlRaw string
	if _, err := parseArgs(args, map[string]*string{"subject": &subject, "ttl": &ttlRaw}); err != nil {
		return err
	}
	if subject == "" {
		return errors.New("--subject flag is required")
	}
	ttl := 30 * 24 * time.Hour
	if ttlRaw != "" {
		d, err := time.ParseDuration(ttlRaw)
		if err != nil {
			return fmt.Errorf("parsing --ttl: %w", err)
		}
		ttl = d
	}

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured in %s", configPath)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

// commandResponse mirrors the hub's /internal/command reply.
type commandResponse struct {
	Success   bool   `json:"success"`
	Command   string `json:"command"`
	Delivered int    `json:"delivered"`
	Error     string `json:"error"`
}

func runCommand(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: dashblock-hub command ID start|stop|restart")
	}
	cmd, err := protocol.ParseCommand(args[1])
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{"serverId": args[0], "command": string(cmd)})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://%s/internal/command", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := os.Getenv("DASHBLOCK_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending command: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	var out commandResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("hub returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hub returned %d: %s", resp.StatusCode, out.Error)
	}

	if out.Delivered == 0 {
		color.New(color.FgYellow).Printf("  ! %s accepted but no agent is connected for %s\n", out.Command, args[0])
		return nil
	}
	color.New(color.FgGreen).Printf("  ✓ %s delivered to %d agent(s)\n", out.Command, out.Delivered)
	return nil
}
