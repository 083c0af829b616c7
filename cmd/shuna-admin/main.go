// ABOUTME: Admin CLI for shuna-gateway cache and notification management
// ABOUTME: Talks to the gateway HTTP API with JWT authentication

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
     _                                   _           _
 ___| |__  _   _ _ __   __ _        __ _| |_ __ ___ (_)_ __
/ __| '_ \| | | | '_ \ / _' |_____ / _' | | '_ ' _ \| | '_ \
\__ \ | | | |_| | | | | (_| |_____| (_| | | | | | | | | | | |
|___/_| |_|\__,_|_| |_|\__,_|      \__,_|_|_| |_| |_|_|_| |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(ctx)
	case "caches":
		err = cmdCaches(ctx, args)
	case "notify":
		err = cmdNotify(ctx, args)
	case "notifications":
		err = cmdNotifications(ctx, args)
	case "subs":
		err = cmdSubs(ctx, args)
	case "activate":
		err = cmdActivate(ctx)
	case "sync":
		err = cmdSync(ctx, args)
	case "watch":
		err = cmdWatch(ctx)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: shuna-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                  Show gateway version, shell state, and connectivity")
	fmt.Println("  caches                  List shell caches")
	fmt.Println("  caches list             List shell caches")
	fmt.Println("  caches delete <name>    Delete a cache by name")
	fmt.Println("  notify <text>           Send a push notification through the gateway")
	fmt.Println("  notifications           List stored notifications")
	fmt.Println("  subs                    List web push subscriptions")
	fmt.Println("  subs delete <endpoint>  Remove a push subscription")
	fmt.Println("  activate                Tell a waiting shell version to take over now")
	fmt.Println("  sync [register [tag]]   Show or register background sync tags")
	fmt.Println("  watch                   Follow the gateway event stream")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  SHUNA_GATEWAY_URL       Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  SHUNA_TOKEN             JWT token (falls back to ~/.config/shuna/token)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  shuna-admin status")
	fmt.Println("  shuna-admin notify --title 'Shuna' 'I found that recipe you asked about'")
	fmt.Println("  shuna-admin caches delete shuna-ai-v0.9")
	fmt.Println()
}

// apiClient is a thin wrapper over the gateway HTTP API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient() *apiClient {
	baseURL := os.Getenv("SHUNA_GATEWAY_URL")
	if baseURL == "" {
		if host := os.Getenv("SHUNA_GATEWAY_HOST"); host != "" {
			baseURL = "http://" + host
		} else {
			baseURL = "http://localhost:8080"
		}
	}

	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   getToken(),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// do issues a request with the auth token attached.
func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reaching gateway at %s: %w", c.baseURL, err)
	}
	return resp, nil
}

// doJSON issues a request and decodes a JSON response into out. An expected
// status other than what the server returned becomes an error carrying the
// response body.
func (c *apiClient) doJSON(ctx context.Context, method, path string, body io.Reader, wantStatus int, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("unauthorized: set SHUNA_TOKEN (shuna-gateway bootstrap creates one)")
	}
	if resp.StatusCode != wantStatus {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// cmdStatus shows gateway version, shell state, and readiness
func cmdStatus(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()

	client := newAPIClient()

	var version struct {
		Version  string `json:"version"`
		State    string `json:"state"`
		Active   string `json:"active"`
		Online   bool   `json:"online"`
		ServerID string `json:"server_id"`
	}
	if err := client.doJSON(ctx, http.MethodGet, "/api/version", nil, http.StatusOK, &version); err != nil {
		yellow.Printf("  Gateway:  ")
		color.Red("UNREACHABLE (%v)\n", err)
		return nil
	}

	green.Printf("  Gateway:  ")
	fmt.Printf("connected to %s\n", client.baseURL)
	if version.ServerID != "" {
		green.Printf("  Server:   ")
		fmt.Println(version.ServerID)
	}
	green.Printf("  Shell:    ")
	fmt.Printf("%s (%s)\n", version.Version, version.State)

	green.Printf("  Active:   ")
	if version.Active != "" {
		fmt.Println(version.Active)
	} else {
		fmt.Println("(none)")
	}

	green.Printf("  Upstream: ")
	if version.Online {
		fmt.Println("online")
	} else {
		yellow.Println("offline")
	}

	if client.token != "" {
		green.Printf("  Token:    ")
		fmt.Println("configured")
	} else {
		yellow.Printf("  Token:    ")
		fmt.Println("(none - set SHUNA_TOKEN for operator commands)")
	}

	fmt.Println()
	return nil
}

// cmdCaches handles cache subcommands
func cmdCaches(ctx context.Context, args []string) error {
	// Default to list
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdCachesList(ctx)
	case "delete", "rm", "remove":
		return cmdCachesDelete(ctx, args)
	default:
		return fmt.Errorf("unknown caches subcommand: %s (use list, delete)", subcmd)
	}
}

// cmdCachesList lists all shell caches
func cmdCachesList(ctx context.Context) error {
	client := newAPIClient()

	var resp struct {
		Caches []struct {
			Name      string `json:"name"`
			Entries   int    `json:"entries"`
			CreatedAt string `json:"created_at"`
		} `json:"caches"`
	}
	if err := client.doJSON(ctx, http.MethodGet, "/api/caches", nil, http.StatusOK, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Shell Caches")
	cyan.Println("  ------------")

	if len(resp.Caches) == 0 {
		fmt.Println("  (no caches)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  NAME\tENTRIES\tCREATED")
	fmt.Fprintln(w, "  ----\t-------\t-------")

	for _, c := range resp.Caches {
		created := c.CreatedAt
		if t, err := time.Parse(time.RFC3339, c.CreatedAt); err == nil {
			created = t.Format("Jan 02 15:04")
		}
		fmt.Fprintf(w, "  %s\t%d\t%s\n", truncate(c.Name, 32), c.Entries, created)
	}
	w.Flush()
	fmt.Println()

	return nil
}

// cmdCachesDelete deletes a cache by name
func cmdCachesDelete(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: caches delete <name>")
	}

	name := args[0]
	client := newAPIClient()

	if err := client.doJSON(ctx, http.MethodDelete, "/api/caches/"+name, nil, http.StatusNoContent, nil); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Deleted cache: %s\n", name)

	return nil
}

// cmdNotify sends a push notification through the gateway
func cmdNotify(ctx context.Context, args []string) error {
	// Parse args
	var title, tag string
	var words []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--title", "-t":
			if i+1 < len(args) {
				title = args[i+1]
				i++
			}
		case "--tag":
			if i+1 < len(args) {
				tag = args[i+1]
				i++
			}
		default:
			words = append(words, args[i])
		}
	}

	if len(words) == 0 {
		return fmt.Errorf("usage: notify [--title <title>] [--tag <tag>] <text>")
	}
	text := strings.Join(words, " ")

	var body io.Reader
	if title != "" || tag != "" {
		payload, err := json.Marshal(map[string]string{"title": title, "body": text, "tag": tag})
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}
		body = bytes.NewReader(payload)
	} else {
		body = strings.NewReader(text)
	}

	client := newAPIClient()

	var created struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	if err := client.doJSON(ctx, http.MethodPost, "/api/push", body, http.StatusCreated, &created); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Notification sent: %s\n", created.ID)
	fmt.Printf("  Title: %s\n", created.Title)

	return nil
}

// cmdNotifications lists stored notifications
func cmdNotifications(ctx context.Context, args []string) error {
	path := "/api/notifications"
	if len(args) > 0 && args[0] != "list" && args[0] != "ls" {
		return fmt.Errorf("unknown notifications subcommand: %s (use list)", args[0])
	}

	client := newAPIClient()

	var resp struct {
		Notifications []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Tag       string `json:"tag"`
			Closed    bool   `json:"closed"`
			CreatedAt string `json:"created_at"`
		} `json:"notifications"`
	}
	if err := client.doJSON(ctx, http.MethodGet, path, nil, http.StatusOK, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Notifications")
	cyan.Println("  -------------")

	if len(resp.Notifications) == 0 {
		fmt.Println("  (no notifications)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tTITLE\tTAG\tSTATE\tCREATED")
	fmt.Fprintln(w, "  --\t-----\t---\t-----\t-------")

	for _, n := range resp.Notifications {
		state := "open"
		if n.Closed {
			state = "closed"
		}
		created := n.CreatedAt
		if t, err := time.Parse(time.RFC3339, n.CreatedAt); err == nil {
			created = t.Format("Jan 02 15:04")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			truncate(n.ID, 12), truncate(n.Title, 28), truncate(n.Tag, 16), state, created)
	}
	w.Flush()
	fmt.Println()

	return nil
}

// cmdSubs handles subscription subcommands
func cmdSubs(ctx context.Context, args []string) error {
	// Default to list
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdSubsList(ctx)
	case "delete", "rm", "remove":
		return cmdSubsDelete(ctx, args)
	default:
		return fmt.Errorf("unknown subs subcommand: %s (use list, delete)", subcmd)
	}
}

// cmdSubsList lists push subscriptions
func cmdSubsList(ctx context.Context) error {
	client := newAPIClient()

	var resp struct {
		Subscriptions []struct {
			Endpoint  string `json:"endpoint"`
			CreatedAt string `json:"created_at"`
		} `json:"subscriptions"`
	}
	if err := client.doJSON(ctx, http.MethodGet, "/api/subscriptions", nil, http.StatusOK, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Push Subscriptions")
	cyan.Println("  ------------------")

	if len(resp.Subscriptions) == 0 {
		fmt.Println("  (no subscriptions)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ENDPOINT\tCREATED")
	fmt.Fprintln(w, "  --------\t-------")

	for _, s := range resp.Subscriptions {
		created := s.CreatedAt
		if t, err := time.Parse(time.RFC3339, s.CreatedAt); err == nil {
			created = t.Format("Jan 02 15:04")
		}
		fmt.Fprintf(w, "  %s\t%s\n", truncate(s.Endpoint, 56), created)
	}
	w.Flush()
	fmt.Println()

	return nil
}

// cmdSubsDelete removes a push subscription by endpoint
func cmdSubsDelete(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: subs delete <endpoint>")
	}

	payload, err := json.Marshal(map[string]string{"endpoint": args[0]})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	client := newAPIClient()
	if err := client.doJSON(ctx, http.MethodDelete, "/api/subscriptions", bytes.NewReader(payload), http.StatusNoContent, nil); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Removed subscription: %s\n", truncate(args[0], 56))

	return nil
}

// cmdActivate sends SKIP_WAITING so a waiting shell version takes over
func cmdActivate(ctx context.Context) error {
	client := newAPIClient()

	body := strings.NewReader(`{"type":"SKIP_WAITING"}`)
	if err := client.doJSON(ctx, http.MethodPost, "/api/message", body, http.StatusAccepted, nil); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Println("✓ Activation requested")

	var version struct {
		Version string `json:"version"`
		State   string `json:"state"`
	}
	if err := client.doJSON(ctx, http.MethodGet, "/api/version", nil, http.StatusOK, &version); err == nil {
		fmt.Printf("  Shell: %s (%s)\n", version.Version, version.State)
	}

	return nil
}

// cmdSync shows pending sync tags or registers a new one
func cmdSync(ctx context.Context, args []string) error {
	client := newAPIClient()

	if len(args) > 0 && args[0] == "register" {
		tag := ""
		if len(args) > 1 {
			tag = args[1]
		}
		payload, err := json.Marshal(map[string]string{"tag": tag})
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}

		var resp struct {
			Tag string `json:"tag"`
		}
		if err := client.doJSON(ctx, http.MethodPost, "/api/sync", bytes.NewReader(payload), http.StatusAccepted, &resp); err != nil {
			return err
		}

		green := color.New(color.FgGreen)
		green.Printf("✓ Registered sync tag: %s\n", resp.Tag)
		return nil
	}

	var status struct {
		Pending []string `json:"pending"`
		Online  bool     `json:"online"`
	}
	if err := client.doJSON(ctx, http.MethodGet, "/api/sync", nil, http.StatusOK, &status); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)
	fmt.Println()
	cyan.Println("  Background Sync")
	cyan.Println("  ---------------")
	if status.Online {
		fmt.Println("  Upstream: online")
	} else {
		yellow.Println("  Upstream: offline")
	}
	if len(status.Pending) == 0 {
		fmt.Println("  Pending:  (none)")
	} else {
		fmt.Printf("  Pending:  %s\n", strings.Join(status.Pending, ", "))
	}
	fmt.Println()

	return nil
}

// cmdWatch follows the gateway SSE stream and prints events as they arrive
func cmdWatch(ctx context.Context) error {
	client := newAPIClient()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+"/api/events", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout: the stream stays open until interrupted
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("reaching gateway at %s: %w", client.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream: status %d", resp.StatusCode)
	}

	cyan := color.New(color.FgCyan)
	cyan.Printf("Watching %s (Ctrl+C to stop)\n\n", client.baseURL)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ":"):
			// heartbeat comment
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if eventType != "" {
				printEvent(eventType, data)
			}
			eventType, data = "", ""
		}
	}

	// Ctrl+C closes the request context; that is a clean exit
	if ctx.Err() != nil {
		fmt.Println()
		return nil
	}
	return scanner.Err()
}

// printEvent renders one SSE event with a timestamp and per-type color
func printEvent(eventType, data string) {
	ts := color.HiBlackString(time.Now().Format("15:04:05"))

	var label string
	switch eventType {
	case "connected":
		label = color.New(color.Faint).Sprint(eventType)
	case "controllerchange":
		label = color.YellowString(eventType)
	case "notification":
		label = color.GreenString(eventType)
	case "sync":
		label = color.CyanString(eventType)
	case "focus":
		label = color.MagentaString(eventType)
	default:
		label = eventType
	}

	fmt.Printf("%s %s %s\n", ts, label, data)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// getToken returns the JWT token from SHUNA_TOKEN env var or ~/.config/shuna/token file
func getToken() string {
	// Check env var first
	if token := os.Getenv("SHUNA_TOKEN"); token != "" {
		return token
	}

	// Try to read from token file
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	tokenPath := filepath.Join(configDir, "shuna", "token")
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}
