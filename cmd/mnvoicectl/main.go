package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mn-ai/mnvoice/internal/config"
	"github.com/mn-ai/mnvoice/internal/knowledge"
	"github.com/mn-ai/mnvoice/internal/orchestrator"
	"github.com/mn-ai/mnvoice/internal/summarizer"
	"github.com/mn-ai/mnvoice/pkg/protocol"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "simulate":
		cmdSimulate(os.Args[2:])
	case "health":
		cmdHealth()
	case "calls":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: mnvoicectl calls <list|start|turn|show|end>")
			os.Exit(1)
		}
		args := os.Args[3:]
		switch os.Args[2] {
		case "list":
			cmdCallsList(args)
		case "start":
			requireArgs(args, 1, "calls start <phone>")
			cmdCallsStart(args[0])
		case "turn":
			requireArgs(args, 2, "calls turn <call_id> <text>")
			cmdCallsTurn(args[0], strings.Join(args[1:], " "))
		case "show":
			requireArgs(args, 1, "calls show <call_id>")
			cmdCallsShow(args[0])
		case "end":
			requireArgs(args, 1, "calls end <call_id> [ended|failed]")
			status := "ended"
			if len(args) > 1 {
				status = args[1]
			}
			cmdCallsEnd(args[0], status)
		default:
			fmt.Fprintf(os.Stderr, "unknown calls subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "funnel":
		cmdFunnel()
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: mnvoicectl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- simulate command ---

// cmdSimulate runs a conversation on stdin against the engine without a
// daemon or database.
func cmdSimulate(args []string) {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	kbPath := fs.String("kb", "", "Knowledge base YAML (default: built-in FAQ)")
	phone := fs.String("phone", "+910000000000", "Caller phone number")
	verbose := fs.Bool("v", false, "Verbose logging")
	fs.Parse(args)

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	kb := knowledge.Default()
	if *kbPath != "" {
		var err error
		if kb, err = knowledge.Load(*kbPath); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Router:  kb.Router(),
		Prompts: kb.Renderer(),
		Logger:  logger,
	})

	now := time.Now().UTC()
	lead := &protocol.Lead{ID: "l_sim", PrimaryPhone: *phone, CreatedAt: now, UpdatedAt: now}
	call := &protocol.Call{
		ID:           "c_sim",
		LeadID:       lead.ID,
		FromPhone:    *phone,
		Direction:    "inbound",
		Status:       protocol.CallInProgress,
		CurrentState: protocol.StateAskLanguage,
		Source:       "simulate",
		StartedAt:    now,
	}
	snap := protocol.NewSnapshot(lead.ID, now)

	opening, err := orch.Begin(call)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("mnvoicectl simulate (type 'quit' to hang up)")
	fmt.Println()
	fmt.Printf("bot [%s]: %s\n", call.CurrentState, opening.Reply)

	scanner := bufio.NewScanner(os.Stdin)
	for call.Active() {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			orch.End(call, snap, protocol.CallEnded, "hangup")
			break
		}
		res, err := orch.HandleTurn(call, snap, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		tag := string(res.State)
		if res.FAQ {
			tag += " faq"
		}
		fmt.Printf("bot [%s]: %s\n", tag, res.Reply)
	}

	fmt.Println()
	fmt.Println(summarizer.SummaryText(lead, snap))
}

// --- API client commands ---

func cmdHealth() {
	body, err := apiDo("GET", "/api/health", nil)
	exitOnErr(err)
	fmt.Println(string(body))
}

func cmdCallsList(args []string) {
	fs := flag.NewFlagSet("calls list", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status (in_progress|ended|failed)")
	limit := fs.Int("limit", 50, "Max results")
	fs.Parse(args)

	q := url.Values{}
	q.Set("limit", fmt.Sprint(*limit))
	if *status != "" {
		q.Set("status", *status)
	}

	body, err := apiDo("GET", "/api/calls?"+q.Encode(), nil)
	exitOnErr(err)
	var list []map[string]any
	json.Unmarshal(body, &list)
	for _, c := range list {
		fmt.Printf("%-12s %-16s %-12s %-20s %s\n", c["call_id"], c["from_phone"], c["status"], c["current_state"], c["started_at"])
	}
}

func cmdCallsStart(phone string) {
	body, err := apiDo("POST", "/api/calls/start", map[string]string{"from_phone": phone, "source": "cli"})
	exitOnErr(err)
	var res struct {
		CallID string `json:"call_id"`
		Prompt string `json:"prompt"`
		State  string `json:"state"`
	}
	json.Unmarshal(body, &res)
	fmt.Printf("call %s [%s]\n%s\n", res.CallID, res.State, res.Prompt)
}

func cmdCallsTurn(callID, text string) {
	body, err := apiDo("POST", "/api/calls/"+url.PathEscape(callID)+"/user_turn", map[string]string{"text": text})
	exitOnErr(err)
	var res struct {
		Reply  string `json:"reply"`
		State  string `json:"state"`
		Status string `json:"status"`
	}
	json.Unmarshal(body, &res)
	fmt.Printf("[%s %s] %s\n", res.State, res.Status, res.Reply)
}

func cmdCallsShow(callID string) {
	body, err := apiDo("GET", "/api/calls/"+url.PathEscape(callID), nil)
	exitOnErr(err)
	fmt.Println(prettyJSON(body))
}

func cmdCallsEnd(callID, status string) {
	body, err := apiDo("POST", "/api/calls/"+url.PathEscape(callID)+"/end", map[string]string{"status": status})
	exitOnErr(err)
	fmt.Println(prettyJSON(body))
}

func cmdFunnel() {
	body, err := apiDo("GET", "/api/funnel", nil)
	exitOnErr(err)
	var res struct {
		Chart string `json:"chart"`
	}
	json.Unmarshal(body, &res)
	fmt.Print(res.Chart)
	if !strings.HasSuffix(res.Chart, "\n") {
		fmt.Println()
	}
}

func cmdConfigValidate(path string) {
	_, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiDo(method, path string, payload any) ([]byte, error) {
	base := envOr("MNV_API_URL", "http://localhost:8080")

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, base+path, reqBody)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := os.Getenv("MNV_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "usage: mnvoicectl "+usage)
		os.Exit(1)
	}
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("mnvoicectl: lead qualification service CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  simulate                   Talk to the engine on stdin (--kb, --phone)")
	fmt.Println("  health                     Check daemon health")
	fmt.Println("  calls list                 List calls (--status, --limit)")
	fmt.Println("  calls start <phone>        Start a call")
	fmt.Println("  calls turn <id> <text>     Submit a caller utterance")
	fmt.Println("  calls show <id>            Show call, snapshot and events")
	fmt.Println("  calls end <id> [status]    End a call (ended|failed)")
	fmt.Println("  funnel                     Show the conversion funnel")
	fmt.Println("  config validate <path>     Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  MNV_API_URL   Daemon URL (default: http://localhost:8080)")
	fmt.Println("  MNV_API_KEY   API key for authentication")
}
