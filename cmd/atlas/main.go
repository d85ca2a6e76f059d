// Command atlas is a sandbox chat CLI for exercising the orchestration
// stack: it loads the config, registers a demo tool, and runs a single turn
// against a configured (or ad-hoc) agent.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atlas-go/atlas"
	"github.com/atlas-go/atlas/config"
	"github.com/atlas-go/atlas/llm"
	atlaslogger "github.com/atlas-go/atlas/logger"
	"github.com/atlas-go/atlas/tools"
)

func main() {
	var (
		configPath = flag.String("config", config.DefaultPath(), "Path to config file")
		agentKey   = flag.String("agent", "assistant", "Agent key to run")
		logFile    = flag.String("logfile", "", "Path to log file. If not set, logs to stdout/stderr")
		pretty     = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
		stream     = flag.Bool("stream", false, "Stream the response text as it arrives")
		mcpConnect = flag.Bool("mcp", false, "Connect configured MCP servers before the turn")
		timeout    = flag.Duration("timeout", 2*time.Minute, "Turn timeout")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		fmt.Fprintf(os.Stderr, "Error: --logfile and --pretty are mutually exclusive\n")
		os.Exit(1)
	}

	logger, err := atlaslogger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	input := strings.Join(flag.Args(), " ")
	if input == "" {
		fmt.Fprintf(os.Stderr, "Usage: atlas [flags] <message>\n")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config")
	}

	// A config without the requested agent still gets a usable sandbox
	// default.
	if _, ok := cfg.Agents[*agentKey]; !ok {
		cfg.Agents[*agentKey] = &config.AgentConfig{
			Key:          *agentKey,
			Name:         *agentKey,
			SystemPrompt: "You are {agent_name}, a helpful assistant. Answer concisely.",
			MaxTokens:    2048,
			Tools:        []string{"current_time"},
		}
	}

	app, err := atlas.New(cfg, atlas.WithLogger(logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build Atlas")
	}
	defer app.Close()

	app.Tools().Register(currentTimeTool())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	if *mcpConnect {
		app.ConnectMCP(ctx)
	}

	req := app.Agent(*agentKey).WithVariable("agent_name", *agentKey)

	if *stream {
		_, err = req.Stream(ctx, input, func(text string) error {
			fmt.Print(text)
			return nil
		})
		fmt.Println()
	} else {
		var text string
		text, err = req.AsText(ctx, input)
		if err == nil {
			fmt.Println(text)
		}
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("Turn failed")
	}
}

// currentTimeTool is the demo tool: no arguments, returns the current time.
func currentTimeTool() tools.Tool {
	return tools.New(
		"current_time",
		"Returns the current date and time in RFC 3339 format.",
		llm.ToolSchema{Type: "object", Properties: map[string]interface{}{}},
		func(ctx context.Context, args json.RawMessage, tc *tools.Context) (*tools.Result, error) {
			return tools.TextResult(time.Now().Format(time.RFC3339)), nil
		},
	)
}
