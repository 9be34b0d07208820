package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/config"
)

// runInfo prints a server summary and ready-to-paste MCP client
// configuration snippets for the resolved storage roots.
func runInfo(args []string) error {
	fs := flag.NewFlagSet("likeisaid info", flag.ContinueOnError)
	jsonOnly := fs.Bool("json", false, "print only the mcpServers entry as JSON")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	version := cfg.Server.Version
	if Version != "dev" {
		version = Version
	}

	exe, err := os.Executable()
	if err != nil {
		exe = "likeisaid"
	}

	env := map[string]string{
		"MEMORY_DIR": cfg.Roots.Memories,
		"TASK_DIR":   cfg.Roots.Tasks,
		"DATA_DIR":   cfg.Roots.Data,
	}

	// Claude Desktop and Cursor share the mcpServers shape.
	mcpServers := map[string]any{
		"mcpServers": map[string]any{
			"like-i-said": map[string]any{
				"command": exe,
				"env":     env,
			},
		},
	}
	// OpenCode nests servers under "mcp" with an argv-style command.
	openCode := map[string]any{
		"mcp": map[string]any{
			"like-i-said": map[string]any{
				"type":        "local",
				"command":     []string{exe},
				"environment": env,
			},
		},
	}

	if *jsonOnly {
		return printJSON(mcpServers)
	}

	fmt.Printf("%s %s\n\n", cfg.Server.Name, version)
	fmt.Println("Storage roots:")
	fmt.Printf("  memories  %s\n", cfg.Roots.Memories)
	fmt.Printf("  tasks     %s\n", cfg.Roots.Tasks)
	fmt.Printf("  data      %s\n", cfg.Roots.Data)
	fmt.Println()

	fmt.Println("Claude Desktop (claude_desktop_config.json):")
	if err := printJSON(mcpServers); err != nil {
		return err
	}
	fmt.Println()

	fmt.Println("Cursor (.cursor/mcp.json):")
	if err := printJSON(mcpServers); err != nil {
		return err
	}
	fmt.Println()

	fmt.Println("OpenCode (opencode.json):")
	if err := printJSON(openCode); err != nil {
		return err
	}
	fmt.Println()

	fmt.Println("Run with --http for the Streamable HTTP transport (default " + cfg.HTTP.Addr + ").")
	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("rendering config snippet: %w", err)
	}
	_, err = fmt.Println(string(out))
	return err
}
