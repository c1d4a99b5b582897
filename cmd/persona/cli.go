package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatmem/persona/pkg/bus"
	"github.com/chatmem/persona/pkg/chat"
	"github.com/chatmem/persona/pkg/config"
)

func executeCLI() error {
	root := buildRootCommand()
	return root.Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "persona",
		Short: "Chat companion that learns a per-user knowledge profile",
		Long: strings.TrimSpace(`persona is a chat companion runtime.

It remembers conversations in tiered memory, detects topics of interest,
and runs a nightly analysis that turns each day's messages into a
per-user graph of facts and versioned interests used to personalize
replies.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newRunCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newAnalyzeCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.persona config and workspace",
		Long:    "Create default configuration and the workspace directory for a new persona installation.",
		Example: "  persona onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			onboard()
			return nil
		},
	}
}

func newRunCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the companion daemon with the nightly analysis scheduler",
		Long:    "Start the message bus, chat-turn loop, and the scheduler that fires the nightly profile analysis.",
		Example: "  persona run --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newChatCommand() *cobra.Command {
	var (
		message string
		userID  string
		name    string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the companion locally (CLI mode)",
		Long:  "Run an interactive local chat session or send a one-shot message.",
		Example: strings.Join([]string{
			"  persona chat",
			"  persona chat --user 42 --name alice",
			"  persona chat --message \"привет, как дела?\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return chatCmd(message, userID, name, debug)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message to send")
	cmd.Flags().StringVarP(&userID, "user", "u", "cli", "User id for the session")
	cmd.Flags().StringVarP(&name, "name", "n", "operator", "Display name for the session")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func newAnalyzeCommand() *cobra.Command {
	var (
		today bool
		debug bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the profile analysis now",
		Long:  "Trigger the nightly analysis manually, over yesterday's messages by default.",
		Example: strings.Join([]string{
			"  persona analyze",
			"  persona analyze --today",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return analyzeCmd(today, debug)
		},
	}

	cmd.Flags().BoolVar(&today, "today", false, "Analyze today's messages instead of yesterday's")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and runtime readiness",
		Example: "  persona status",
		RunE: func(cmd *cobra.Command, args []string) error {
			statusCmd()
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  persona version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}

func onboard() {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		reader := bufio.NewReader(os.Stdin)
		response, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Printf("Error reading input: %v\n", readErr)
			fmt.Println("Aborted.")
			return
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Join(cfg.WorkspacePath(), "state"), 0755); err != nil {
		fmt.Printf("Error creating workspace: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s is ready!\n", appName)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your DeepSeek API key to", configPath)
	fmt.Println("     (or set PERSONA_ENRICHMENT_API_KEY)")
	fmt.Println("  2. Chat locally: persona chat -m \"привет!\"")
	fmt.Println("  3. Run the daemon: persona run")
	fmt.Println("  4. Check readiness: persona status")
}

func runDaemon(debug bool) error {
	c, err := buildCore(debug)
	if err != nil {
		return err
	}
	defer c.Close()

	pipeline, err := buildPipeline(c)
	if err != nil {
		return err
	}
	scheduler, _, err := setupScheduler(c, pipeline)
	if err != nil {
		return err
	}
	loop, err := buildChatLoop(c)
	if err != nil {
		return err
	}

	mb := bus.NewMessageBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go loop.Run(ctx, mb)
	// No transport is attached here; the bus is the seam one plugs
	// into. Drain the outbound side so replies are at least visible.
	go func() {
		for {
			out, ok := mb.SubscribeOutbound(ctx)
			if !ok {
				return
			}
			c.log.Info("reply ready", zap.String("user_id", out.UserID), zap.String("text", out.Text))
		}
	}()

	scheduler.Start()
	fmt.Printf("%s daemon running (Ctrl+C to stop)\n", appName)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	scheduler.Stop()
	cancel()
	mb.Close()
	return nil
}

func chatCmd(message, userID, name string, debug bool) error {
	c, err := buildCore(debug)
	if err != nil {
		return err
	}
	defer c.Close()

	loop, err := buildChatLoop(c)
	if err != nil {
		return err
	}

	if strings.TrimSpace(message) != "" {
		reply, ok := loop.HandleTurn(context.Background(), bus.InboundMessage{
			UserID: userID, Username: name, Text: message, ReceivedAt: time.Now(),
		})
		if !ok {
			fmt.Println("(no reply)")
			return nil
		}
		fmt.Printf("\n%s %s\n", appName, reply)
		return nil
	}

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", appName)
	interactiveMode(loop, userID, name)
	return nil
}

func interactiveMode(loop *chat.Loop, userID, name string) {
	prompt := fmt.Sprintf("%s You: ", appName)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".persona_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(loop, userID, name)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		if done := handleChatLine(loop, userID, name, line); done {
			return
		}
	}
}

func simpleInteractiveMode(loop *chat.Loop, userID, name string) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s You: ", appName)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		if done := handleChatLine(loop, userID, name, line); done {
			return
		}
	}
}

func handleChatLine(loop *chat.Loop, userID, name, line string) (done bool) {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}
	if input == "exit" || input == "quit" {
		fmt.Println("Goodbye!")
		return true
	}

	reply, ok := loop.HandleTurn(context.Background(), bus.InboundMessage{
		UserID: userID, Username: name, Text: input, ReceivedAt: time.Now(),
	})
	if ok {
		fmt.Printf("\n%s %s\n\n", appName, reply)
	}
	return false
}

func analyzeCmd(today, debug bool) error {
	c, err := buildCore(debug)
	if err != nil {
		return err
	}
	defer c.Close()

	pipeline, err := buildPipeline(c)
	if err != nil {
		return err
	}

	if today {
		printReport(pipeline.Run(context.Background(), time.Now()))
		return nil
	}

	scheduler, holder, err := setupScheduler(c, pipeline)
	if err != nil {
		return err
	}
	if !scheduler.RunNow(analysisJobName) {
		return fmt.Errorf("job %s is not registered", analysisJobName)
	}
	if report, ok := holder.get(); ok {
		printReport(report)
	}
	return nil
}

func statusCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	configPath := getConfigPath()

	fmt.Printf("%s Status\n", appName)
	fmt.Printf("Version: %s\n", formatVersion())
	build, _ := formatBuildInfo()
	if build != "" {
		fmt.Printf("Build: %s\n", build)
	}
	fmt.Println()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "✓")
	} else {
		fmt.Println("Config:", configPath, "✗")
	}

	workspace := cfg.WorkspacePath()
	if _, err := os.Stat(workspace); err == nil {
		fmt.Println("Workspace:", workspace, "✓")
	} else {
		fmt.Println("Workspace:", workspace, "✗")
	}

	dbPath := cfg.DBPath()
	if _, err := os.Stat(dbPath); err == nil {
		fmt.Println("Profile DB:", dbPath, "✓")
	} else {
		fmt.Println("Profile DB:", dbPath, "not initialized")
	}

	status := func(ready bool) string {
		if ready {
			return "✓"
		}
		return "not set"
	}
	apiReady := strings.TrimSpace(cfg.GetAPIKey()) != ""
	fmt.Println("Enrichment API:", status(apiReady))
	fmt.Printf("Analysis schedule: %s\n", cfg.Analysis.Cron)
	fmt.Println("Daemon ready:", status(apiReady))
}
