// DotConnect - WhatsApp conversational agent gateway
// License: MIT
//
// Copyright (c) 2026 DotConnect contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/dotsetgreg/dotconnect/pkg/bus"
	"github.com/dotsetgreg/dotconnect/pkg/channels"
	"github.com/dotsetgreg/dotconnect/pkg/config"
	"github.com/dotsetgreg/dotconnect/pkg/connectors"
	"github.com/dotsetgreg/dotconnect/pkg/gateway"
	"github.com/dotsetgreg/dotconnect/pkg/intent"
	"github.com/dotsetgreg/dotconnect/pkg/logger"
	"github.com/dotsetgreg/dotconnect/pkg/notify"
	"github.com/dotsetgreg/dotconnect/pkg/providers"
	"github.com/dotsetgreg/dotconnect/pkg/session"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "dotconnect"

// chatIdentity is the synthetic phone number backing local REPL sessions.
const chatIdentity = "+10000000000"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Printf("  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Printf("  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dotconnect", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func validateRuntimeConfig(cfg *config.Config, requireWhatsApp bool) error {
	configPath := getConfigPath()
	if strings.TrimSpace(cfg.Providers.OpenRouter.APIKey) == "" {
		return fmt.Errorf("providers.openrouter.api_key is required in %s or DOTCONNECT_PROVIDERS_OPENROUTER_API_KEY", configPath)
	}
	if requireWhatsApp {
		wa := cfg.Channels.WhatsApp
		if strings.TrimSpace(wa.AccountSID) == "" || strings.TrimSpace(wa.AuthToken) == "" || strings.TrimSpace(wa.FromNumber) == "" {
			return fmt.Errorf("channels.whatsapp credentials are required in %s for serve mode", configPath)
		}
	}
	return nil
}

func onboard() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		reader := bufio.NewReader(os.Stdin)
		response, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Println("Aborted.")
			return nil
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	for _, dir := range []string{
		filepath.Dir(cfg.StorePath()),
		cfg.SideQueuePath(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	fmt.Printf("%s is ready!\n", appName)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your OpenRouter API key to", configPath)
	fmt.Println("     Get one at: https://openrouter.ai/keys")
	fmt.Println("  2. Add your WhatsApp (Twilio) credentials to channels.whatsapp")
	fmt.Println("  3. Chat locally: dotconnect chat")
	fmt.Println("  4. Run the gateway: dotconnect serve")
	fmt.Println("  5. Check readiness: dotconnect status")
	return nil
}

// runtimeDeps is everything serve and chat share: the durable store, the
// session manager with its cache and transcript sink, and the intent router.
type runtimeDeps struct {
	cfg      *config.Config
	store    *session.SQLiteStore
	manager  *session.Manager
	cache    session.Cache
	router   *intent.Router
	notifier *notify.Notifier
	replayer *notify.Replayer
}

func buildRuntime(cfg *config.Config) (*runtimeDeps, error) {
	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	store, err := session.NewSQLiteStore(cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	sideQueue, err := notify.NewSideQueue(cfg.SideQueuePath())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open side queue: %w", err)
	}

	notifier := notify.NewNotifier(notify.Config{
		URL:         cfg.Notifier.URL,
		MaxAttempts: cfg.Notifier.MaxAttempts,
		BaseBackoff: time.Duration(cfg.Notifier.BaseBackoffSeconds) * time.Second,
		APIKey:      cfg.Notifier.APIKey,
	}, sideQueue)

	replayer := notify.NewReplayer(cfg.Notifier.ReplaySchedule, notifier, sideQueue)

	cache := session.NewLRUCache(cfg.Session.CacheSize, time.Duration(cfg.Session.CacheTTLSeconds)*time.Second)
	manager := session.NewManager(session.ManagerConfig{
		AppendRetries: cfg.Session.AppendRetries,
	}, store, store, cache, notifier)

	dialer := connectors.NewVoiceDialer(cfg.Connectors.Dialer)
	matchmaker := connectors.NewMatchmakerClient(cfg.Connectors.Matchmaker)
	router := intent.NewRouter(provider, manager, dialer, matchmaker, cfg.Agents.Defaults.Model, cfg.Session.MaxHistoryMessages)

	return &runtimeDeps{
		cfg:      cfg,
		store:    store,
		manager:  manager,
		cache:    cache,
		router:   router,
		notifier: notifier,
		replayer: replayer,
	}, nil
}

func (d *runtimeDeps) shutdown() {
	d.replayer.Stop()
	d.notifier.Stop()
	_ = d.store.Close()
}

func serveCmd(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("Debug mode enabled")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := validateRuntimeConfig(cfg, true); err != nil {
		return err
	}

	deps, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer deps.shutdown()

	deps.replayer.Start()

	reaper := session.NewReaper(session.ReaperConfig{
		Timeout:       time.Duration(cfg.Session.TimeoutSeconds) * time.Second,
		SweepInterval: time.Duration(cfg.Session.SweepIntervalSeconds) * time.Second,
	}, deps.manager, deps.cache, deps.store)
	reaper.Start()
	defer reaper.Stop()

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	channelManager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		return fmt.Errorf("create channel manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := channelManager.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	defer func() { _ = channelManager.StopAll(context.Background()) }()

	dispatcher := gateway.NewDispatcher(msgBus, deps.manager, deps.store, deps.router)
	dispatcher.Start()
	defer dispatcher.Stop()

	server := gateway.NewServer(cfg.Gateway, msgBus, deps.manager)
	go func() {
		if err := server.Start(); err != nil {
			logger.ErrorCF("gateway", "Gateway server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	fmt.Printf("✓ Gateway started on %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WarnCF("gateway", "Gateway shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
	}
	fmt.Println("✓ Gateway stopped")
	return nil
}

func chatCmd(name string, debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("Debug mode enabled")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := validateRuntimeConfig(cfg, false); err != nil {
		return err
	}

	deps, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer deps.shutdown()

	ctx := context.Background()
	if err := deps.store.UpsertUser(ctx, session.UserProfile{
		ID:    "cli",
		Phone: chatIdentity,
		Name:  name,
	}); err != nil {
		return fmt.Errorf("register chat user: %w", err)
	}

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", appName)
	interactiveMode(deps)
	return nil
}

func (d *runtimeDeps) processChatMessage(ctx context.Context, text string) (string, error) {
	rec, err := d.manager.GetOrCreate(ctx, chatIdentity)
	if err != nil {
		return "", err
	}
	profile, err := d.store.ResolveUserID(ctx, chatIdentity)
	if err != nil {
		return "", err
	}
	return d.router.Route(ctx, rec, profile, text)
}

func interactiveMode(deps *runtimeDeps) {
	prompt := fmt.Sprintf("%s You: ", appName)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".dotconnect_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(deps)
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

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		response, err := deps.processChatMessage(context.Background(), input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("\n%s %s\n\n", appName, response)
	}
}

func simpleInteractiveMode(deps *runtimeDeps) {
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

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		response, err := deps.processChatMessage(context.Background(), input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("\n%s %s\n\n", appName, response)
	}
}

func statusCmd() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
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

	storePath := cfg.StorePath()
	if _, err := os.Stat(storePath); err == nil {
		fmt.Println("Session store:", storePath, "✓")
	} else {
		fmt.Println("Session store:", storePath, "not initialized")
	}

	fmt.Printf("Model: %s\n", cfg.Agents.Defaults.Model)

	status := func(ready bool) string {
		if ready {
			return "✓"
		}
		return "not set"
	}
	apiReady := strings.TrimSpace(cfg.Providers.OpenRouter.APIKey) != ""
	wa := cfg.Channels.WhatsApp
	whatsappReady := strings.TrimSpace(wa.AccountSID) != "" &&
		strings.TrimSpace(wa.AuthToken) != "" &&
		strings.TrimSpace(wa.FromNumber) != ""
	notifierReady := strings.TrimSpace(cfg.Notifier.URL) != ""

	fmt.Println("OpenRouter API:", status(apiReady))
	fmt.Println("WhatsApp credentials:", status(whatsappReady))
	fmt.Println("Notifier URL:", status(notifierReady))
	fmt.Println("Chat ready:", status(apiReady))
	fmt.Println("Gateway ready:", status(apiReady && whatsappReady))
	return nil
}
