package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/sipeed/stripmentions/pkg/bus"
	"github.com/sipeed/stripmentions/pkg/channels"
	"github.com/sipeed/stripmentions/pkg/config"
	"github.com/sipeed/stripmentions/pkg/gateway"
	"github.com/sipeed/stripmentions/pkg/logger"
	"github.com/sipeed/stripmentions/pkg/mentions"
)

const commandName = "stripmentions"

func printHelp() {
	fmt.Printf("%s - strip chat mentions from inbound messages\n\n", commandName)
	fmt.Println("Usage:")
	fmt.Printf("  %s strip [--config <path>]     Read a JSON message on stdin, print it stripped\n", commandName)
	fmt.Printf("  %s gateway [--config <path>] [--debug]\n", commandName)
	fmt.Println("                                   Strip mentions from live Discord, Slack and Telegram messages")
}

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "strip":
		stripCmd()
	case "gateway":
		gatewayCmd()
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
}

func configPath(args []string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "--config" || args[i] == "-c" {
			return args[i+1]
		}
	}
	if p := os.Getenv("STRIPMENTIONS_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".stripmentions", "config.json")
}

func loadConfig() *config.Config {
	cfg, err := config.LoadConfig(configPath(os.Args[2:]))
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func stripCmd() {
	cfg := loadConfig()
	if err := runStrip(cfg, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runStrip(cfg *config.Config, in io.Reader, out io.Writer) error {
	var msg bus.InboundMessage
	if err := json.NewDecoder(in).Decode(&msg); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	gw, err := gateway.New(cfg, nil)
	if err != nil {
		return err
	}
	defer gw.Close()

	if err := gw.Pipeline.Run(context.Background(), &msg, nil); err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(msg)
}

func gatewayCmd() {
	cfg := loadConfig()
	if applyGatewayFlags(cfg, os.Args[2:]) {
		fmt.Println("Debug mode enabled")
	}
	if !cfg.AnyChannelEnabled() {
		fmt.Println("No channels enabled; set discord, slack or telegram enabled in the config")
		os.Exit(1)
	}

	gw, err := gateway.New(cfg, logStripped)
	if err != nil {
		fmt.Printf("Error creating gateway: %v\n", err)
		os.Exit(1)
	}

	enabled, err := buildChannels(cfg, gw.Bus)
	if err != nil {
		fmt.Printf("Error creating channels: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started []channels.Channel
	for _, ch := range enabled {
		if err := ch.Start(ctx); err != nil {
			fmt.Printf("Error starting %s channel: %v\n", ch.Name(), err)
			stopChannels(started)
			os.Exit(1)
		}
		started = append(started, ch)
	}
	go gw.Run(ctx)

	fmt.Println("✓ Gateway started")
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	stopChannels(started)
	gw.Close()
	fmt.Println("✓ Gateway stopped")
}

// applyGatewayFlags folds command line flags into cfg before the gateway
// applies its log level. It reports whether debug logging was requested.
func applyGatewayFlags(cfg *config.Config, args []string) bool {
	for _, arg := range args {
		if arg == "--debug" || arg == "-d" {
			cfg.Logging.Level = "debug"
			return true
		}
	}
	return false
}

func buildChannels(cfg *config.Config, mb *bus.MessageBus) ([]channels.Channel, error) {
	var list []channels.Channel
	if cfg.Discord.Enabled {
		discord, err := channels.NewDiscordChannel(cfg.Discord.Token, mb, cfg.Discord.AllowFrom)
		if err != nil {
			return nil, err
		}
		list = append(list, discord)
	}
	if cfg.Slack.Enabled {
		list = append(list, channels.NewSlackChannel(cfg.Slack.BotToken, cfg.Slack.SigningSecret, cfg.Slack.ListenAddr, mb, cfg.Slack.AllowFrom))
	}
	if cfg.Telegram.Enabled {
		telegram, err := channels.NewTelegramChannel(cfg.Telegram.Token, mb, cfg.Telegram.AllowFrom)
		if err != nil {
			return nil, err
		}
		list = append(list, telegram)
	}
	return list, nil
}

func stopChannels(list []channels.Channel) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, ch := range list {
		if err := ch.Stop(ctx); err != nil {
			logger.WarnCF("gateway", "Failed to stop channel", map[string]any{
				"channel": ch.Name(),
				"error":   err.Error(),
			})
		}
	}
}

func logStripped(_ context.Context, msg bus.InboundMessage) error {
	text, _ := mentions.StrippedText(&msg)
	logger.InfoCF("gateway", "Message processed", map[string]any{
		"channel":   msg.Channel,
		"chat_id":   msg.ChatID,
		"sender_id": msg.SenderID,
		"original":  mentions.OriginalText(&msg),
		"stripped":  text,
	})
	return nil
}
