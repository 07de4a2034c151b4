// ABOUTME: Terminal chat client for chat-devserver and compatible servers
// ABOUTME: Line-oriented input with live rendering of conversations and presence

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/api"
	"github.com/2389/coven-chat/internal/coordinator"
	"github.com/2389/coven-chat/internal/logging"
	"github.com/2389/coven-chat/internal/roster"
	"github.com/2389/coven-chat/internal/transport"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "Path to TOML config")
	server := flag.String("server", "", "Server URL (overrides server.url)")
	peer := flag.String("peer", "", "Open a conversation with this user on start")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *server, *peer); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, configPath, serverOverride, initialPeer string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if serverOverride != "" {
		cfg.Server.URL = serverOverride
		cfg.applyDefaults()
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	token := getToken()
	if token == "" {
		return errors.New("no token: set CHAT_TOKEN or write one to " + configDir() + "/token (chat-devserver token --user ID)")
	}

	logger := logging.New(os.Stderr, cfg.Logging.Level, "text")

	client := api.New(cfg.Server.URL, token, nil, logger)
	me, err := client.Me(ctx)
	if errors.Is(err, api.ErrUnauthorized) {
		return fmt.Errorf("token rejected by %s: %w", cfg.Server.URL, err)
	}
	if err != nil {
		return fmt.Errorf("fetching profile: %w", err)
	}

	users := roster.New(client, me.ID, logger)
	if err := users.Load(ctx); err != nil {
		return err
	}

	ch := transport.NewWSChannel(transport.WSOptions{
		URL:               cfg.WebSocketURL(),
		Token:             token,
		ManualResubscribe: cfg.Client.ManualResubscribe,
		Logger:            logger,
	})
	chCtx, stopChannel := context.WithCancel(ctx)
	chDone := make(chan struct{})
	go func() {
		defer close(chDone)
		if err := ch.Run(chCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("live channel stopped", "error", err)
		}
	}()

	coord := coordinator.New(client, ch, coordinator.Options{
		LocalUserID: me.ID,
		MaxMessages: cfg.Client.MaxMessages,
		Logger:      logger,
	})

	s := newSession(os.Stdout, coord, users)

	fmt.Printf("chat-tui connected to %s as ", cfg.Server.URL)
	color.New(color.FgCyan).Println(me.DisplayName)
	fmt.Printf("%d users, %d online. /help for commands. Ctrl+C to quit.\n\n", len(users.Users()), users.OnlineCount(coord))

	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		s.watch(watchCtx)
	}()

	if initialPeer != "" {
		s.handle(ctx, "/use "+initialPeer)
	}

	err = s.loop(ctx, os.Stdin)

	s.wait()
	stopWatch()
	<-watchDone
	coord.Close()
	stopChannel()
	<-chDone
	return err
}

// readLines feeds lines from r until EOF or error.
func readLines(r io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := newScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
		}
	}()
	return lines, errCh
}
