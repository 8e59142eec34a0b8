package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"intercom/internal/config"
	"intercom/internal/console"
	"intercom/internal/events"
	"intercom/internal/hubclient"
	"intercom/internal/hubserver"
	"intercom/internal/model"
	"intercom/internal/notify"
	"intercom/internal/policy"
	"intercom/internal/registry"
	"intercom/internal/router"
)

var hubConfigPath string

func newHubCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run the Hub: registry, router, and operator console",
		RunE:  runHub,
	}
	cmd.Flags().StringVarP(&hubConfigPath, "config", "c", "intercom.yaml", "path to intercom.yaml")
	return cmd
}

func runHub(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(hubConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Mode = config.ModeHub
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	reg, err := registry.Init(cfg.Hub.DBPath)
	if err != nil {
		return fmt.Errorf("opening registry %s: %w", cfg.Hub.DBPath, err)
	}
	defer reg.Close()

	if err := notify.Migrate(reg.DB()); err != nil {
		return fmt.Errorf("running notification migrations: %w", err)
	}

	pol := model.ApprovalPolicy{DefaultApproval: model.ApprovalOnce}
	if cfg.Hub.PolicyPath != "" {
		pol, err = policy.LoadFile(cfg.Hub.PolicyPath)
		if err != nil {
			return fmt.Errorf("loading policy %s: %w", cfg.Hub.PolicyPath, err)
		}
	}
	eng := policy.NewEngine(pol)

	consoleAdapter := buildConsole(cfg)
	bus := events.NewBus()

	notifier := notify.NewDispatcher(reg.DB(), bus, notify.ShoutrrrSender{})
	notifier.Start()
	defer notifier.Stop()

	dispatcher := hubclient.NewPool("hub", cfg.Auth.SharedToken)
	rt := router.New(reg, eng, consoleAdapter, dispatcher, bus)
	srv := hubserver.New(reg, rt, consoleAdapter, bus)

	httpSrv := &http.Server{
		Addr:    cfg.Hub.ListenAddr,
		Handler: srv.Handler(),
	}

	go func() {
		log.Printf("intercom hub listening on %s", cfg.Hub.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("hub server: %v", err)
		}
	}()

	waitForShutdown()

	log.Println("hub shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

// buildConsole wires the operator console to Telegram via Shoutrrr when
// a bot token is configured, otherwise falls back to a non-approving
// noop adapter so no join is approved (joins stay pending) and every
// mission approval is denied, rather than silently auto-approved.
func buildConsole(cfg *config.Config) console.Adapter {
	if cfg.Telegram.BotToken == "" {
		log.Println("warning: no telegram bot token configured, operator console is disabled (joins stay pending, approvals auto-deny)")
		return console.NewNoopAdapter(false)
	}
	url := fmt.Sprintf("telegram://%s@telegram?chats=%s", cfg.Telegram.BotToken, cfg.Telegram.GroupID)
	return console.NewShoutrrrAdapter(notify.ShoutrrrSender{}, url, 10*time.Minute)
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
