package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"intercom/internal/config"
	"intercom/internal/console"
	"intercom/internal/daemonserver"
	"intercom/internal/events"
	"intercom/internal/hubclient"
	"intercom/internal/hubserver"
	"intercom/internal/model"
	"intercom/internal/notify"
	"intercom/internal/policy"
	"intercom/internal/registry"
	"intercom/internal/router"
)

var standaloneConfigPath string

func newStandaloneCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "standalone",
		Short: "Run an in-process Hub and Daemon for single-machine use",
		RunE:  runStandalone,
	}
	cmd.Flags().StringVarP(&standaloneConfigPath, "config", "c", "intercom.yaml", "path to intercom.yaml")
	return cmd
}

// runStandalone bootstraps a Hub and Daemon in one process: the local
// machine is self-registered and self-approved in the registry, since
// there is no second machine to run the join handshake against.
func runStandalone(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(standaloneConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Mode = config.ModeStandalone
	if cfg.Machine.ID == "" {
		cfg.Machine.ID = "local"
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = "."
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir %s: %w", stateDir, err)
	}

	reg, err := registry.Init(cfg.Hub.DBPath)
	if err != nil {
		return fmt.Errorf("opening registry %s: %w", cfg.Hub.DBPath, err)
	}
	defer reg.Close()

	if err := notify.Migrate(reg.DB()); err != nil {
		return fmt.Errorf("running notification migrations: %w", err)
	}

	if _, err := reg.RegisterMachine(cfg.Machine.ID, cfg.Machine.DisplayName, cfg.Machine.OverlayIP, cfg.Machine.DaemonURL); err != nil {
		return fmt.Errorf("self-registering machine: %w", err)
	}
	token, err := reg.ApproveJoin(cfg.Machine.ID)
	if err != nil {
		return fmt.Errorf("self-approving machine: %w", err)
	}
	cfg.Auth.Token = token

	pol := model.ApprovalPolicy{DefaultApproval: model.ApprovalOnce}
	if cfg.Hub.PolicyPath != "" {
		pol, err = policy.LoadFile(cfg.Hub.PolicyPath)
		if err != nil {
			return fmt.Errorf("loading policy %s: %w", cfg.Hub.PolicyPath, err)
		}
	}
	eng := policy.NewEngine(pol)
	consoleAdapter := console.NewNoopAdapter(true)
	bus := events.NewBus()

	notifier := notify.NewDispatcher(reg.DB(), bus, notify.ShoutrrrSender{})
	notifier.Start()
	defer notifier.Stop()

	daemonSrv := daemonserver.New(cfg.Machine.ID, token, stateDir, cfg.Launcher, bus)
	dispatcher := hubclient.NewPool(cfg.Machine.ID, token)
	rt := router.New(reg, eng, consoleAdapter, dispatcher, bus)
	hubSrv := hubserver.New(reg, rt, consoleAdapter, bus)

	hubHTTP := &http.Server{Addr: cfg.Hub.ListenAddr, Handler: hubSrv.Handler()}
	daemonHTTP := &http.Server{Addr: cfg.Machine.DaemonAddr, Handler: daemonSrv.Handler()}

	go func() {
		log.Printf("intercom standalone hub listening on %s", cfg.Hub.ListenAddr)
		if err := hubHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("standalone hub server: %v", err)
		}
	}()
	go func() {
		log.Printf("intercom standalone daemon listening on %s", cfg.Machine.DaemonAddr)
		if err := daemonHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("standalone daemon server: %v", err)
		}
	}()

	waitForShutdown()

	log.Println("standalone shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hubHTTP.Shutdown(ctx)
	return daemonHTTP.Shutdown(ctx)
}
