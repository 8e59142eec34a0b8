package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"intercom/internal/config"
	"intercom/internal/daemonserver"
	"intercom/internal/events"
	"intercom/internal/hubclient"
)

var daemonConfigPath string

func newDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the Daemon: subprocess launcher, sessions, and inbox delivery",
		RunE:  runDaemon,
	}
	cmd.Flags().StringVarP(&daemonConfigPath, "config", "c", "intercom.yaml", "path to intercom.yaml")
	return cmd
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(daemonConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Mode = config.ModeDaemon
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = "."
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir %s: %w", stateDir, err)
	}

	bus := events.NewBus()
	srv := daemonserver.New(cfg.Machine.ID, cfg.Auth.SharedToken, stateDir, cfg.Launcher, bus)

	httpSrv := &http.Server{
		Addr:    cfg.Machine.DaemonAddr,
		Handler: srv.Handler(),
	}

	go func() {
		log.Printf("intercom daemon %s listening on %s", cfg.Machine.ID, cfg.Machine.DaemonAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("daemon server: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go runJoinAndHeartbeatLoop(ctx, cfg, srv, stateDir)

	waitForShutdown()
	cancel()

	log.Println("daemon shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// authStateFile persists the Hub-issued token, mirroring the teacher's
// cmd/agent/auth.go authState-on-disk pattern, so a restarted daemon
// doesn't re-run the join handshake.
const authStateFile = "auth.json"

type authState struct {
	Token string `json:"token"`
}

func loadAuthState(stateDir string) *authState {
	data, err := os.ReadFile(filepath.Join(stateDir, authStateFile))
	if err != nil {
		return nil
	}
	var s authState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	return &s
}

func saveAuthState(stateDir string, s *authState) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(stateDir, authStateFile), data, 0o600)
}

// runJoinAndHeartbeatLoop joins the Hub if no token is persisted yet,
// polling join status while pending, then heartbeats every 10s with
// the daemon's currently registered sessions.
func runJoinAndHeartbeatLoop(ctx context.Context, cfg *config.Config, srv *daemonserver.Server, stateDir string) {
	client := hubclient.New(cfg.Hub.URL, cfg.Machine.ID, cfg.Auth.Token)

	if state := loadAuthState(stateDir); state != nil && state.Token != "" {
		client.SetToken(state.Token)
	} else if err := joinHub(ctx, client, cfg, stateDir); err != nil {
		log.Printf("daemon: join failed: %v", err)
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sendHeartbeat(ctx, client, cfg, srv)
		}
	}
}

func joinHub(ctx context.Context, client *hubclient.Client, cfg *config.Config, stateDir string) error {
	resp, err := client.Join(ctx, hubclient.JoinRequest{
		MachineID:   cfg.Machine.ID,
		DisplayName: cfg.Machine.DisplayName,
		OverlayIP:   cfg.Machine.OverlayIP,
	})
	if err != nil {
		return fmt.Errorf("join request: %w", err)
	}

	for resp.Status == "pending_approval" || resp.Status == "pending" {
		time.Sleep(5 * time.Second)
		resp, err = client.JoinStatus(ctx, cfg.Machine.ID)
		if err != nil {
			return fmt.Errorf("join status: %w", err)
		}
	}

	if resp.Status != "approved" || resp.Token == "" {
		return fmt.Errorf("join was not approved (status=%s)", resp.Status)
	}

	client.SetToken(resp.Token)
	return saveAuthState(stateDir, &authState{Token: resp.Token})
}

func sendHeartbeat(ctx context.Context, client *hubclient.Client, cfg *config.Config, srv *daemonserver.Server) {
	sessions := srv.Sessions()
	active := make([]hubclient.HeartbeatSession, 0, len(sessions))
	for _, s := range sessions {
		active = append(active, hubclient.HeartbeatSession{
			SessionID: s.SessionID,
			Project:   s.ProjectID,
			Status:    string(s.Status),
			Summary:   s.Summary,
		})
	}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Heartbeat(hctx, hubclient.HeartbeatRequest{
		MachineID:      cfg.Machine.ID,
		OverlayIP:      cfg.Machine.OverlayIP,
		DaemonURL:      cfg.Machine.DaemonURL,
		ActiveSessions: active,
	}); err != nil {
		log.Printf("daemon: heartbeat failed: %v", err)
	}
}
