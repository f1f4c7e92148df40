package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/devaihq/devai/internal/api"
	"github.com/devaihq/devai/internal/daemon"
	webui "github.com/devaihq/devai/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API and web UI server",
	Long: `Run an HTTP server exposing the REST API under /api/v1 and the
embedded web UI at /. By default it listens on port 8080 in the
foreground. Use 'serve start' to run it in the background instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a background server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.AddCommand(serveStartCmd, serveStopCmd, serveStatusCmd)

	serveCmd.PersistentFlags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.PersistentFlags().Lookup("port"))
}

// pidFile returns the PID file used to track a background server.
func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "devai-serve.pid"))
}

// serveLogPath is where a background server writes its output.
func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "devai-serve.log")
}

// serveRun runs the server in the foreground until a shutdown signal.
func serveRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	runner, gw, err := buildDeps(ctx, s)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	uiHandler, err := webui.Handler()
	if err != nil {
		return fmt.Errorf("initialize UI handler: %w", err)
	}

	apiServer := api.NewServer(s, runner, gw, viper.GetDuration("github.timeout"))
	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer.Router())
	mux.Handle("/", uiHandler)

	pf := pidFile()
	if pid, running := pf.IsRunning(); running && pid != os.Getpid() {
		return fmt.Errorf("server already running (pid %d)", pid)
	}
	if err := pf.Write(); err != nil {
		ui.Warning("Cannot write PID file: %v", err)
	} else {
		defer func() { _ = pf.Remove() }()
	}

	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	ui.Success("devai listening on http://localhost%s", addr)
	if runner == nil {
		ui.Warning("AI not configured; task execution is disabled (set ANTHROPIC_API_KEY)")
	}
	if gw == nil {
		ui.Warning("GitHub not configured; imports and pull requests are disabled (set GITHUB_TOKEN)")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals()...)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		ui.Info("Received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// serveStartRun launches the server as a detached background process.
func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, "serve", "--port", strconv.Itoa(viper.GetInt("port")))
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start background server: %w", err)
	}

	ui.Success("Server started in the background (pid %d)", child.Process.Pid)
	ui.Info("Logs: %s", serveLogPath())
	return nil
}

// serveStopRun signals a background server to shut down.
func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		_ = pf.Remove()
		return fmt.Errorf("server not running")
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("stop server (pid %d): %w", pid, err)
	}

	// Wait briefly for a clean exit, then escalate.
	for i := 0; i < 20; i++ {
		if _, still := pf.IsRunning(); !still {
			ui.Success("Stopped server (pid %d)", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := pf.Signal(sigKILL()); err != nil {
		return fmt.Errorf("kill server (pid %d): %w", pid, err)
	}
	_ = pf.Remove()
	ui.Warning("Server (pid %d) did not exit cleanly; killed", pid)
	return nil
}

// serveStatusRun reports whether a background server is running.
func serveStatusRun() error {
	if pid, running := pidFile().IsRunning(); running {
		ui.Success("Server running (pid %d)", pid)
		return nil
	}
	ui.Info("Server not running")
	return nil
}
