package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	serverrun "github.com/PhoenixWild29/APFA-Prod-sub001/internal/cmd/server"
	cfgpkg "github.com/PhoenixWild29/APFA-Prod-sub001/internal/config"
	pebblestore "github.com/PhoenixWild29/APFA-Prod-sub001/internal/storage/pebble"
	logpkg "github.com/PhoenixWild29/APFA-Prod-sub001/pkg/log"
)

func main() {
	// Respect DISPATCH_LOG_LEVEL for both CLI and server start output
	level := os.Getenv("DISPATCH_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch background job CLI",
		Long:  "Dispatch is a single-binary background job service. This CLI manages the server and basic operations.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start dispatch server (HTTP API and broker)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			configPath, _ := cmd.Flags().GetString("config")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			mode := pebblestore.FsyncModeAlways
			switch fsyncMode {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "always":
				mode = pebblestore.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfgpkg.FromEnv(&cfg)
			if logLevel != "" {
				_ = os.Setenv("DISPATCH_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("DISPATCH_LOG_FORMAT", logFormat)
			}
			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:  dataDir,
				HTTPAddr: httpAddr,
				Fsync:    mode,
				Config:   cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("http", ":8080", "HTTP listen address")
	serverStartCmd.Flags().String("config", "", "Path to JSON config file")
	serverStartCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().String("log-level", os.Getenv("DISPATCH_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("DISPATCH_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// task commands
	taskCmd := &cobra.Command{Use: "task", Short: "Task operations"}
	taskSubmitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _ := cmd.Flags().GetString("routing-key")
			payload, _ := cmd.Flags().GetString("payload")
			priority, _ := cmd.Flags().GetString("priority")
			body := map[string]any{"routing_key": key, "payload": json.RawMessage(payload)}
			if priority != "" {
				body["priority"] = priority
			}
			b, _ := json.Marshal(body)
			resp, err := http.Post(apiURL()+"/v1/tasks/submit", "application/json", bytes.NewReader(b))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			out, _ := io.ReadAll(resp.Body)
			fmt.Println("status:", resp.Status)
			fmt.Println(string(bytes.TrimSpace(out)))
			return nil
		},
	}
	taskSubmitCmd.Flags().String("routing-key", "", "Routing key (e.g. ingestion)")
	taskSubmitCmd.Flags().String("payload", "{}", "JSON payload")
	taskSubmitCmd.Flags().String("priority", "", "Priority: high|default|low")
	_ = taskSubmitCmd.MarkFlagRequired("routing-key")
	taskCmd.AddCommand(taskSubmitCmd)

	taskGetCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(apiURL() + "/v1/tasks/get?id=" + url.QueryEscape(args[0]))
		},
	}
	taskCmd.AddCommand(taskGetCmd)

	taskCancelCmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Request task cancellation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Post(apiURL()+"/v1/tasks/cancel?id="+url.QueryEscape(args[0]), "application/json", nil)
			if err != nil {
				return err
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			fmt.Println("status:", resp.Status)
			return nil
		},
	}
	taskCmd.AddCommand(taskCancelCmd)
	rootCmd.AddCommand(taskCmd)

	// dlq commands
	dlqCmd := &cobra.Command{Use: "dlq", Short: "Dead-letter operations"}
	dlqListCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			filter, _ := cmd.Flags().GetString("filter")
			u := apiURL() + "/v1/admin/dlq?queue=" + url.QueryEscape(queue)
			if filter != "" {
				u += "&filter=" + url.QueryEscape(filter)
			}
			return getJSON(u)
		},
	}
	dlqListCmd.Flags().String("queue", "default", "Queue name")
	dlqListCmd.Flags().String("filter", "", "CEL filter over routing_key, attempts, error, age_ms, json")
	dlqCmd.AddCommand(dlqListCmd)

	dlqRequeueCmd := &cobra.Command{
		Use:   "requeue <id>",
		Short: "Requeue a dead-lettered task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Post(apiURL()+"/v1/admin/dlq/requeue?id="+url.QueryEscape(args[0]), "application/json", nil)
			if err != nil {
				return err
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			fmt.Println("status:", resp.Status)
			return nil
		},
	}
	dlqCmd.AddCommand(dlqRequeueCmd)
	rootCmd.AddCommand(dlqCmd)

	// stats
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(apiURL() + "/v1/admin/stats")
		},
	}
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getJSON(u string) error {
	resp, err := http.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Println("status:", resp.Status)
	fmt.Println(string(bytes.TrimSpace(out)))
	return nil
}

func apiURL() string {
	if v := os.Getenv("DISPATCH_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
