package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/statcode-ai/toolguard/internal/config"
	"github.com/statcode-ai/toolguard/internal/consts"
	"github.com/statcode-ai/toolguard/internal/llm"
	"github.com/statcode-ai/toolguard/internal/logger"
	"github.com/statcode-ai/toolguard/internal/telemetry"
	"github.com/statcode-ai/toolguard/internal/timeout"
	"github.com/statcode-ai/toolguard/internal/tools"
	"github.com/statcode-ai/toolguard/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "config file path (default: user config dir)")
		toolName    = flag.String("tool", tools.ToolNameExecuteCommand, "tool name to record the operation under")
		taskID      = flag.String("task", "", "task ID for telemetry correlation")
		timeoutFlag = flag.Duration("timeout", 0, "operation deadline (default: from config)")
		serveAddr   = flag.String("serve", "", "also start the status server on this address")
		noFallback  = flag.Bool("no-fallback", false, "disable fallback question generation")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] -- <command> [args...]\n\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "Runs a command under a tracked timeout and prints the fallback\nquestion when the deadline fires.\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	command := flag.Args()
	if len(command) == 0 {
		flag.Usage()
		return fmt.Errorf("no command given")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return err
	}
	defer func() { _ = logger.Global().Close() }()

	deadline := *timeoutFlag
	if deadline <= 0 {
		deadline = cfg.TimeoutFor(*toolName)
	}

	managerOpts := []timeout.Option{timeout.WithHistorySize(cfg.EventHistorySize)}

	var store *telemetry.SQLiteStore
	if cfg.TelemetryDBPath != "" {
		store, err = telemetry.NewSQLiteStore(cfg.TelemetryDBPath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		managerOpts = append(managerOpts, timeout.WithTelemetry(store))
	}

	manager := timeout.NewManager(managerOpts...)
	defer manager.Dispose()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := *serveAddr
	if addr == "" {
		addr = cfg.StatusAddr
	}
	if addr != "" {
		server := web.NewServer(addr, manager, store)
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), consts.Timeout5Seconds)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		// Hot-reload the log level while serving. The running operation
		// keeps the deadline it started with.
		watcher, err := config.NewWatcher(*configPath)
		if err != nil {
			logger.Warn("config hot-reload unavailable: %v", err)
		} else {
			defer func() { _ = watcher.Close() }()
			go func() {
				for updated := range watcher.Updates() {
					logger.Global().SetLevel(logger.ParseLevel(updated.LogLevel))
				}
			}()
		}
	}

	completer, err := llm.NewClient(cfg.Provider)
	if err != nil {
		logger.Warn("provider unavailable, AI fallback disabled: %v", err)
	}

	workingDir, _ := os.Getwd()
	task := &cliTask{completer: completer, workingDir: workingDir}

	opCfg := timeout.OperationConfig{
		ToolName:       *toolName,
		Timeout:        deadline,
		EnableFallback: cfg.EnableFallback && !*noFallback,
		TaskID:         *taskID,
	}

	result := timeout.Execute(ctx, manager, opCfg, func(opCtx context.Context) (commandOutput, error) {
		return runCommand(opCtx, command)
	})

	switch {
	case result.Success:
		fmt.Print(result.Value.stdout)
		fmt.Fprint(os.Stderr, result.Value.stderr)
		logger.Info("command completed in %s", result.ExecutionTime)
		if result.Value.exitCode != 0 {
			os.Exit(result.Value.exitCode)
		}
		return nil

	case result.TimedOut:
		if result.FallbackTriggered {
			composer := timeout.NewFallbackComposer()
			response := composer.CreateTimeoutResponse(ctx, *toolName, deadline, result.ExecutionTime, &timeout.FallbackContext{
				ToolName:      *toolName,
				Timeout:       deadline,
				ExecutionTime: result.ExecutionTime,
				ToolParams:    map[string]interface{}{"command": strings.Join(command, " ")},
				WorkingDir:    workingDir,
			}, task)
			fmt.Println(response)
			return nil
		}
		return result.Err

	default:
		return result.Err
	}
}

type commandOutput struct {
	stdout   string
	stderr   string
	exitCode int
}

func runCommand(ctx context.Context, command []string) (commandOutput, error) {
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := commandOutput{stdout: stdout.String(), stderr: stderr.String()}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			out.exitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, err
	}
	return out, nil
}

// cliTask adapts the CLI environment to the composer's task handle.
type cliTask struct {
	completer  llm.Client
	workingDir string
}

func (t *cliTask) Completer() timeout.Completer {
	if t.completer == nil {
		return nil
	}
	return t.completer
}

func (t *cliTask) Say(ctx context.Context, kind string, payload map[string]interface{}) error {
	if kind != "tool_timeout" {
		return nil
	}
	tool, _ := payload["tool"].(string)
	running, _ := payload["may_still_be_running"].(bool)
	notice := fmt.Sprintf("! %s timed out", tool)
	if running {
		notice += " (may still be running in the background)"
	}
	fmt.Fprintln(os.Stderr, notice)
	return nil
}

func (t *cliTask) WorkingDir() string {
	return t.workingDir
}
