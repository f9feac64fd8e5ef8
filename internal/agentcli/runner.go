package agentcli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"pkt.systems/parley/core"
	"pkt.systems/parley/schema"
	"pkt.systems/pslog"
)

// Config controls how the agent CLI is invoked.
type Config struct {
	BinaryPath string
	ExtraArgs  []string
	Env        []string
}

// Invoker spawns the agent CLI in exec mode and streams its JSONL output.
// It implements core.Invoker.
type Invoker struct {
	cfg Config
}

// NewInvoker constructs an agent CLI invoker.
func NewInvoker(cfg Config) (*Invoker, error) {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "codex"
	}
	return &Invoker{cfg: cfg}, nil
}

// Invoke starts an agent process for one turn. The prompt travels on stdin;
// the provider-side conversation is continued through the resume session id.
func (r *Invoker) Invoke(ctx context.Context, req core.InvokeRequest) (core.StreamHandle, error) {
	prompt := buildPrompt(req)
	if prompt == "" {
		return nil, schema.ErrEmptyMessage
	}
	args := buildExecArgs(r.cfg, req)
	log := pslog.Ctx(ctx)
	if log != nil {
		log.Info(
			"agent exec start",
			"workspace", req.Workspace,
			"args", args,
			"model", req.Model,
			"resume", req.SessionID != "",
			"continuation", req.Partial != nil,
			"prompt_len", len(prompt),
			"env_extra", len(r.cfg.Env),
		)
	}

	cmd := exec.CommandContext(ctx, r.cfg.BinaryPath, args...)
	if len(r.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), r.cfg.Env...)
	} else {
		cmd.Env = append(cmd.Env, os.Environ()...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		if log != nil {
			log.Error("agent exec stdout failed", "err", err)
		}
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		if log != nil {
			log.Error("agent exec stderr failed", "err", err)
		}
		return nil, err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		if log != nil {
			log.Error("agent exec stdin failed", "err", err)
		}
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		if log != nil {
			log.Error("agent exec start failed", "err", err)
		}
		return nil, err
	}
	if log != nil && cmd.Process != nil {
		log.Info("agent exec started", "pid", cmd.Process.Pid)
	}

	go func() {
		_, _ = io.WriteString(stdin, prompt)
		_ = stdin.Close()
	}()

	stream := newCombinedStream(ctx, stdout, stderr)
	return &streamHandle{
		cmd:     cmd,
		stream:  stream,
		log:     log,
		started: time.Now(),
	}, nil
}

// buildPrompt derives the stdin payload for the turn. A fresh turn sends the
// latest user message; a continuation restates the accumulated partial and
// asks the model to pick up where it stopped.
func buildPrompt(req core.InvokeRequest) string {
	if req.Partial != nil {
		var b strings.Builder
		b.WriteString("Your previous answer was cut off. Continue it from where it stopped.\n")
		if text := req.Partial.VisibleText(); text != "" {
			b.WriteString("Partial answer so far:\n")
			b.WriteString(text)
			b.WriteString("\n")
		}
		return b.String()
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == schema.RoleUser {
			return req.Messages[i].VisibleText()
		}
	}
	return ""
}

func buildExecArgs(cfg Config, req core.InvokeRequest) []string {
	args := []string{"exec", "--json"}
	if req.Model != "" {
		args = append(args, "--model", string(req.Model))
	}
	if req.ReasoningEffort != "" {
		args = append(args, "--reasoning-effort", req.ReasoningEffort)
	}
	args = append(args, cfg.ExtraArgs...)
	if req.SessionID != "" {
		args = append(args, "resume", string(req.SessionID))
	}
	args = append(args, "-")
	return args
}

type streamHandle struct {
	cmd     *exec.Cmd
	stream  *combinedStream
	log     pslog.Logger
	started time.Time

	waitOnce sync.Once
	waitDone chan struct{}
	waitErr  error
}

func (h *streamHandle) Events() core.EventStream {
	return h.stream
}

// Cancel asks the process to stop with SIGTERM. The stream drains whatever
// the process flushed before exiting.
func (h *streamHandle) Cancel(ctx context.Context) error {
	_ = ctx
	if h.cmd == nil || h.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

// Wait reaps the process. It gives up when the context expires so a process
// that closed its pipes but lingers cannot stall the caller's terminal
// commit; the reaper goroutine finishes whenever the process actually dies.
func (h *streamHandle) Wait(ctx context.Context) (core.InvokeResult, error) {
	if h.cmd == nil {
		return core.InvokeResult{}, fmt.Errorf("process not started")
	}
	h.waitOnce.Do(func() {
		h.waitDone = make(chan struct{})
		go func() {
			h.waitErr = h.cmd.Wait()
			close(h.waitDone)
		}()
	})
	select {
	case <-ctx.Done():
		return core.InvokeResult{}, ctx.Err()
	case <-h.waitDone:
	}
	err := h.waitErr
	signal := ""
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				signal = status.Signal().String()
			}
		} else {
			if h.log != nil {
				h.log.Error("agent exec wait failed", "err", err)
			}
			return core.InvokeResult{}, err
		}
	}
	if h.log != nil {
		fields := []any{
			"exit_code", exitCode,
			"duration_ms", time.Since(h.started).Milliseconds(),
		}
		if signal != "" {
			fields = append(fields, "signal", signal)
		}
		if err != nil {
			fields = append(fields, "err", err)
		}
		h.log.Info("agent exec finished", fields...)
	}
	return core.InvokeResult{ExitCode: exitCode}, nil
}

func (h *streamHandle) Close() error {
	if h.stream != nil {
		_ = h.stream.Close()
	}
	return nil
}
