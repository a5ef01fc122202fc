// Package interceptor implements the ACP protocol observation engine: a
// transparent bidirectional stdio pump between an editor and an agent
// subprocess that forwards every JSON-RPC frame unchanged while emitting
// OpenTelemetry spans and metrics for prompt turns, streaming output and
// tool invocations.
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/acptraces/pkg/telemetry"
)

const (
	// flushTimeout bounds the exporter drain during shutdown.
	flushTimeout = 5 * time.Second

	// killGrace is how long the child gets between a polite nudge (stdin
	// close or SIGTERM) and a hard kill.
	killGrace = 3 * time.Second
)

// Interceptor owns the child process, the two forwarding pumps and the
// span manager, and coordinates their shutdown.
type Interceptor struct {
	command  []string
	exporter telemetry.Exporter
	spans    *SpanManager
	logger   *zap.Logger

	stdin  io.Reader
	stdout io.Writer
}

// New builds an interceptor for the given agent command line.
func New(command []string, exporter telemetry.Exporter, recordContent bool, logger *zap.Logger) *Interceptor {
	return &Interceptor{
		command:  command,
		exporter: exporter,
		spans:    NewSpanManager(exporter, logger, recordContent),
		logger:   logger,
		stdin:    os.Stdin,
		stdout:   os.Stdout,
	}
}

// Run spawns the agent, forwards frames until one side closes or ctx is
// cancelled, drains observation state, flushes the exporter, and returns
// the exit code the outer process should report: the child's code
// verbatim on a normal exit, 0 when the child was torn down by editor
// EOF or a signal, 1 on a fatal forwarding error.
func (ic *Interceptor) Run(ctx context.Context) (int, error) {
	if len(ic.command) == 0 {
		return 1, errors.New("no agent command specified")
	}

	child := exec.Command(ic.command[0], ic.command[1:]...)
	child.Env = os.Environ()
	// Child stderr passes straight through, unobserved.
	child.Stderr = os.Stderr

	childStdin, err := child.StdinPipe()
	if err != nil {
		return 1, fmt.Errorf("opening agent stdin: %w", err)
	}
	childStdout, err := child.StdoutPipe()
	if err != nil {
		return 1, fmt.Errorf("opening agent stdout: %w", err)
	}

	ic.logger.Info("spawning agent",
		zap.String("cmd", ic.command[0]),
		zap.Strings("args", ic.command[1:]),
	)

	if err := child.Start(); err != nil {
		return 1, fmt.Errorf("spawning %s: %w", ic.command[0], err)
	}

	editorDone := make(chan error, 1)
	go func() {
		err := ic.pump(EditorToAgent, ic.stdin, childStdin)
		// Propagate editor EOF: closing the agent's stdin is the polite
		// way to ask an ACP agent to exit.
		_ = childStdin.Close()
		editorDone <- err
	}()

	agentDone := make(chan error, 1)
	go func() {
		agentDone <- ic.pump(AgentToEditor, childStdout, ic.stdout)
	}()

	var editorErr, agentErr error
	editorClosed := false
	cancelled := false

	editorCh := editorDone
	signalCh := ctx.Done()

	// The agent pump finishing means the child's stdout is gone — the one
	// reliable signal that the child is done talking. Everything else
	// (editor EOF, cancellation) just accelerates getting there.
	for agentFinished := false; !agentFinished; {
		select {
		case agentErr = <-agentDone:
			agentFinished = true

		case editorErr = <-editorCh:
			editorCh = nil
			editorClosed = true
			ic.logger.Info("editor stream closed")
			ic.scheduleKill(child)

		case <-signalCh:
			signalCh = nil
			cancelled = true
			ic.logger.Info("cancellation received, signalling agent")
			_ = child.Process.Signal(syscall.SIGTERM)
			ic.scheduleKill(child)
		}
	}

	if agentErr != nil {
		// The editor-side write failed mid-stream; the child may still be
		// producing. Reap it so Wait cannot hang.
		_ = child.Process.Kill()
	}
	// Backstop for any path where the child outlives its streams.
	ic.scheduleKill(child)

	waitErr := child.Wait()

	// The editor pump may stay blocked on a stdin read forever; collect
	// its result only if it is already available.
	select {
	case editorErr = <-editorCh:
	default:
	}

	ic.spans.Shutdown()

	flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := ic.exporter.Shutdown(flushCtx); err != nil {
		ic.logger.Warn("telemetry flush incomplete", zap.Error(err))
	}

	if fatal := firstFatal(editorErr, agentErr); fatal != nil {
		return 1, fmt.Errorf("forwarding failed: %w", fatal)
	}

	code := exitCode(child, waitErr)
	if code < 0 {
		// Signal-terminated child. If we tore it down ourselves after a
		// normal editor EOF or a cancellation, that is a clean exit.
		if editorClosed || cancelled {
			code = 0
		} else {
			code = 1
		}
	}

	ic.logger.Info("agent exited", zap.Int("code", code))
	return code, nil
}

// scheduleKill hard-kills the child after the grace period. Killing an
// already-exited process is a harmless no-op.
func (ic *Interceptor) scheduleKill(child *exec.Cmd) {
	go func() {
		time.Sleep(killGrace)
		_ = child.Process.Kill()
	}()
}

// pump runs one forwarding direction: read a frame, observe it, write it
// unchanged downstream. EOF, or a read or write error meaning the peer
// went away, is a clean stop; any other error is fatal to the direction.
func (ic *Interceptor) pump(direction Direction, src io.Reader, dst io.Writer) error {
	reader := NewFrameReader(src)
	writer := NewFrameWriter(dst)

	for {
		frame, err := reader.Next()
		if len(frame) > 0 {
			ic.spans.Observe(direction, Classify(frame))
			if werr := writer.Write(frame); werr != nil {
				if isStreamEnd(werr) {
					// The peer went away mid-stream (child exit, editor
					// hangup). Not our failure; the exit path sorts out
					// the code.
					return nil
				}
				return fmt.Errorf("writing frame (%s): %w", direction, werr)
			}
		}
		if err != nil {
			if isStreamEnd(err) {
				return nil
			}
			return fmt.Errorf("reading frame (%s): %w", direction, err)
		}
	}
}

// isStreamEnd reports whether a read or write error just means the peer
// went away.
func isStreamEnd(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.EPIPE)
}

func firstFatal(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func exitCode(child *exec.Cmd, waitErr error) int {
	if child.ProcessState != nil {
		return child.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return 1
	}
	return 0
}
