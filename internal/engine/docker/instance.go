package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"simorchestrator/internal/engine"

	"github.com/docker/docker/api/types/container"
)

// instance drives one run container.
type instance struct {
	engine      *Engine
	containerID string
	logger      *slog.Logger

	mu          sync.Mutex
	state       engine.State
	simTime     float64
	port        int
	portKnown   bool
	started     bool
	interrupted bool // stop or reset requested; container exit is not a failure
	closed      bool
}

func (i *instance) Advance(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return engine.ErrClosed
	}
	if i.started {
		i.mu.Unlock()
		return fmt.Errorf("advance from %s: %w", i.state, engine.ErrInvalidTransition)
	}
	i.started = true
	i.interrupted = false
	i.state = engine.StateRunning
	i.mu.Unlock()

	if err := i.engine.client.ContainerStart(ctx, i.containerID, container.StartOptions{}); err != nil {
		i.setState(engine.StateError)
		return fmt.Errorf("start container: %w", err)
	}
	i.logger.Info("Simulation container started")

	if port, ok := i.engine.publishedPort(ctx, i.containerID); ok {
		i.mu.Lock()
		i.port, i.portKnown = port, true
		i.mu.Unlock()
	}

	logCtx, logCancel := context.WithCancel(ctx)
	logDone := make(chan struct{})
	go func() {
		defer close(logDone)
		i.followProgress(logCtx)
	}()

	exitCode, exitErr := i.waitForExit(ctx)
	logCancel()
	<-logDone

	i.mu.Lock()
	defer i.mu.Unlock()

	switch {
	case i.interrupted:
		i.state = engine.StateIdle
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case exitErr != nil:
		i.state = engine.StateError
		return fmt.Errorf("wait for container: %w", exitErr)
	case exitCode != 0:
		i.state = engine.StateError
		return fmt.Errorf("simulation container exited with code %d", exitCode)
	default:
		i.state = engine.StateFinished
		i.logger.Info("Simulation container finished", "simTime", i.simTime)
		return nil
	}
}

func (i *instance) waitForExit(ctx context.Context) (int, error) {
	statusCh, errCh := i.engine.client.ContainerWait(ctx, i.containerID, container.WaitConditionNotRunning)

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("%s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

// followProgress reads container logs and records the latest reported simulated time.
func (i *instance) followProgress(ctx context.Context) {
	logs, err := i.engine.client.ContainerLogs(ctx, i.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		i.logger.Warn("Failed to follow container logs", "error", err)
		return
	}
	defer logs.Close()

	err = readFrames(logs, func(stream byte, line string) {
		if t, ok := parseProgress(line); ok {
			i.recordTime(t)
			return
		}
		if stream == streamStderr {
			i.logger.Debug("Simulation stderr", "line", line)
		}
	})
	if err != nil && ctx.Err() == nil {
		i.logger.Debug("Log stream ended", "error", err)
	}
}

func (i *instance) recordTime(t float64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if t > i.simTime {
		i.simTime = t
	}
}

func (i *instance) Pause(ctx context.Context) error {
	if err := i.require("pause", engine.StateRunning); err != nil {
		return err
	}
	if err := i.engine.client.ContainerPause(ctx, i.containerID); err != nil {
		return fmt.Errorf("pause container: %w", err)
	}
	i.setState(engine.StatePaused)
	return nil
}

func (i *instance) Resume(ctx context.Context) error {
	if err := i.require("resume", engine.StatePaused); err != nil {
		return err
	}
	if err := i.engine.client.ContainerUnpause(ctx, i.containerID); err != nil {
		return fmt.Errorf("unpause container: %w", err)
	}
	i.setState(engine.StateRunning)
	return nil
}

func (i *instance) Stop(ctx context.Context) error {
	if err := i.require("stop", engine.StateRunning, engine.StatePaused); err != nil {
		return err
	}
	return i.halt(ctx, false)
}

func (i *instance) Reset(ctx context.Context) error {
	i.mu.Lock()
	closed, state := i.closed, i.state
	i.mu.Unlock()
	if closed {
		return engine.ErrClosed
	}
	if state == engine.StateRunning || state == engine.StatePaused {
		return i.halt(ctx, true)
	}

	i.mu.Lock()
	i.state = engine.StateIdle
	i.simTime = 0
	i.started = false
	i.mu.Unlock()
	return nil
}

// halt stops the container and marks the exit as requested.
func (i *instance) halt(ctx context.Context, rewind bool) error {
	i.mu.Lock()
	wasPaused := i.state == engine.StatePaused
	i.interrupted = true
	i.mu.Unlock()

	if wasPaused {
		if err := i.engine.client.ContainerUnpause(ctx, i.containerID); err != nil {
			i.logger.Warn("Failed to unpause container before stop", "error", err)
		}
	}
	if err := i.engine.stopContainer(ctx, i.containerID); err != nil {
		i.mu.Lock()
		i.interrupted = false
		i.mu.Unlock()
		return fmt.Errorf("stop container: %w", err)
	}

	i.mu.Lock()
	i.state = engine.StateIdle
	if rewind {
		i.simTime = 0
		i.started = false
	}
	i.mu.Unlock()
	return nil
}

func (i *instance) State() engine.State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *instance) Time() float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.simTime
}

func (i *instance) Port() (int, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.port, i.portKnown
}

func (i *instance) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.interrupted = true
	i.mu.Unlock()

	if err := i.engine.removeContainer(context.Background(), i.containerID); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

func (i *instance) setState(s engine.State) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = s
}

// require checks that the instance is open and in one of the allowed states.
func (i *instance) require(verb string, allowed ...engine.State) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return engine.ErrClosed
	}
	for _, s := range allowed {
		if i.state == s {
			return nil
		}
	}
	return fmt.Errorf("%s from %s: %w", verb, i.state, engine.ErrInvalidTransition)
}

var (
	_ engine.Handle        = (*instance)(nil)
	_ engine.PortPublisher = (*instance)(nil)
)
