// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bureau-foundation/displaylauncher/lib/clock"
	"github.com/bureau-foundation/displaylauncher/lib/launch"
	"github.com/bureau-foundation/displaylauncher/lib/process"
	"github.com/bureau-foundation/displaylauncher/lib/readiness"
	"github.com/bureau-foundation/displaylauncher/lib/sdnotify"
	"golang.org/x/sys/unix"
)

// ErrForkFailed wraps failures to start the display server.
var ErrForkFailed = errors.New("starting display server failed")

// errServerExited ends the readiness wait when the server dies first.
var errServerExited = errors.New("display server exited")

// DefaultDisplay is the display a server uses when none is named
// and the readiness strategy does not report one.
const DefaultDisplay = ":0"

// DefaultStopTimeout is used when Session.StopTimeout is not set.
const DefaultStopTimeout = 5 * time.Second

// Signals are the signals a supervisor consumes.
var Signals = []os.Signal{unix.SIGTERM, unix.SIGINT, unix.SIGCHLD, unix.SIGHUP}

// NotifySignals routes Signals to a new buffered channel and returns
// it with a function that stops delivery. Call it before arming the
// readiness channel and pass the channel both to the readiness
// strategy as its interrupt source and to Config.Signals.
func NotifySignals() (<-chan os.Signal, func()) {
	signals := make(chan os.Signal, 32)
	signal.Notify(signals, Signals...)
	return signals, func() { signal.Stop(signals) }
}

// Notifier receives lifecycle events. *sdnotify.Notifier implements it.
// Watchdog events arrive from a separate goroutine, so Notify must be
// safe for concurrent use.
type Notifier interface {
	Notify(event sdnotify.Event, status string)
}

// Splash is the boot splash being handed off from. *splash.Plymouth
// implements it.
type Splash interface {
	IsActive(ctx context.Context) bool
	Deactivate(ctx context.Context)
	QuitWithTransition(ctx context.Context)
}

// Snapshotter copies the root window into a retained pixmap.
// *splash.Snapshotter implements it.
type Snapshotter interface {
	SnapshotRootWindow(ctx context.Context, display string) error
}

// Session describes the optional session process started once the
// server is ready.
type Session struct {
	// Command is the session's argv. Empty disables the session.
	Command []string

	// Env is the session's base environment; nil inherits the
	// launcher's. DISPLAY and XAUTHORITY are appended.
	Env []string

	// Critical stops the server when the session exits first.
	Critical bool

	// StopTimeout is how long the session has between SIGTERM and
	// SIGKILL once the server has exited.
	StopTimeout time.Duration

	Stdout *os.File
	Stderr *os.File
}

// Config holds the supervisor's collaborators. Spec, Channel, Starter
// and Signals are required.
type Config struct {
	// Spec is the resolved server launch. The readiness arguments are
	// added by the supervisor.
	Spec launch.Spec

	Channel readiness.Channel
	Starter launch.Starter
	Policy  readiness.Policy

	// Signals must carry every signal in Signals, registered before
	// Run is called. See NotifySignals.
	Signals <-chan os.Signal

	Session Session

	// Notifier, Splash and Snapshotter are optional.
	Notifier    Notifier
	Splash      Splash
	Snapshotter Snapshotter

	// WatchdogInterval enables Watchdog keep-alives for the whole of
	// Run, including the readiness wait.
	WatchdogInterval time.Duration

	// OnChange is called after every state change and whenever a
	// child pid is recorded or cleared.
	OnChange func(Status)

	Clock  clock.Clock
	Logger *slog.Logger
}

// Supervisor runs one display server. Use it once.
type Supervisor struct {
	spec        launch.Spec
	channel     readiness.Channel
	starter     launch.Starter
	policy      readiness.Policy
	signals     <-chan os.Signal
	session     Session
	notifier    Notifier
	splash      Splash
	snapshotter Snapshotter
	watchdog    time.Duration
	onChange    func(Status)
	clock       clock.Clock
	logger      *slog.Logger

	serverName   string
	status       Status
	serverStatus unix.WaitStatus
}

type nopNotifier struct{}

func (nopNotifier) Notify(sdnotify.Event, string) {}

// New validates config and returns a Supervisor.
func New(config Config) (*Supervisor, error) {
	if config.Spec.Program() == "" {
		return nil, errors.New("supervisor: launch spec is empty")
	}
	if config.Channel == nil {
		return nil, errors.New("supervisor: readiness channel is required")
	}
	if config.Starter == nil {
		return nil, errors.New("supervisor: starter is required")
	}
	if config.Signals == nil {
		return nil, errors.New("supervisor: signal channel is required")
	}

	if config.Policy.Timeout <= 0 {
		config.Policy = readiness.DefaultPolicy()
	}
	if config.Session.StopTimeout <= 0 {
		config.Session.StopTimeout = DefaultStopTimeout
	}
	if config.Notifier == nil {
		config.Notifier = nopNotifier{}
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Supervisor{
		spec:        config.Spec,
		channel:     config.Channel,
		starter:     config.Starter,
		policy:      config.Policy,
		signals:     config.Signals,
		session:     config.Session,
		notifier:    config.Notifier,
		splash:      config.Splash,
		snapshotter: config.Snapshotter,
		watchdog:    config.WatchdogInterval,
		onChange:    config.OnChange,
		clock:       config.Clock,
		logger:      config.Logger,
		serverName:  filepath.Base(config.Spec.Program()),
	}, nil
}

// Status returns the current status.
func (s *Supervisor) Status() Status { return s.status }

// Run starts the server and supervises it until it exits. It returns
// the launcher's exit code, and an error for launch failures: the
// server could not be started or never became ready. A server that
// exits abnormally is not an error; it is reported through the exit
// code. Cancelling ctx asks the server to terminate, the same as a
// SIGTERM to the launcher.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	s.transition(Starting)
	s.notifier.Notify(sdnotify.Starting, "starting "+s.serverName)
	defer s.keepAlive()()

	attachment, err := s.channel.Arm()
	if err != nil {
		return s.fail(fmt.Errorf("arming readiness channel: %w", err))
	}
	defer s.channel.Close()

	spec := s.spec.WithReadiness(attachment.Args)
	pid, err := s.starter.Start(spec, attachment)
	attachment.Release()
	if err != nil {
		return s.fail(fmt.Errorf("%w: %w", ErrForkFailed, err))
	}
	s.status.ServerPID = pid
	s.logger.Info("display server started", "pid", pid, "argv", spec.Argv())
	s.transition(WaitingForReady)

	err = readiness.Await(s.channel, s.clock, s.policy, s.handleWaitInterrupt, s.logger)
	switch {
	case errors.Is(err, errServerExited):
		s.logger.Error("display server exited before it was ready",
			append([]any{"pid", pid}, process.LogAttrs(s.serverStatus)...)...)
		return s.stop(), nil
	case err != nil:
		s.logger.Error("giving up on display server, leaving it running", "pid", pid, "error", err)
		return s.fail(err)
	}

	display := s.channel.Detail()
	if display == "" {
		display = spec.Display()
	}
	if display == "" {
		display = DefaultDisplay
	}
	s.status.Display = display
	s.logger.Info("display server ready", "pid", pid, "display", display)
	s.transition(Ready)

	s.handoff(ctx, display)
	s.startSession(display)

	s.transition(Running)
	return s.supervise(ctx), nil
}

// fail moves straight to Exited with FailureCode.
func (s *Supervisor) fail(err error) (int, error) {
	s.status.ExitCode = process.FailureCode
	s.transition(Exited)
	return process.FailureCode, err
}

func (s *Supervisor) transition(state State) {
	s.logger.Debug("supervisor state", "state", state.String())
	s.status.State = state
	s.publish()
}

func (s *Supervisor) publish() {
	if s.onChange != nil {
		s.onChange(s.status)
	}
}

// handleWaitInterrupt deals with whatever woke the readiness wait. A
// nil signal means the server closed its readiness pipe, which usually
// means it died.
func (s *Supervisor) handleWaitInterrupt(sig os.Signal) error {
	switch sig {
	case nil, unix.SIGCHLD:
		s.sweep()
		if s.status.ServerReaped {
			return errServerExited
		}
	default:
		s.handleSignal(sig)
	}
	return nil
}

// handoff moves the screen from the boot splash to the server and
// reports readiness. The splash is deactivated before READY=1 and
// told to quit after it.
func (s *Supervisor) handoff(ctx context.Context, display string) {
	splashActive := s.splash != nil && s.splash.IsActive(ctx)
	if splashActive {
		s.splash.Deactivate(ctx)
		if s.snapshotter != nil {
			if err := s.snapshotter.SnapshotRootWindow(ctx, display); err != nil {
				s.logger.Warn("root window snapshot failed", "display", display, "error", err)
			}
		}
	}

	s.notifier.Notify(sdnotify.Ready, s.serverName+" started on "+display)

	if splashActive {
		s.splash.QuitWithTransition(ctx)
	}
}

func (s *Supervisor) startSession(display string) {
	if len(s.session.Command) == 0 {
		return
	}

	env := s.session.Env
	if env == nil {
		env = os.Environ()
	}
	env = append(env[:len(env):len(env)], "DISPLAY="+display)
	if authFile := s.spec.AuthFile(); authFile != "" {
		env = append(env, "XAUTHORITY="+authFile)
	}

	pid, err := launch.StartDetached(s.session.Command, env, s.session.Stdout, s.session.Stderr)
	if err != nil {
		s.logger.Error("starting session failed", "command", s.session.Command, "error", err)
		if s.session.Critical {
			s.signalServer(unix.SIGTERM)
		}
		return
	}
	s.logger.Info("session started", "pid", pid, "command", s.session.Command)
	s.status.SessionPID = pid
	s.publish()
}

// supervise reaps children until the server has been reaped and
// returns the exit code.
func (s *Supervisor) supervise(ctx context.Context) int {
	done := ctx.Done()

	// SIGCHLDs that arrived during the handoff may already have been
	// consumed, so sweep once before waiting.
	s.sweep()
	for !s.status.ServerReaped {
		select {
		case sig := <-s.signals:
			if sig == unix.SIGCHLD {
				s.sweep()
			} else {
				s.handleSignal(sig)
			}
		case <-done:
			done = nil
			s.logger.Info("shutdown requested", "cause", context.Cause(ctx))
			s.signalServer(unix.SIGTERM)
		}
	}
	return s.stop()
}

// keepAlive sends Watchdog events every watchdog interval until the
// returned function is called. The readiness wait and the splash
// handoff block the main loop, so the ticks come from their own
// goroutine.
func (s *Supervisor) keepAlive() (stop func()) {
	if s.watchdog <= 0 {
		return func() {}
	}
	ticker := s.clock.NewTicker(s.watchdog)
	quit := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case <-ticker.C:
				s.notifier.Notify(sdnotify.Watchdog, "")
			case <-quit:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(quit)
		<-finished
	}
}

// stop handles the server's exit: stop the session, notify, exit.
func (s *Supervisor) stop() int {
	code := process.ExitCode(s.serverStatus)
	s.status.ExitCode = code
	s.transition(Stopping)
	s.notifier.Notify(sdnotify.Stopping, s.serverName+" "+process.Disposition(s.serverStatus))

	s.stopSession()

	s.transition(Exited)
	return code
}

// stopSession signals the session's whole process group: the session
// was started with setsid, so its pid is also the group id and its
// descendants are reached too.
func (s *Supervisor) stopSession() {
	pid := s.status.SessionPID
	if pid == 0 {
		return
	}

	s.logger.Info("stopping session", "pid", pid)
	s.kill(-pid, unix.SIGTERM)
	if s.awaitSession(s.session.StopTimeout) {
		return
	}

	s.logger.Warn("session ignored SIGTERM, killing it", "pid", pid, "timeout", s.session.StopTimeout)
	s.kill(-pid, unix.SIGKILL)
	if !s.awaitSession(s.session.StopTimeout) {
		s.logger.Error("session did not exit after SIGKILL", "pid", pid)
	}
}

// awaitSession sweeps until the session has been reaped or timeout
// passes.
func (s *Supervisor) awaitSession(timeout time.Duration) bool {
	timer := s.clock.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.sweep()
		if s.status.SessionPID == 0 {
			return true
		}
		select {
		case sig := <-s.signals:
			if sig != unix.SIGCHLD {
				s.logger.Debug("ignoring signal while stopping", "signal", sig.String())
			}
		case <-timer.C:
			return false
		}
	}
}

// sweep reaps every child with a pending state change.
func (s *Supervisor) sweep() {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.ECHILD, err == nil && pid == 0:
			return
		case err != nil:
			s.logger.Warn("wait4 failed", "error", err)
			return
		}
		s.reaped(pid, status)
	}
}

func (s *Supervisor) reaped(pid int, status unix.WaitStatus) {
	attrs := append([]any{"pid", pid, "role", s.role(pid)}, process.LogAttrs(status)...)
	if !status.Exited() && !status.Signaled() {
		s.logger.Info("child changed state", attrs...)
		return
	}

	switch pid {
	case s.status.ServerPID:
		s.logger.Info("display server exited", attrs...)
		s.serverStatus = status
		s.status.ServerReaped = true
	case s.status.SessionPID:
		s.logger.Info("session exited", attrs...)
		s.status.SessionPID = 0
		s.publish()
		if s.session.Critical && !s.status.ServerReaped {
			s.logger.Info("session was critical, stopping display server")
			s.signalServer(unix.SIGTERM)
		}
	default:
		s.logger.Info("reaped child", attrs...)
	}
}

func (s *Supervisor) role(pid int) string {
	switch pid {
	case s.status.ServerPID:
		return "server"
	case s.status.SessionPID:
		return "session"
	default:
		return "other"
	}
}

func (s *Supervisor) handleSignal(sig os.Signal) {
	switch sig {
	case unix.SIGTERM, unix.SIGINT:
		s.logger.Info("forwarding signal to display server", "signal", sig.String(), "pid", s.status.ServerPID)
		s.signalServer(sig.(syscall.Signal))
	case unix.SIGHUP:
		s.logger.Info("ignoring hangup")
	default:
		s.logger.Debug("ignoring signal", "signal", sig.String())
	}
}

func (s *Supervisor) signalServer(sig syscall.Signal) {
	if s.status.ServerPID == 0 || s.status.ServerReaped {
		return
	}
	s.kill(s.status.ServerPID, sig)
}

func (s *Supervisor) kill(pid int, sig syscall.Signal) {
	if err := unix.Kill(pid, sig); err != nil && err != unix.ESRCH {
		s.logger.Warn("signaling child failed", "pid", pid, "signal", sig.String(), "error", err)
	}
}
