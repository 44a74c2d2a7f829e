// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package readiness

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/bureau-foundation/displaylauncher/lib/clock"
	"github.com/bureau-foundation/displaylauncher/lib/logging"
	"github.com/bureau-foundation/displaylauncher/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// armedPipe returns an armed pipe channel and the write end the
// server would inherit.
func armedPipe(t *testing.T, clk clock.Clock, interrupts <-chan os.Signal) (*Pipe, *os.File) {
	t.Helper()
	channel := NewPipe(clk, interrupts)
	attachment, err := channel.Arm()
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}
	t.Cleanup(func() { channel.Close() })
	if len(attachment.Files) != 1 {
		t.Fatalf("attachment has %d files, want 1", len(attachment.Files))
	}
	return channel, attachment.Files[0]
}

func startAwait(channel Channel, clk clock.Clock, policy Policy, onInterrupt InterruptFunc) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- Await(channel, clk, policy, onInterrupt, logging.Discard())
	}()
	return done
}

func TestAwaitReadyOnFirstAttempt(t *testing.T) {
	clk := clock.Fake(epoch)
	channel, writer := armedPipe(t, clk, nil)

	done := startAwait(channel, clk, DefaultPolicy(), nil)

	clk.WaitForTimers(1)
	clk.Advance(3 * time.Second)
	if _, err := writer.WriteString("0\n"); err != nil {
		t.Fatalf("writing display number: %v", err)
	}

	if err := testutil.RequireReceive(t, done, 5*time.Second, "Await result"); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if elapsed := clk.Now().Sub(epoch); elapsed != 3*time.Second {
		t.Errorf("elapsed = %v, want 3s (no further attempts)", elapsed)
	}
	if channel.Detail() != ":0" {
		t.Errorf("Detail() = %q, want :0", channel.Detail())
	}
	if pending := clk.PendingCount(); pending != 0 {
		t.Errorf("PendingCount() = %d after Ready, want 0", pending)
	}
}

func TestAwaitTimesOutAfterAllAttempts(t *testing.T) {
	tests := []struct {
		attempts int
		timeout  time.Duration
	}{
		{1, 10 * time.Second},
		{3, 10 * time.Second},
		{2, 500 * time.Millisecond},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("%dx%v", test.attempts, test.timeout), func(t *testing.T) {
			clk := clock.Fake(epoch)
			channel, _ := armedPipe(t, clk, nil)
			done := startAwait(channel, clk, Policy{Timeout: test.timeout, Attempts: test.attempts}, nil)

			for range test.attempts {
				select {
				case err := <-done:
					t.Fatalf("Await returned early: %v", err)
				default:
				}
				clk.WaitForTimers(1)
				clk.Advance(test.timeout)
			}

			err := testutil.RequireReceive(t, done, 5*time.Second, "Await result")
			if !errors.Is(err, ErrTimeout) {
				t.Fatalf("Await error = %v, want ErrTimeout", err)
			}
			want := time.Duration(test.attempts) * test.timeout
			if elapsed := clk.Now().Sub(epoch); elapsed != want {
				t.Errorf("total wait = %v, want %v", elapsed, want)
			}
			select {
			case extra := <-done:
				t.Errorf("Await delivered a second result: %v", extra)
			default:
			}
		})
	}
}

func TestAwaitInterruptsDoNotExtendDeadline(t *testing.T) {
	clk := clock.Fake(epoch)
	interrupts := make(chan os.Signal, 1)
	channel, _ := armedPipe(t, clk, interrupts)

	seen := make(chan os.Signal, 1)
	onInterrupt := func(sig os.Signal) error {
		seen <- sig
		return nil
	}
	done := startAwait(channel, clk, Policy{Timeout: 10 * time.Second, Attempts: 1}, onInterrupt)

	for range 5 {
		clk.WaitForTimers(1)
		clk.Advance(time.Second)
		interrupts <- syscall.SIGHUP
		if sig := testutil.RequireReceive(t, seen, 5*time.Second, "interrupt callback"); sig != syscall.SIGHUP {
			t.Fatalf("callback got %v, want SIGHUP", sig)
		}
	}

	// Five seconds remain. Just short of the deadline nothing fires.
	clk.WaitForTimers(1)
	clk.Advance(5*time.Second - time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Await returned before the deadline: %v", err)
	default:
	}
	if pending := clk.PendingCount(); pending != 1 {
		t.Fatalf("PendingCount() = %d, want the attempt timer still armed", pending)
	}

	clk.Advance(time.Millisecond)
	err := testutil.RequireReceive(t, done, 5*time.Second, "Await result")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Await error = %v, want ErrTimeout", err)
	}
	if elapsed := clk.Now().Sub(epoch); elapsed != 10*time.Second {
		t.Errorf("total wait = %v, want exactly 10s", elapsed)
	}
}

func TestAwaitInterruptCallbackAborts(t *testing.T) {
	clk := clock.Fake(epoch)
	interrupts := make(chan os.Signal, 1)
	channel, _ := armedPipe(t, clk, interrupts)

	errServerDied := errors.New("server died")
	done := startAwait(channel, clk, DefaultPolicy(), func(sig os.Signal) error {
		if sig == syscall.SIGCHLD {
			return errServerDied
		}
		return nil
	})

	interrupts <- syscall.SIGCHLD
	err := testutil.RequireReceive(t, done, 5*time.Second, "Await result")
	if !errors.Is(err, errServerDied) {
		t.Fatalf("Await error = %v, want the callback's error", err)
	}
}

func TestPipeHangUpIsInterruptedOnce(t *testing.T) {
	clk := clock.Fake(epoch)
	channel, writer := armedPipe(t, clk, nil)

	// The server exits without writing anything.
	writer.Close()

	outcome, sig := channel.Wait(epoch.Add(10 * time.Second))
	if outcome != Interrupted || sig != nil {
		t.Fatalf("Wait after hang-up = %v, %v; want Interrupted, nil", outcome, sig)
	}

	result := make(chan Outcome, 1)
	go func() {
		outcome, _ := channel.Wait(epoch.Add(10 * time.Second))
		result <- outcome
	}()
	clk.WaitForTimers(1)
	clk.Advance(10 * time.Second)
	if outcome := testutil.RequireReceive(t, result, 5*time.Second, "second Wait"); outcome != TimedOut {
		t.Errorf("second Wait = %v, want TimedOut", outcome)
	}
}

func TestPipeWaitPastDeadline(t *testing.T) {
	clk := clock.Fake(epoch)
	channel, _ := armedPipe(t, clk, nil)

	outcome, _ := channel.Wait(epoch.Add(-time.Second))
	if outcome != TimedOut {
		t.Errorf("Wait(past) = %v, want TimedOut", outcome)
	}
	if pending := clk.PendingCount(); pending != 0 {
		t.Errorf("Wait(past) armed %d timers", pending)
	}
}

func TestPipeAttachment(t *testing.T) {
	channel := NewPipe(clock.Fake(epoch), nil)
	defer channel.Close()

	attachment, err := channel.Arm()
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if len(attachment.Args) != 2 || attachment.Args[0] != "-displayfd" || attachment.Args[1] != "3" {
		t.Errorf("Args = %v, want [-displayfd 3]", attachment.Args)
	}
	if attachment.IgnoreSignal != nil {
		t.Errorf("IgnoreSignal = %v, want nil", attachment.IgnoreSignal)
	}

	attachment.Release()
	attachment.Release()
	if _, err := attachment.Files[0].Write([]byte("x")); err == nil {
		t.Error("write end still open after Release")
	}
}

func TestPipeRearmResets(t *testing.T) {
	clk := clock.Fake(epoch)
	channel, writer := armedPipe(t, clk, nil)
	writer.WriteString("4\n")
	if outcome, _ := channel.Wait(epoch.Add(time.Second)); outcome != Ready {
		t.Fatalf("first Wait = %v, want Ready", outcome)
	}

	if _, err := channel.Arm(); err != nil {
		t.Fatalf("re-Arm: %v", err)
	}
	if channel.Detail() != "" {
		t.Errorf("Detail() after re-Arm = %q, want empty", channel.Detail())
	}
}

func TestSignalReady(t *testing.T) {
	channel := NewSignal(clock.Real(), nil)
	defer channel.Close()

	attachment, err := channel.Arm()
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if attachment.IgnoreSignal != ReadySignal {
		t.Errorf("IgnoreSignal = %v, want SIGUSR1", attachment.IgnoreSignal)
	}
	if len(attachment.Args) != 0 || len(attachment.Files) != 0 {
		t.Errorf("signal attachment carries args %v files %v", attachment.Args, attachment.Files)
	}

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("raising SIGUSR1: %v", err)
	}
	if outcome, _ := channel.Wait(time.Now().Add(5 * time.Second)); outcome != Ready {
		t.Fatalf("Wait = %v, want Ready", outcome)
	}
}

func TestSignalLateDeliveryAfterClose(t *testing.T) {
	channel := NewSignal(clock.Real(), nil)
	if _, err := channel.Arm(); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	channel.Close()

	// A second SIGUSR1 from the server must not use the default
	// disposition, which would terminate the test binary.
	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("raising SIGUSR1: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	// Re-arming discards the stale signal.
	if _, err := channel.Arm(); err != nil {
		t.Fatalf("re-Arm: %v", err)
	}
	if outcome, _ := channel.Wait(time.Now().Add(50 * time.Millisecond)); outcome != TimedOut {
		t.Errorf("Wait after re-Arm = %v, want TimedOut", outcome)
	}
}

func TestSignalInterrupted(t *testing.T) {
	interrupts := make(chan os.Signal, 1)
	channel := NewSignal(clock.Fake(epoch), interrupts)
	if _, err := channel.Arm(); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	defer channel.Close()

	interrupts <- syscall.SIGTERM
	outcome, sig := channel.Wait(epoch.Add(time.Second))
	if outcome != Interrupted || sig != syscall.SIGTERM {
		t.Errorf("Wait = %v, %v; want Interrupted, SIGTERM", outcome, sig)
	}
}

func TestOutcomeString(t *testing.T) {
	for outcome, want := range map[Outcome]string{
		Ready:       "ready",
		TimedOut:    "timed out",
		Interrupted: "interrupted",
		Outcome(9):  "Outcome(9)",
	} {
		if got := outcome.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(outcome), got, want)
		}
	}
}
