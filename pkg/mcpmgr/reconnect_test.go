package mcpmgr

import (
	"errors"
	"fmt"
	"net"
	"os/exec"
	"testing"
	"time"
)

func TestReconnectPolicyDelay(t *testing.T) {
	t.Parallel()

	p := ReconnectPolicy{DisableJitter: true}
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
		5 * time.Minute,
		5 * time.Minute,
	}
	for i, d := range want {
		if got := p.Delay(i + 1); got != d {
			t.Fatalf("Delay(%d) = %s, expected %s", i+1, got, d)
		}
	}
	if got := p.Delay(0); got != 5*time.Second {
		t.Fatalf("Delay(0) = %s", got)
	}
	if got := p.Delay(1000); got != 5*time.Minute {
		t.Fatalf("Delay(1000) = %s, expected cap", got)
	}

	custom := ReconnectPolicy{InitialDelay: time.Second, MaxDelay: 3 * time.Second, DisableJitter: true}
	if got := custom.Delay(3); got != 3*time.Second {
		t.Fatalf("custom Delay(3) = %s", got)
	}
}

func TestReconnectPolicyJitterBounds(t *testing.T) {
	t.Parallel()

	p := ReconnectPolicy{InitialDelay: time.Second, MaxDelay: time.Minute}
	for i := 0; i < 200; i++ {
		got := p.Delay(2)
		if got < 2*time.Second || got > 2*time.Second+200*time.Millisecond {
			t.Fatalf("Delay(2) = %s outside [2s, 2.2s]", got)
		}
	}
}

func TestReconnectPolicyExhausted(t *testing.T) {
	t.Parallel()

	if (ReconnectPolicy{}).exhausted(1_000_000) {
		t.Fatalf("zero MaxAttempts must retry forever")
	}
	p := ReconnectPolicy{MaxAttempts: 3}
	if p.exhausted(2) || !p.exhausted(3) {
		t.Fatalf("exhausted boundary wrong")
	}
}

func TestClassifyConnectError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"config kept", &ConfigError{Server: "s", Reason: "x"}, ErrConfig},
		{"auth kept", &AuthError{Server: "s"}, ErrAuth},
		{"exec not found", &exec.Error{Name: "npx", Err: exec.ErrNotFound}, ErrTransport},
		{"dial refused", fmt.Errorf("post: %w", &net.OpError{Op: "dial", Err: errors.New("refused")}), ErrTransport},
		{"handshake", errors.New("unsupported protocol version"), ErrProtocol},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyConnectError("s", tc.err)
			if !errors.Is(got, tc.want) {
				t.Fatalf("classifyConnectError(%v) = %v, expected match for %v", tc.err, got, tc.want)
			}
		})
	}
	if classifyConnectError("s", nil) != nil {
		t.Fatalf("nil error should stay nil")
	}
}
