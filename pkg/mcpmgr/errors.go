package mcpmgr

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os/exec"
)

// Sentinels matched by errors.Is against the typed errors below.
var (
	ErrConfig       = errors.New("mcpmgr: invalid server configuration")
	ErrAuth         = errors.New("mcpmgr: credential unavailable")
	ErrTransport    = errors.New("mcpmgr: transport failure")
	ErrProtocol     = errors.New("mcpmgr: protocol failure")
	ErrNotConnected = errors.New("mcpmgr: server not connected")

	// ErrStaleResult is returned to a ConnectToServer caller whose attempt was
	// superseded by a newer connect or a disconnect for the same server. The
	// attempt's result is discarded and never recorded in the status.
	ErrStaleResult = errors.New("mcpmgr: connect attempt superseded")
)

// ConfigError reports a malformed server configuration, such as a missing
// command or an endpoint that is not an http(s) URL.
type ConfigError struct {
	Server string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mcpmgr: invalid config for %q: %s: %v", e.Server, e.Reason, e.Err)
	}
	return fmt.Sprintf("mcpmgr: invalid config for %q: %s", e.Server, e.Reason)
}

func (e *ConfigError) Unwrap() error        { return e.Err }
func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// AuthError reports that a server requiring authentication could not obtain a
// credential. It is raised before any network I/O.
type AuthError struct {
	Server    string
	ServiceID string
	Err       error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mcpmgr: resolve credential for %q (service %q): %v", e.Server, e.ServiceID, e.Err)
	}
	return fmt.Sprintf("mcpmgr: no credential for %q (service %q)", e.Server, e.ServiceID)
}

func (e *AuthError) Unwrap() error        { return e.Err }
func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// TransportError wraps process spawn failures and refused or reset network
// connections.
type TransportError struct {
	Server string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mcpmgr: transport for %q: %v", e.Server, e.Err)
}

func (e *TransportError) Unwrap() error        { return e.Err }
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ProtocolError wraps a failed handshake or capability request.
type ProtocolError struct {
	Server string
	Op     string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mcpmgr: %s on %q: %v", e.Op, e.Server, e.Err)
}

func (e *ProtocolError) Unwrap() error        { return e.Err }
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// NotConnectedError is returned by invocation calls that target a server
// without a live session. No I/O is attempted.
type NotConnectedError struct {
	Server string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("mcpmgr: server %q not connected", e.Server)
}

func (e *NotConnectedError) Is(target error) bool { return target == ErrNotConnected }

// classifyConnectError maps an error from client.Connect onto the taxonomy.
// Errors already typed by the transport layer are kept as they are.
func classifyConnectError(server string, err error) error {
	if err == nil {
		return nil
	}
	var (
		cfgErr   *ConfigError
		authErr  *AuthError
		tErr     *TransportError
		opErr    *net.OpError
		urlErr   *url.Error
		execErr  *exec.Error
		notFound = errors.Is(err, exec.ErrNotFound)
	)
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &authErr), errors.As(err, &tErr):
		return err
	case notFound, errors.As(err, &execErr), errors.As(err, &opErr), errors.As(err, &urlErr):
		return &TransportError{Server: server, Err: err}
	default:
		return &ProtocolError{Server: server, Op: "initialize", Err: err}
	}
}
