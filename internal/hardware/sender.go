// SPDX-License-Identifier: MIT

// Package hardware sends the outbound "open" command to a gate controller
// and protects the decision path from a wedged or unreachable device,
// grounded in original_source/backend/services/forwarder_tcp.py's
// send_open_command (raw "CMD:OPEN\n" over a 2-second-timeout TCP socket).
package hardware

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sony/gobreaker"

	"github.com/accessctl/core/internal/audit"
	"github.com/accessctl/core/internal/metrics"
)

const (
	defaultDialTimeout = 2 * time.Second
	openCommand        = "CMD:OPEN\n"
)

// ErrBreakerOpen is returned when a device's circuit breaker is open and
// the command was rejected without attempting the socket.
var ErrBreakerOpen = gobreaker.ErrOpenState

// Sender issues open commands to gate controllers over TCP, with one
// circuit breaker per device so a single unreachable controller doesn't
// stall the decision path for every scan at that gate (SPEC_FULL.md
// §4.10; the original had no such protection — send_open_command's
// 2-second socket timeout was the only backstop, which still lets a
// persistently offline device cost 2 seconds per scan).
type Sender struct {
	dialTimeout time.Duration
	defaultPort int
	dial        func(network, address string, timeout time.Duration) (net.Conn, error)
	audit       *audit.Logger
	breakers    map[string]*gobreaker.CircuitBreaker[string]
}

// NewSender builds a Sender with the stock 2-second dial timeout and no
// default port fallback. auditLog may be nil in tests.
func NewSender(auditLog *audit.Logger) *Sender {
	return &Sender{
		dialTimeout: defaultDialTimeout,
		dial:        net.DialTimeout,
		audit:       auditLog,
		breakers:    make(map[string]*gobreaker.CircuitBreaker[string]),
	}
}

// NewSenderWithOptions builds a Sender with a configured dial timeout
// (spec.md §6's hardware command timeout) and a fallback port (spec.md
// §6 default 5005) substituted in for any device whose own Port column is
// unset.
func NewSenderWithOptions(auditLog *audit.Logger, dialTimeout time.Duration, defaultPort int) *Sender {
	s := NewSender(auditLog)
	if dialTimeout > 0 {
		s.dialTimeout = dialTimeout
	}
	s.defaultPort = defaultPort
	return s
}

func (s *Sender) breakerFor(deviceID string) *gobreaker.CircuitBreaker[string] {
	if b, ok := s.breakers[deviceID]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "hardware-" + deviceID,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(deviceID, breakerStateName(to))
			if s.audit != nil && to == gobreaker.StateOpen {
				s.audit.BreakerTripped(deviceID)
			}
		},
	})
	s.breakers[deviceID] = b
	return b
}

// Open sends the open command to deviceID at ip:port, through that
// device's circuit breaker. Returns the controller's raw response line.
func (s *Sender) Open(ctx context.Context, deviceID, ip string, port int) (string, error) {
	if port == 0 && s.defaultPort != 0 {
		port = s.defaultPort
	}
	breaker := s.breakerFor(deviceID)

	resp, err := breaker.Execute(func() (string, error) {
		return s.sendOpen(ctx, ip, port)
	})

	success := err == nil
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	switch {
	case success:
		metrics.RecordHardwareCommand("success")
	case errors.Is(err, gobreaker.ErrOpenState):
		metrics.RecordHardwareCommand("breaker_open")
	default:
		metrics.RecordHardwareCommand("failure")
	}
	if s.audit != nil {
		s.audit.HardwareCommand(deviceID, success, errMsg)
	}
	return resp, err
}

func breakerStateName(state gobreaker.State) string {
	switch state {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

func (s *Sender) sendOpen(ctx context.Context, ip string, port int) (string, error) {
	addr := fmt.Sprintf("%s:%d", ip, port)

	conn, err := s.dial("tcp", addr, s.dialTimeout)
	if err != nil {
		return "", fmt.Errorf("hardware: dial %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(s.dialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("hardware: set deadline: %w", err)
	}

	if _, err := conn.Write([]byte(openCommand)); err != nil {
		return "", fmt.Errorf("hardware: write to %s: %w", addr, err)
	}

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return "", fmt.Errorf("hardware: read from %s: %w", addr, err)
	}
	return string(buf[:n]), nil
}
