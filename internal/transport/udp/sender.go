// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"soundscope/internal/log"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("UDP sender is closed")

// UDPSender handles sending data packets over UDP.
type UDPSender struct {
	conn   *net.UDPConn
	mu     sync.Mutex // Protects conn during Close
	closed bool
	failed bool // a send error was already logged
	log    *log.Logger
}

// NewUDPSender creates a new UDPSender targeting the specified address.
// The address should be in the format "host:port", e.g., "127.0.0.1:9090".
func NewUDPSender(targetAddress string) (*UDPSender, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", targetAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP target address '%s': %w", targetAddress, err)
	}

	// No local bind is needed for sending.
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial UDP for target '%s': %w", targetAddress, err)
	}

	s := &UDPSender{conn: conn, log: log.Named("UDPSender")}
	s.log.Infof("sending to %s", conn.RemoteAddr())
	return s, nil
}

// Send transmits the given byte slice as a single datagram. The first
// failure is logged; later ones only return the error until a send succeeds.
func (s *UDPSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.conn.Write(data); err != nil {
		if !s.failed {
			s.log.Warnf("error sending packet: %v", err)
			s.failed = true
		}
		return fmt.Errorf("failed to send UDP packet: %w", err)
	}
	s.failed = false
	return nil
}

// Close closes the underlying UDP connection.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close UDP connection: %w", err)
	}
	return nil
}

var _ interface{ Close() error } = (*UDPSender)(nil)
