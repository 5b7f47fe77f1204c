package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// PortRange is an inclusive range of TCP ports for passive listeners. The
// zero value lets the OS pick.
type PortRange struct {
	Min int
	Max int
}

// IsZero reports whether no range is configured.
func (r PortRange) IsZero() bool {
	return r.Min == 0 && r.Max == 0
}

// Validate checks that the range is usable.
func (r PortRange) Validate() error {
	if r.IsZero() {
		return nil
	}
	if r.Min < 1 || r.Max > 65535 || r.Min > r.Max {
		return fmt.Errorf("invalid passive port range %d-%d", r.Min, r.Max)
	}
	return nil
}

func (r PortRange) String() string {
	if r.IsZero() {
		return ""
	}
	return strconv.Itoa(r.Min) + "-" + strconv.Itoa(r.Max)
}

// ParsePortRange parses "min-max". A single port or an empty string is
// accepted too.
func ParsePortRange(s string) (PortRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PortRange{}, nil
	}
	lo, hi, found := strings.Cut(s, "-")
	if !found {
		hi = lo
	}
	minPort, err1 := strconv.Atoi(strings.TrimSpace(lo))
	maxPort, err2 := strconv.Atoi(strings.TrimSpace(hi))
	if err1 != nil || err2 != nil {
		return PortRange{}, fmt.Errorf("invalid port range %q", s)
	}
	r := PortRange{Min: minPort, Max: maxPort}
	return r, r.Validate()
}

func (r PortRange) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *PortRange) UnmarshalText(text []byte) error {
	parsed, err := ParsePortRange(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// portAllocator hands out passive listeners round-robin over a port range.
// It is shared by all sessions of a server.
type portAllocator struct {
	ports PortRange
	next  atomic.Int32
}

func (p *portAllocator) listen() (net.Listener, error) {
	if p == nil || p.ports.IsZero() {
		return net.Listen("tcp", ":0")
	}

	size := int32(p.ports.Max - p.ports.Min + 1)
	start := p.next.Add(1)
	for i := int32(0); i < size; i++ {
		port := p.ports.Min + int((start+i)%size)
		ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
		if err == nil {
			return ln, nil
		}
	}
	return nil, fmt.Errorf("no available ports in range [%d, %d]", p.ports.Min, p.ports.Max)
}

// DataConnection negotiates the secondary connection of a session.
//
// At most one negotiation is outstanding: entering passive or active mode
// discards the previous one. Await consumes the negotiation, so every
// transfer needs a fresh PASV, EPSV, PORT or EPRT.
type DataConnection struct {
	ports   *portAllocator
	timeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	active   *net.TCPAddr
}

func newDataConnection(ports *portAllocator, timeout time.Duration) *DataConnection {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DataConnection{ports: ports, timeout: timeout}
}

// EnterPassive opens a listener for the client to connect to and returns
// its address.
func (d *DataConnection) EnterPassive() (*net.TCPAddr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// The previous listener may hold the only free port in the range.
	d.resetLocked()
	ln, err := d.ports.listen()
	if err != nil {
		return nil, err
	}
	d.listener = ln

	return ln.Addr().(*net.TCPAddr), nil
}

// EnterActive records the address the server dials for the next transfer.
func (d *DataConnection) EnterActive(target *net.TCPAddr) error {
	if target == nil || target.Port <= 0 {
		return fmt.Errorf("invalid active mode target %v", target)
	}
	d.mu.Lock()
	d.resetLocked()
	d.active = target
	d.mu.Unlock()
	return nil
}

// Pending reports whether a negotiation is waiting for a transfer.
func (d *DataConnection) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listener != nil || d.active != nil
}

// Mode returns "passive", "active" or "" when nothing is negotiated.
func (d *DataConnection) Mode() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.listener != nil:
		return "passive"
	case d.active != nil:
		return "active"
	}
	return ""
}

// Await establishes the negotiated connection: it accepts the client on the
// passive listener or dials the active target. The listener is closed on
// return whatever the outcome.
func (d *DataConnection) Await(ctx context.Context) (net.Conn, error) {
	d.mu.Lock()
	ln, target := d.listener, d.active
	d.listener, d.active = nil, nil
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	switch {
	case ln != nil:
		defer ln.Close()
		stop := context.AfterFunc(ctx, func() { ln.Close() })
		defer stop()

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("waiting for passive connection: %w", ctx.Err())
			}
			return nil, err
		}
		return conn, nil
	case target != nil:
		var dialer net.Dialer
		return dialer.DialContext(ctx, "tcp", target.String())
	}
	return nil, ErrNoDataConnection
}

// Close releases any pending negotiation.
func (d *DataConnection) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resetLocked()
}

func (d *DataConnection) resetLocked() error {
	var err error
	if d.listener != nil {
		err = d.listener.Close()
		d.listener = nil
	}
	d.active = nil
	return err
}
