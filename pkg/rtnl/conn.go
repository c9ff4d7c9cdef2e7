package rtnl

import (
	"fmt"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// Conn is one rtnetlink transport endpoint. It is satisfied by
// *netlinkConn (local + netns kinds); pkg/rtnlremote provides a second
// implementation for the remote kind.
type Conn interface {
	// Send issues a non-dump request and waits for the ack/error.
	Send(req Request) error
	// Dump issues a dump request for a family and returns every message
	// in the response.
	Dump(family Family, extra map[string]int64) ([]Msg, error)
	// Receive blocks for the next batch of multicast notifications.
	Receive() ([]Msg, error)
	// Clone opens a second connection sharing the same bind target. A
	// Source does not call it: its reader loop and its Send path share
	// one connection.
	Clone() (Conn, error)
	Close() error
}

// netlinkConn wraps mdlayher/netlink's raw AF_NETLINK/NETLINK_ROUTE socket.
// It is the concrete binding for the "local" and "netns" Source kinds —
// the only difference between them is which network namespace the socket
// is opened in (see Dial's netnsFD parameter).
type netlinkConn struct {
	conn    *netlink.Conn
	netnsFD int
}

// Dial opens an AF_NETLINK/NETLINK_ROUTE socket bound to the multicast
// groups rtnl.Groups returns. netnsFD, if non-zero, is an open /proc/.../ns/net
// file descriptor to bind the socket inside (the "netns" Source kind);
// zero means the caller's current namespace (the "local" kind).
func Dial(netnsFD int) (Conn, error) {
	cfg := &netlink.Config{Groups: groupMask(Groups())}
	if netnsFD != 0 {
		cfg.NetNS = netnsFD
	}
	c, err := netlink.Dial(unix.NETLINK_ROUTE, cfg)
	if err != nil {
		return nil, fmt.Errorf("rtnl: dial: %w", err)
	}
	return &netlinkConn{conn: c, netnsFD: netnsFD}, nil
}

func (c *netlinkConn) Send(req Request) error {
	msg, err := Encode(req, netlink.Acknowledge)
	if err != nil {
		return err
	}
	_, err = c.conn.Execute(msg)
	if err != nil {
		return translateError(err)
	}
	return nil
}

func (c *netlinkConn) Dump(family Family, extra map[string]int64) ([]Msg, error) {
	typ, err := headerTypeFor(family, ActionGet)
	if err != nil {
		return nil, err
	}
	header, err := buildFixedHeader(family, extra)
	if err != nil {
		return nil, err
	}
	req := netlink.Message{
		Header: netlink.Header{
			Type:  netlink.HeaderType(typ),
			Flags: netlink.Request | netlink.Dump,
		},
		Data: header,
	}
	raw, err := c.conn.Execute(req)
	if err != nil {
		return nil, translateError(err)
	}
	msgs, errs := Parse(raw)
	if len(errs) > 0 {
		// Decode errors in a dump are not fatal to the good messages;
		// the caller logs them, we just surface the first as context.
		return msgs, fmt.Errorf("rtnl: dump decode errors (%d), first: %w", len(errs), errs[0])
	}
	return msgs, nil
}

func (c *netlinkConn) Receive() ([]Msg, error) {
	raw, err := c.conn.Receive()
	if err != nil {
		return nil, translateError(err)
	}
	msgs, errs := Parse(raw)
	if len(errs) > 0 {
		return msgs, fmt.Errorf("rtnl: receive decode errors (%d), first: %w", len(errs), errs[0])
	}
	return msgs, nil
}

func (c *netlinkConn) Clone() (Conn, error) {
	// A clone is a fresh request-only socket in the same namespace, with
	// no multicast subscription.
	cfg := &netlink.Config{}
	if c.netnsFD != 0 {
		cfg.NetNS = c.netnsFD
	}
	nc, err := netlink.Dial(unix.NETLINK_ROUTE, cfg)
	if err != nil {
		return nil, fmt.Errorf("rtnl: clone: %w", err)
	}
	return &netlinkConn{conn: nc, netnsFD: c.netnsFD}, nil
}

func (c *netlinkConn) Close() error {
	return c.conn.Close()
}

// translateError recognises ECONNRESET (the code a graceful socket close
// surfaces on the receive path) and wraps everything else as opaque
// transport errors; pkg/ndb/source classifies from there.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errno, ok := asErrno(err); ok && int(errno) == ECONNRESET {
		return &ClosedError{}
	}
	return err
}

// Errno extracts the kernel's numeric reply from err, if err carries one
// (a netlink ACK error such as EEXIST or EOPNOTSUPP). Callers use it to
// tell a definitive kernel answer apart from a transport failure.
func Errno(err error) (unix.Errno, bool) { return asErrno(err) }

func asErrno(err error) (unix.Errno, bool) {
	for {
		if errno, ok := err.(unix.Errno); ok {
			return errno, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0, false
		}
		err = u.Unwrap()
		if err == nil {
			return 0, false
		}
	}
}

// ClosedError is returned from Receive/Send once the underlying socket has
// been closed gracefully (netlink error code 104), signalling the Source's
// reader goroutine to exit without treating it as a failure.
type ClosedError struct{}

func (*ClosedError) Error() string { return "rtnl: connection closed (ECONNRESET)" }
