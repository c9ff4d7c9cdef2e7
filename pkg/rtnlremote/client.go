package rtnlremote

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/ndb/pkg/ndb/source"
	"github.com/cuemby/ndb/pkg/ndb/store"
	"github.com/cuemby/ndb/pkg/rtnl"
)

// requestTimeout bounds a single unary Request RPC (object commits and
// dumps both go through it).
const requestTimeout = 10 * time.Second

func init() {
	source.RegisterDialer(source.KindRemote, Dial)
}

// Dial opens a "remote" kind Source's connection: a gRPC channel to the
// ndbd instance listening on options["addr"] (pkg/rtnlremote.Server on
// the far side), so a remote host's kernel can be consumed like a local
// one.
//
// Recognised options: "addr" (required, host:port of the remote
// rtnlremote.Server), "tls_ca" (optional path to a CA certificate PEM;
// absent means plaintext, matching how local/netns sources never
// authenticate either since they never leave the host).
func Dial(target string, options map[string]store.SourceOption) (rtnl.Conn, error) {
	addrOpt, ok := options["addr"]
	if !ok || addrOpt.Value == "" {
		return nil, fmt.Errorf("rtnlremote: dial %s: missing required \"addr\" option", target)
	}

	creds := insecure.NewCredentials()
	if caOpt, ok := options["tls_ca"]; ok && caOpt.Value != "" {
		tlsCreds, err := loadCACreds(caOpt.Value)
		if err != nil {
			return nil, fmt.Errorf("rtnlremote: dial %s: %w", target, err)
		}
		creds = tlsCreds
	}

	cc, err := grpc.NewClient(addrOpt.Value, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("rtnlremote: dial %s: %w", target, err)
	}

	return &remoteConn{target: target, cc: cc, client: NewSourceClient(cc)}, nil
}

func loadCACreds(caPath string) (credentials.TransportCredentials, error) {
	caPEM, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("parse CA cert: invalid PEM")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS13}), nil
}

// remoteConn implements rtnl.Conn over a gRPC channel. It satisfies the
// same interface *netlinkConn does (pkg/rtnl/conn.go) so pkg/ndb/source's
// reader loop never knows which transport it is driving.
type remoteConn struct {
	target string
	cc     *grpc.ClientConn
	client SourceClient

	mu     sync.Mutex
	events EventsClient
}

func (c *remoteConn) Send(req rtnl.Request) error {
	payload, err := encodeRequest(req)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	_, err = c.client.Request(ctx, payload)
	return err
}

func (c *remoteConn) Dump(family rtnl.Family, extra map[string]int64) ([]rtnl.Msg, error) {
	payload, err := encodeRequest(rtnl.Request{Family: family, Action: rtnl.ActionGet, Header: extra})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout*3)
	defer cancel()
	out, err := c.client.Request(ctx, payload)
	if err != nil {
		return nil, err
	}
	return decodeResponseMsgs(out)
}

// Receive blocks for the next single event off a lazily-opened Events
// stream. Unlike the local transport's Receive, which can return several
// messages from one multicast read, each gRPC message here carries
// exactly one rtnl.Msg, so the returned batch always has length one.
func (c *remoteConn) Receive() ([]rtnl.Msg, error) {
	stream, err := c.eventsStream()
	if err != nil {
		return nil, err
	}

	payload, err := stream.Recv()
	if err != nil {
		if err == io.EOF {
			return nil, &rtnl.ClosedError{}
		}
		return nil, fmt.Errorf("rtnlremote: receive: %w", err)
	}

	m, err := decodeEvent(payload)
	if err != nil {
		return nil, err
	}
	return []rtnl.Msg{m}, nil
}

func (c *remoteConn) eventsStream() (EventsClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events != nil {
		return c.events, nil
	}
	stream, err := c.client.Events(context.Background(), &structpb.Struct{})
	if err != nil {
		return nil, fmt.Errorf("rtnlremote: open events stream: %w", err)
	}
	c.events = stream
	return stream, nil
}

// Clone shares this connection's gRPC channel: unlike a netlink socket, a
// gRPC channel multiplexes concurrent RPCs safely, so the clone only needs
// its own lazily-opened Events stream.
func (c *remoteConn) Clone() (rtnl.Conn, error) {
	return &remoteConn{target: c.target, cc: c.cc, client: c.client}, nil
}

func (c *remoteConn) Close() error {
	c.mu.Lock()
	events := c.events
	c.events = nil
	c.mu.Unlock()
	if events != nil {
		_ = events.CloseSend()
	}
	return c.cc.Close()
}
