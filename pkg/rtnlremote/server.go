// Package rtnlremote implements the "remote" Source kind's transport: a
// gRPC service carrying rtnl.Msg/rtnl.Request payloads as structpb.Struct
// values, giving a Source on another machine the same send/receive
// surface a local socket has.
package rtnlremote

import (
	"context"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/ndb/pkg/rtnl"
)

// Server exposes one local rtnl.Conn (the host's own AF_NETLINK socket)
// to remote callers over gRPC, so a Source on another host can add it
// with kind "remote". It is the listening side of
// the same connection pair pkg/rtnlremote's Dial function (client.go)
// opens from the calling host.
type Server struct {
	conn rtnl.Conn
	log  zerolog.Logger

	grpc *grpc.Server
}

// NewServer wraps conn, the netlink socket this host makes available to
// remote callers. conn is typically opened with rtnl.Dial(0), the same
// call a local Source uses.
func NewServer(conn rtnl.Conn, log zerolog.Logger) *Server {
	return &Server{conn: conn, log: log.With().Str("component", "rtnlremote").Logger()}
}

// Serve starts the gRPC server on lis and blocks until it stops.
func (s *Server) Serve(lis net.Listener) error {
	s.grpc = grpc.NewServer()
	RegisterSourceServer(s.grpc, s)
	s.log.Info().Str("addr", lis.Addr().String()).Msg("rtnlremote: listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

// Request handles both non-dump sends and dumps: a request whose Action
// is ActionGet is answered with the dumped rows instead of an empty ack,
// since the remote transport has no separate dump RPC.
func (s *Server) Request(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRequest(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "rtnlremote: decode request: %v", err)
	}

	if req.Action == rtnl.ActionGet {
		msgs, err := s.conn.Dump(req.Family, req.Header)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "rtnlremote: dump: %v", err)
		}
		out, err := encodeResponse(msgs)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "rtnlremote: encode dump response: %v", err)
		}
		return out, nil
	}

	if err := s.conn.Send(req); err != nil {
		return nil, status.Errorf(codes.Internal, "rtnlremote: send: %v", err)
	}
	return encodeResponse(nil)
}

// Events streams every batch this host's connection receives until the
// connection closes or the client disconnects.
func (s *Server) Events(_ *structpb.Struct, stream EventsServer) error {
	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		default:
		}

		msgs, err := s.conn.Receive()
		if err != nil {
			if _, ok := err.(*rtnl.ClosedError); ok {
				return nil
			}
			return status.Errorf(codes.Unavailable, "rtnlremote: receive: %v", err)
		}

		for _, m := range msgs {
			payload, err := encodeEvent(m)
			if err != nil {
				s.log.Warn().Err(err).Msg("rtnlremote: dropping unencodable event")
				continue
			}
			if err := stream.Send(payload); err != nil {
				return err
			}
		}
	}
}
