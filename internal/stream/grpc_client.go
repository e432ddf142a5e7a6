package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"netwatch-agent/internal/model"
)

const DefaultNetworkStreamMethod = "/netwatch.v1.NetworkService/StreamNetworkUpdates"

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// GRPCClient streams network frames to an upstream collector over a
// client-streaming RPC with a JSON codec.
type GRPCClient struct {
	mu sync.Mutex

	logger    *slog.Logger
	addr      string
	tlsConfig *tls.Config
	token     string
	nodeID    string
	method    string
	conn      *grpc.ClientConn
	stream    grpc.ClientStream
	cancel    context.CancelFunc
}

func NewGRPCClient(addr string, tlsCfg *tls.Config, token, nodeID, method string, logger *slog.Logger) *GRPCClient {
	if method == "" {
		method = DefaultNetworkStreamMethod
	}
	return &GRPCClient{
		logger:    logger,
		addr:      addr,
		tlsConfig: tlsCfg,
		token:     token,
		nodeID:    nodeID,
		method:    method,
	}
}

func (c *GRPCClient) SendNetworkUpdate(ctx context.Context, u model.NetworkUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnLocked(); err != nil {
		return err
	}
	if c.stream == nil {
		if err := c.openStreamLocked(); err != nil {
			return err
		}
	}
	frame := NewNetworkFrame(c.nodeID, u)
	if err := c.stream.SendMsg(frame); err != nil {
		c.logger.Warn("grpc network send failed, reopening stream", "error", err)
		c.resetStreamLocked()
		if err2 := c.openStreamLocked(); err2 != nil {
			return fmt.Errorf("reopen network stream: %w", err2)
		}
		if err2 := c.stream.SendMsg(frame); err2 != nil {
			return fmt.Errorf("send network frame: %w", err2)
		}
	}
	return nil
}

func (c *GRPCClient) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		_ = c.stream.CloseSend()
	}
	c.resetStreamLocked()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	_ = ctx
	return nil
}

func (c *GRPCClient) ensureConnLocked() error {
	if c.conn != nil {
		return nil
	}

	var creds credentials.TransportCredentials
	if c.tlsConfig != nil {
		creds = credentials.NewTLS(c.tlsConfig)
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(
		c.addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return fmt.Errorf("grpc client %s: %w", c.addr, err)
	}
	c.conn = conn
	c.logger.Info("grpc upstream configured", "addr", c.addr, "method", c.method)
	return nil
}

// openStreamLocked opens the long-lived stream. Its context is owned by the
// client, not by a single send, and is cancelled on reset.
func (c *GRPCClient) openStreamLocked() error {
	if c.conn == nil {
		return fmt.Errorf("grpc conn is nil")
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	if c.token != "" {
		streamCtx = metadata.AppendToOutgoingContext(streamCtx, "authorization", "Bearer "+c.token)
	}
	s, err := c.conn.NewStream(streamCtx, &grpc.StreamDesc{ClientStreams: true}, c.method)
	if err != nil {
		cancel()
		return fmt.Errorf("open network stream: %w", err)
	}
	c.stream = s
	c.cancel = cancel
	return nil
}

func (c *GRPCClient) resetStreamLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.stream = nil
}
