package rpc

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client is a typed client for the ReactiveStore service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for addr. Extra options are appended after the
// default insecure transport credentials.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Get(ctx context.Context, key string) (any, error) {
	out := new(structpb.Value)
	if err := c.conn.Invoke(ctx, methodGet, wrapperspb.String(key), out); err != nil {
		return nil, err
	}
	return out.AsInterface(), nil
}

func (c *Client) Set(ctx context.Context, key string, value any) error {
	in, err := structpb.NewStruct(map[string]any{"key": key, "value": value})
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	return c.conn.Invoke(ctx, methodSet, in, new(emptypb.Empty))
}

func (c *Client) Merge(ctx context.Context, key string, changes map[string]any) error {
	in, err := structpb.NewStruct(map[string]any{"key": key, "changes": changes})
	if err != nil {
		return fmt.Errorf("failed to encode changes: %w", err)
	}
	return c.conn.Invoke(ctx, methodMerge, in, new(emptypb.Empty))
}

func (c *Client) Remove(ctx context.Context, key string) error {
	return c.conn.Invoke(ctx, methodRemove, wrapperspb.String(key), new(emptypb.Empty))
}

func (c *Client) MemoryOnly(ctx context.Context) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.conn.Invoke(ctx, methodGetMemoryOnly, new(emptypb.Empty), out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

func (c *Client) SetMemoryOnly(ctx context.Context, enabled bool) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.conn.Invoke(ctx, methodSetMemoryOnly, wrapperspb.Bool(enabled), out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

// Change is one update received from Subscribe.
type Change struct {
	Key     string
	Value   any
	Deleted bool
}

// Subscribe streams changes for pattern to fn until ctx is cancelled, the
// server ends the stream or fn returns an error.
func (c *Client) Subscribe(ctx context.Context, pattern string, fn func(Change) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, &storeServiceDesc.Streams[0], methodSubscribe)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(wrapperspb.String(pattern)); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		fields := msg.GetFields()
		change := Change{
			Key:     fields["key"].GetStringValue(),
			Value:   fields["value"].AsInterface(),
			Deleted: fields["deleted"].GetBoolValue(),
		}
		if err := fn(change); err != nil {
			return err
		}
	}
}
