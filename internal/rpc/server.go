package rpc

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"reactive_kv_store/internal/keys"
	"reactive_kv_store/internal/memorymode"
	"reactive_kv_store/internal/reactive"
)

// streamBuffer bounds how far a subscriber may fall behind before the
// stream is terminated with ResourceExhausted.
const streamBuffer = 256

// Server implements StoreServer over a reactive store and its mode controller.
type Server struct {
	store  *reactive.Store
	mode   *memorymode.Controller
	logger *zap.Logger
}

func NewServer(store *reactive.Store, mode *memorymode.Controller, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{store: store, mode: mode, logger: logger}
}

func (s *Server) Get(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Value, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "key is required")
	}

	value, ok := s.store.Get(req.GetValue())
	if !ok {
		return nil, status.Errorf(codes.NotFound, "key not found: %s", req.GetValue())
	}

	out, err := structpb.NewValue(value)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode value: %v", err)
	}
	return out, nil
}

func (s *Server) Set(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	key := req.GetFields()["key"].GetStringValue()
	value, ok := req.GetFields()["value"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "value is required, use Remove to delete a key")
	}

	if err := s.store.Set(key, value.AsInterface()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Merge(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	key := req.GetFields()["key"].GetStringValue()
	changes := req.GetFields()["changes"].GetStructValue()
	if changes == nil {
		return nil, status.Error(codes.InvalidArgument, "changes must be an object")
	}

	if err := s.store.Merge(key, changes.AsMap()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Remove(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.store.Remove(req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Subscribe sends the current values matching the pattern, then streams
// live changes. The snapshot is written straight to the stream so only live
// changes count against streamBuffer. Changes that race the snapshot are
// sent again afterwards, in order, so the client ends on the latest values.
func (s *Server) Subscribe(req *wrapperspb.StringValue, stream SubscribeStream) error {
	pattern := keys.Pattern(req.GetValue())
	ctx := stream.Context()

	updates := make(chan *structpb.Struct, streamBuffer)
	overflow := make(chan struct{})
	var once sync.Once

	id, err := s.store.Subscribe(pattern, func(key string, value any) {
		msg, err := changeMessage(key, value)
		if err != nil {
			s.logger.Warn("Dropping unencodable change", zap.String("key", key), zap.Error(err))
			return
		}
		select {
		case updates <- msg:
		default:
			once.Do(func() { close(overflow) })
		}
	}, reactive.WithoutInitialValue())
	if err != nil {
		return toStatus(err)
	}
	defer s.store.Unsubscribe(id)

	s.logger.Debug("Stream subscribed", zap.String("id", id), zap.String("pattern", pattern.String()))

	snapshot := s.store.GetCollection(pattern)
	keyNames := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keyNames = append(keyNames, key)
	}
	sort.Strings(keyNames)
	for _, key := range keyNames {
		msg, err := changeMessage(key, snapshot[key])
		if err != nil {
			s.logger.Warn("Dropping unencodable value", zap.String("key", key), zap.Error(err))
			continue
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-overflow:
			return status.Error(codes.ResourceExhausted, "subscriber fell too far behind")
		case msg := <-updates:
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func (s *Server) GetMemoryOnly(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	return wrapperspb.Bool(s.mode.Enabled()), nil
}

func (s *Server) SetMemoryOnly(ctx context.Context, req *wrapperspb.BoolValue) (*wrapperspb.BoolValue, error) {
	var err error
	if req.GetValue() {
		err = s.mode.Enable()
	} else {
		err = s.mode.Disable()
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bool(s.mode.Enabled()), nil
}

func changeMessage(key string, value any) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"key":     key,
		"value":   value,
		"deleted": value == nil,
	})
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, reactive.ErrEmptyKey):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, reactive.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
