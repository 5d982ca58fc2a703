package server

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"intelpipe/internal/report"
	"intelpipe/internal/reportstore"
)

const intelServiceName = "intelpipe.v1.IntelService"

// IntelServiceServer serves reports as google.protobuf.Struct so clients
// see the same document shape as the HTTP API.
type IntelServiceServer interface {
	LatestReport(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	CollectAndAnalyze(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

func RegisterIntelServiceServer(s grpc.ServiceRegistrar, srv IntelServiceServer) {
	s.RegisterService(&IntelServiceDesc, srv)
}

var IntelServiceDesc = grpc.ServiceDesc{
	ServiceName: intelServiceName,
	HandlerType: (*IntelServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "LatestReport", Handler: unaryHandler("LatestReport", IntelServiceServer.LatestReport)},
		{MethodName: "CollectAndAnalyze", Handler: unaryHandler("CollectAndAnalyze", IntelServiceServer.CollectAndAnalyze)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "intelpipe/v1/intel.proto",
}

type unaryMethod func(IntelServiceServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(IntelServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + intelServiceName + "/" + name}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(IntelServiceServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// IntelServiceClient calls IntelService.
type IntelServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewIntelServiceClient(cc grpc.ClientConnInterface) *IntelServiceClient {
	return &IntelServiceClient{cc: cc}
}

func (c *IntelServiceClient) LatestReport(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+intelServiceName+"/LatestReport", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IntelServiceClient) CollectAndAnalyze(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+intelServiceName+"/CollectAndAnalyze", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// gRPC service implementation
type intelService struct {
	srv *Server
}

func (s *intelService) LatestReport(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	doc, err := s.srv.latest.Latest(ctx)
	if errors.Is(err, reportstore.ErrNoReports) {
		return nil, status.Error(codes.NotFound, "No reports available")
	}
	if err != nil {
		return nil, status.Error(codes.Internal, "Failed to read report")
	}
	return toStruct(doc)
}

func (s *intelService) CollectAndAnalyze(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	doc, err := s.srv.collect(ctx)
	if errors.Is(err, errRunning) {
		return nil, status.Error(codes.Aborted, "Collection already running")
	}
	if err != nil {
		return nil, status.Error(codes.Internal, "Collection failed")
	}
	return toStruct(doc)
}

func toStruct(doc *report.Document) (*structpb.Struct, error) {
	b, err := report.Marshal(doc)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("convert report: %v", err))
	}
	return out, nil
}
