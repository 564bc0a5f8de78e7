package api

import (
	"context"

	"github.com/devrev/datapond/internal/model"
	"google.golang.org/grpc"
)

const (
	ShardServiceName = "datapond.shard.v1.ShardService"

	ShardService_Write_FullMethodName     = "/" + ShardServiceName + "/Write"
	ShardService_Read_FullMethodName      = "/" + ShardServiceName + "/Read"
	ShardService_Provision_FullMethodName = "/" + ShardServiceName + "/Provision"
	ShardService_Stats_FullMethodName     = "/" + ShardServiceName + "/Stats"
)

type WriteRequest struct {
	File    model.FilePayload `json:"file"`
	Chunked bool              `json:"chunked"`
}

type WriteResponse struct {
	Ok bool `json:"ok"`
}

type ShardReadRequest struct {
	FileID      string `json:"file_id"`
	ChunkNumber uint64 `json:"chunk_number"`
}

type ReadResponse = model.FileChunkResponse

type ProvisionRequest struct {
	Package  []byte              `json:"package"`
	InitArgs model.ShardInitArgs `json:"init_args"`
}

type ProvisionResponse struct {
	Ok bool `json:"ok"`
}

type StatsRequest struct{}

type StatsResponse = model.Utilization

// ShardServiceServer is the server API for ShardService.
type ShardServiceServer interface {
	Write(context.Context, *WriteRequest) (*WriteResponse, error)
	Read(context.Context, *ShardReadRequest) (*ReadResponse, error)
	Provision(context.Context, *ProvisionRequest) (*ProvisionResponse, error)
	Stats(context.Context, *StatsRequest) (*StatsResponse, error)
}

// ShardService_ServiceDesc is the grpc.ServiceDesc for ShardService.
var ShardService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ShardServiceName,
	HandlerType: (*ShardServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Write",
			Handler: unaryHandler(ShardService_Write_FullMethodName,
				func(s ShardServiceServer, ctx context.Context, in *WriteRequest) (*WriteResponse, error) {
					return s.Write(ctx, in)
				}),
		},
		{
			MethodName: "Read",
			Handler: unaryHandler(ShardService_Read_FullMethodName,
				func(s ShardServiceServer, ctx context.Context, in *ShardReadRequest) (*ReadResponse, error) {
					return s.Read(ctx, in)
				}),
		},
		{
			MethodName: "Provision",
			Handler: unaryHandler(ShardService_Provision_FullMethodName,
				func(s ShardServiceServer, ctx context.Context, in *ProvisionRequest) (*ProvisionResponse, error) {
					return s.Provision(ctx, in)
				}),
		},
		{
			MethodName: "Stats",
			Handler: unaryHandler(ShardService_Stats_FullMethodName,
				func(s ShardServiceServer, ctx context.Context, in *StatsRequest) (*StatsResponse, error) {
					return s.Stats(ctx, in)
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "datapond/shard/v1/shard.proto",
}

// RegisterShardServiceServer registers srv on s.
func RegisterShardServiceServer(s grpc.ServiceRegistrar, srv ShardServiceServer) {
	s.RegisterService(&ShardService_ServiceDesc, srv)
}

// ShardServiceClient is the client API for ShardService.
type ShardServiceClient interface {
	Write(ctx context.Context, in *WriteRequest, opts ...grpc.CallOption) (*WriteResponse, error)
	Read(ctx context.Context, in *ShardReadRequest, opts ...grpc.CallOption) (*ReadResponse, error)
	Provision(ctx context.Context, in *ProvisionRequest, opts ...grpc.CallOption) (*ProvisionResponse, error)
	Stats(ctx context.Context, in *StatsRequest, opts ...grpc.CallOption) (*StatsResponse, error)
}

type shardServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewShardServiceClient wraps a connection.
func NewShardServiceClient(cc grpc.ClientConnInterface) ShardServiceClient {
	return &shardServiceClient{cc: cc}
}

func (c *shardServiceClient) Write(ctx context.Context, in *WriteRequest, opts ...grpc.CallOption) (*WriteResponse, error) {
	return invoke[WriteResponse](ctx, c.cc, ShardService_Write_FullMethodName, in, opts)
}

func (c *shardServiceClient) Read(ctx context.Context, in *ShardReadRequest, opts ...grpc.CallOption) (*ReadResponse, error) {
	return invoke[ReadResponse](ctx, c.cc, ShardService_Read_FullMethodName, in, opts)
}

func (c *shardServiceClient) Provision(ctx context.Context, in *ProvisionRequest, opts ...grpc.CallOption) (*ProvisionResponse, error) {
	return invoke[ProvisionResponse](ctx, c.cc, ShardService_Provision_FullMethodName, in, opts)
}

func (c *shardServiceClient) Stats(ctx context.Context, in *StatsRequest, opts ...grpc.CallOption) (*StatsResponse, error) {
	return invoke[StatsResponse](ctx, c.cc, ShardService_Stats_FullMethodName, in, opts)
}
