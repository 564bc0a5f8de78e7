package api

import (
	"context"

	"github.com/devrev/datapond/internal/model"
	"google.golang.org/grpc"
)

const (
	ControllerServiceName = "datapond.controller.v1.ControllerService"

	ControllerService_Register_FullMethodName                = "/" + ControllerServiceName + "/Register"
	ControllerService_LoadProvisioningPackage_FullMethodName = "/" + ControllerServiceName + "/LoadProvisioningPackage"
	ControllerService_Upload_FullMethodName                  = "/" + ControllerServiceName + "/Upload"
	ControllerService_Read_FullMethodName                    = "/" + ControllerServiceName + "/Read"
	ControllerService_UserShards_FullMethodName              = "/" + ControllerServiceName + "/UserShards"
)

// IdempotencyKeyHeader is the metadata key carrying an optional upload
// idempotency key.
const IdempotencyKeyHeader = "idempotency-key"

type RegisterRequest struct {
	TenantID string `json:"tenant_id"`
}

type RegisterResponse struct {
	Ok bool `json:"ok"`
}

type LoadProvisioningPackageRequest struct {
	Data []byte `json:"data"`
}

type LoadProvisioningPackageResponse struct {
	Ok bool `json:"ok"`
}

type UploadRequest struct {
	File    model.FilePayload `json:"file"`
	UserID  string            `json:"user_id"`
	Chunked bool              `json:"chunked"`
}

type UploadResponse = model.FileResponse

type ReadRequest struct {
	UserID      string `json:"user_id"`
	FileID      string `json:"file_id"`
	ShardID     string `json:"shard_id"`
	ChunkNumber uint64 `json:"chunk_number"`
}

type UserShardsRequest struct {
	UserID string `json:"user_id"`
}

type UserShardsResponse struct {
	UserID       string   `json:"user_id"`
	ShardIDs     []string `json:"shard_ids"`
	FullShardIDs []string `json:"full_shard_ids"`
}

// ControllerServiceServer is the server API for ControllerService.
type ControllerServiceServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	LoadProvisioningPackage(context.Context, *LoadProvisioningPackageRequest) (*LoadProvisioningPackageResponse, error)
	Upload(context.Context, *UploadRequest) (*UploadResponse, error)
	Read(context.Context, *ReadRequest) (*ReadResponse, error)
	UserShards(context.Context, *UserShardsRequest) (*UserShardsResponse, error)
}

// ControllerService_ServiceDesc is the grpc.ServiceDesc for ControllerService.
var ControllerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ControllerServiceName,
	HandlerType: (*ControllerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Register",
			Handler: unaryHandler(ControllerService_Register_FullMethodName,
				func(s ControllerServiceServer, ctx context.Context, in *RegisterRequest) (*RegisterResponse, error) {
					return s.Register(ctx, in)
				}),
		},
		{
			MethodName: "LoadProvisioningPackage",
			Handler: unaryHandler(ControllerService_LoadProvisioningPackage_FullMethodName,
				func(s ControllerServiceServer, ctx context.Context, in *LoadProvisioningPackageRequest) (*LoadProvisioningPackageResponse, error) {
					return s.LoadProvisioningPackage(ctx, in)
				}),
		},
		{
			MethodName: "Upload",
			Handler: unaryHandler(ControllerService_Upload_FullMethodName,
				func(s ControllerServiceServer, ctx context.Context, in *UploadRequest) (*UploadResponse, error) {
					return s.Upload(ctx, in)
				}),
		},
		{
			MethodName: "Read",
			Handler: unaryHandler(ControllerService_Read_FullMethodName,
				func(s ControllerServiceServer, ctx context.Context, in *ReadRequest) (*ReadResponse, error) {
					return s.Read(ctx, in)
				}),
		},
		{
			MethodName: "UserShards",
			Handler: unaryHandler(ControllerService_UserShards_FullMethodName,
				func(s ControllerServiceServer, ctx context.Context, in *UserShardsRequest) (*UserShardsResponse, error) {
					return s.UserShards(ctx, in)
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "datapond/controller/v1/controller.proto",
}

// RegisterControllerServiceServer registers srv on s.
func RegisterControllerServiceServer(s grpc.ServiceRegistrar, srv ControllerServiceServer) {
	s.RegisterService(&ControllerService_ServiceDesc, srv)
}

// ControllerServiceClient is the client API for ControllerService.
type ControllerServiceClient interface {
	Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error)
	LoadProvisioningPackage(ctx context.Context, in *LoadProvisioningPackageRequest, opts ...grpc.CallOption) (*LoadProvisioningPackageResponse, error)
	Upload(ctx context.Context, in *UploadRequest, opts ...grpc.CallOption) (*UploadResponse, error)
	Read(ctx context.Context, in *ReadRequest, opts ...grpc.CallOption) (*ReadResponse, error)
	UserShards(ctx context.Context, in *UserShardsRequest, opts ...grpc.CallOption) (*UserShardsResponse, error)
}

type controllerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewControllerServiceClient wraps a connection.
func NewControllerServiceClient(cc grpc.ClientConnInterface) ControllerServiceClient {
	return &controllerServiceClient{cc: cc}
}

func (c *controllerServiceClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, ControllerService_Register_FullMethodName, in, opts)
}

func (c *controllerServiceClient) LoadProvisioningPackage(ctx context.Context, in *LoadProvisioningPackageRequest, opts ...grpc.CallOption) (*LoadProvisioningPackageResponse, error) {
	return invoke[LoadProvisioningPackageResponse](ctx, c.cc, ControllerService_LoadProvisioningPackage_FullMethodName, in, opts)
}

func (c *controllerServiceClient) Upload(ctx context.Context, in *UploadRequest, opts ...grpc.CallOption) (*UploadResponse, error) {
	return invoke[UploadResponse](ctx, c.cc, ControllerService_Upload_FullMethodName, in, opts)
}

func (c *controllerServiceClient) Read(ctx context.Context, in *ReadRequest, opts ...grpc.CallOption) (*ReadResponse, error) {
	return invoke[ReadResponse](ctx, c.cc, ControllerService_Read_FullMethodName, in, opts)
}

func (c *controllerServiceClient) UserShards(ctx context.Context, in *UserShardsRequest, opts ...grpc.CallOption) (*UserShardsResponse, error) {
	return invoke[UserShardsResponse](ctx, c.cc, ControllerService_UserShards_FullMethodName, in, opts)
}
