package raftrpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/GavinJE/scylla/internal/raft"
)

// This file hand-writes what protoc-gen-go-grpc would otherwise generate
// from a .proto file (teacher's internal/raft/proto, not present in the
// retrieved copy — see DESIGN.md). The shape — a *Client interface wrapping
// grpc.ClientConnInterface.Invoke, a *Server interface plus a ServiceDesc of
// method handlers, a package-level Register func — mirrors generated code
// byte-for-byte in structure; only the message types differ, since the gob
// codec (codec.go) lets them be plain package raft structs instead of
// generated protobuf messages.

const serviceName = "scylla.raft.RaftService"

// TimeoutNowWire adds the sender's id, which raft.TimeoutNow itself doesn't
// carry (unlike the other request types, it has no embedded candidate/leader
// field to identify the caller from).
type TimeoutNowWire struct {
	From raft.ServerID
	Req  raft.TimeoutNow
}

// Ack is the empty reply to a fire-and-forget TimeoutNow call.
type Ack struct{}

// RaftServiceClient is the caller-side stub, used by Transport to issue RPCs.
type RaftServiceClient interface {
	RequestVote(ctx context.Context, in *raft.VoteRequest, opts ...grpc.CallOption) (*raft.VoteResponse, error)
	PreVote(ctx context.Context, in *raft.PreVoteRequest, opts ...grpc.CallOption) (*raft.PreVoteResponse, error)
	AppendEntries(ctx context.Context, in *raft.AppendEntriesRequest, opts ...grpc.CallOption) (*raft.AppendEntriesResponse, error)
	InstallSnapshot(ctx context.Context, in *raft.InstallSnapshotRequest, opts ...grpc.CallOption) (*raft.InstallSnapshotResponse, error)
	TimeoutNow(ctx context.Context, in *TimeoutNowWire, opts ...grpc.CallOption) (*Ack, error)
}

type raftServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewRaftServiceClient wraps an established connection the way
// proto.NewRaftServiceClient did in the teacher's transport.go.
func NewRaftServiceClient(cc grpc.ClientConnInterface) RaftServiceClient {
	return &raftServiceClient{cc: cc}
}

func (c *raftServiceClient) call(ctx context.Context, method string, in, out interface{}, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(gobCodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *raftServiceClient) RequestVote(ctx context.Context, in *raft.VoteRequest, opts ...grpc.CallOption) (*raft.VoteResponse, error) {
	out := new(raft.VoteResponse)
	if err := c.call(ctx, "/"+serviceName+"/RequestVote", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *raftServiceClient) PreVote(ctx context.Context, in *raft.PreVoteRequest, opts ...grpc.CallOption) (*raft.PreVoteResponse, error) {
	out := new(raft.PreVoteResponse)
	if err := c.call(ctx, "/"+serviceName+"/PreVote", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *raftServiceClient) AppendEntries(ctx context.Context, in *raft.AppendEntriesRequest, opts ...grpc.CallOption) (*raft.AppendEntriesResponse, error) {
	out := new(raft.AppendEntriesResponse)
	if err := c.call(ctx, "/"+serviceName+"/AppendEntries", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *raftServiceClient) InstallSnapshot(ctx context.Context, in *raft.InstallSnapshotRequest, opts ...grpc.CallOption) (*raft.InstallSnapshotResponse, error) {
	out := new(raft.InstallSnapshotResponse)
	if err := c.call(ctx, "/"+serviceName+"/InstallSnapshot", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *raftServiceClient) TimeoutNow(ctx context.Context, in *TimeoutNowWire, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.call(ctx, "/"+serviceName+"/TimeoutNow", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// RaftServiceServer is the callee-side interface; Transport implements it.
type RaftServiceServer interface {
	RequestVote(context.Context, *raft.VoteRequest) (*raft.VoteResponse, error)
	PreVote(context.Context, *raft.PreVoteRequest) (*raft.PreVoteResponse, error)
	AppendEntries(context.Context, *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error)
	InstallSnapshot(context.Context, *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error)
	TimeoutNow(context.Context, *TimeoutNowWire) (*Ack, error)
}

// RegisterRaftServiceServer wires srv into a grpc.Server the way generated
// code's RegisterRaftServiceServer would.
func RegisterRaftServiceServer(s grpc.ServiceRegistrar, srv RaftServiceServer) {
	s.RegisterService(&raftServiceDesc, srv)
}

func requestVoteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.VoteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServiceServer).RequestVote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/RequestVote"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RaftServiceServer).RequestVote(ctx, req.(*raft.VoteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func preVoteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.PreVoteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServiceServer).PreVote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/PreVote"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RaftServiceServer).PreVote(ctx, req.(*raft.PreVoteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func appendEntriesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.AppendEntriesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServiceServer).AppendEntries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/AppendEntries"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RaftServiceServer).AppendEntries(ctx, req.(*raft.AppendEntriesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func installSnapshotHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(raft.InstallSnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServiceServer).InstallSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/InstallSnapshot"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RaftServiceServer).InstallSnapshot(ctx, req.(*raft.InstallSnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func timeoutNowHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TimeoutNowWire)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServiceServer).TimeoutNow(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/TimeoutNow"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RaftServiceServer).TimeoutNow(ctx, req.(*TimeoutNowWire))
	}
	return interceptor(ctx, in, info, handler)
}

var raftServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RaftServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestVote", Handler: requestVoteHandler},
		{MethodName: "PreVote", Handler: preVoteHandler},
		{MethodName: "AppendEntries", Handler: appendEntriesHandler},
		{MethodName: "InstallSnapshot", Handler: installSnapshotHandler},
		{MethodName: "TimeoutNow", Handler: timeoutNowHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/transport/raftrpc/service.go",
}
