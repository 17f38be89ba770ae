package raftrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/GavinJE/scylla/internal/raft"
	"github.com/GavinJE/scylla/internal/raft/group"
)

// This file hand-writes a second gRPC service alongside service.go's
// RaftServiceServer: where that one carries peer-to-peer protocol traffic
// (RequestVote/AppendEntries/...), adminServiceName carries the
// client-facing surface the teacher split across ClientCommandRequest
// (manual_client) and AddServerRequest/RemoveServerRequest
// (membership-demo). Same ServiceDesc/handler shape as service.go; kept in
// its own file because it has an entirely different caller (raftctl, not
// another replica's Transport).

const adminServiceName = "scylla.raft.AdminService"

// ClientCommandRequest carries an opaque application command for
// replication, the way the teacher's proto.ClientCommandRequest did.
type ClientCommandRequest struct {
	Command []byte
}

// ClientCommandResponse mirrors proto.ClientCommandResponse: Success false
// with a LeaderHint lets raftctl retry against the right server without a
// second round trip to discover it.
type ClientCommandResponse struct {
	Success    bool
	Index      raft.Index
	Term       raft.Term
	LeaderHint raft.ServerID
	Error      string
}

// MembershipRequest names the server an AddServer/RemoveServer call targets.
// Address is only meaningful for AddServer.
type MembershipRequest struct {
	ServerID raft.ServerID
	Address  raft.ServerAddress
}

type MembershipResponse struct {
	Success bool
	Error   string
}

type StatusRequest struct{}

// StatusResponse is the cluster-introspection surface the teacher's
// visual-demo polled per server to render its dashboard.
type StatusResponse struct {
	ID            raft.ServerID
	Role          string
	Term          raft.Term
	LeaderHint    raft.ServerID
	CommitIndex   raft.Index
	LastApplied   raft.Index
	Configuration raft.Configuration
}

// AdminServiceClient is raftctl's caller-side stub.
type AdminServiceClient interface {
	ClientCommand(ctx context.Context, in *ClientCommandRequest, opts ...grpc.CallOption) (*ClientCommandResponse, error)
	AddServer(ctx context.Context, in *MembershipRequest, opts ...grpc.CallOption) (*MembershipResponse, error)
	RemoveServer(ctx context.Context, in *MembershipRequest, opts ...grpc.CallOption) (*MembershipResponse, error)
	Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error)
}

type adminServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAdminServiceClient(cc grpc.ClientConnInterface) AdminServiceClient {
	return &adminServiceClient{cc: cc}
}

func (c *adminServiceClient) call(ctx context.Context, method string, in, out interface{}, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(gobCodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *adminServiceClient) ClientCommand(ctx context.Context, in *ClientCommandRequest, opts ...grpc.CallOption) (*ClientCommandResponse, error) {
	out := new(ClientCommandResponse)
	if err := c.call(ctx, "/"+adminServiceName+"/ClientCommand", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminServiceClient) AddServer(ctx context.Context, in *MembershipRequest, opts ...grpc.CallOption) (*MembershipResponse, error) {
	out := new(MembershipResponse)
	if err := c.call(ctx, "/"+adminServiceName+"/AddServer", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminServiceClient) RemoveServer(ctx context.Context, in *MembershipRequest, opts ...grpc.CallOption) (*MembershipResponse, error) {
	out := new(MembershipResponse)
	if err := c.call(ctx, "/"+adminServiceName+"/RemoveServer", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminServiceClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.call(ctx, "/"+adminServiceName+"/Status", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// AdminServiceServer is the callee-side interface; GroupAdmin implements it.
type AdminServiceServer interface {
	ClientCommand(context.Context, *ClientCommandRequest) (*ClientCommandResponse, error)
	AddServer(context.Context, *MembershipRequest) (*MembershipResponse, error)
	RemoveServer(context.Context, *MembershipRequest) (*MembershipResponse, error)
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
}

func RegisterAdminServiceServer(s grpc.ServiceRegistrar, srv AdminServiceServer) {
	s.RegisterService(&adminServiceDesc, srv)
}

// GroupAdmin adapts a *group.Group to AdminServiceServer: it is the thing
// raftd registers, turning wire requests into Group method calls the same
// way Transport turns peer-protocol wire requests into fsm.Step calls.
type GroupAdmin struct {
	g *group.Group
}

func NewGroupAdmin(g *group.Group) *GroupAdmin {
	return &GroupAdmin{g: g}
}

func (a *GroupAdmin) ClientCommand(ctx context.Context, req *ClientCommandRequest) (*ClientCommandResponse, error) {
	idx, term, err := a.g.AddEntry(raft.Command(req.Command), raft.Committed)
	if err != nil {
		hint := raft.ServerID("")
		var rerr *raft.Error
		if asRaftError(err, &rerr) {
			hint = rerr.LeaderHint
		}
		return &ClientCommandResponse{Success: false, LeaderHint: hint, Error: err.Error()}, nil
	}
	return &ClientCommandResponse{Success: true, Index: idx, Term: term}, nil
}

func (a *GroupAdmin) AddServer(ctx context.Context, req *MembershipRequest) (*MembershipResponse, error) {
	current := a.g.Configuration().Current
	for _, m := range current {
		if m.ID == req.ServerID {
			return &MembershipResponse{Success: false, Error: fmt.Sprintf("server %s already a member", req.ServerID)}, nil
		}
	}
	newSet := append(append([]raft.ServerAddressRecord{}, current...), raft.ServerAddressRecord{ID: req.ServerID, Address: req.Address})
	if err := a.g.SetConfiguration(newSet); err != nil {
		return &MembershipResponse{Success: false, Error: err.Error()}, nil
	}
	return &MembershipResponse{Success: true}, nil
}

func (a *GroupAdmin) RemoveServer(ctx context.Context, req *MembershipRequest) (*MembershipResponse, error) {
	current := a.g.Configuration().Current
	newSet := make([]raft.ServerAddressRecord, 0, len(current))
	found := false
	for _, m := range current {
		if m.ID == req.ServerID {
			found = true
			continue
		}
		newSet = append(newSet, m)
	}
	if !found {
		return &MembershipResponse{Success: false, Error: fmt.Sprintf("server %s not a member", req.ServerID)}, nil
	}
	if err := a.g.SetConfiguration(newSet); err != nil {
		return &MembershipResponse{Success: false, Error: err.Error()}, nil
	}
	return &MembershipResponse{Success: true}, nil
}

func (a *GroupAdmin) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	return &StatusResponse{
		ID:            a.g.ID(),
		Role:          a.g.Role().String(),
		Term:          a.g.CurrentTerm(),
		LeaderHint:    a.g.LeaderHint(),
		CommitIndex:   a.g.CommitIndex(),
		LastApplied:   a.g.LastApplied(),
		Configuration: a.g.Configuration(),
	}, nil
}

// asRaftError reports whether err wraps a *raft.Error, the way errors.As
// would, without pulling in the stdlib errors package just for one call
// site (raft.Error already exposes Unwrap, but here we only need the
// leader-hint field off the outermost wrapping, which is always *raft.Error
// per raft.NotALeader/raft.IOError's construction).
func asRaftError(err error, target **raft.Error) bool {
	if re, ok := err.(*raft.Error); ok {
		*target = re
		return true
	}
	return false
}

func clientCommandHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ClientCommandRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServiceServer).ClientCommand(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + adminServiceName + "/ClientCommand"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServiceServer).ClientCommand(ctx, req.(*ClientCommandRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func adminAddServerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(MembershipRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServiceServer).AddServer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + adminServiceName + "/AddServer"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServiceServer).AddServer(ctx, req.(*MembershipRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func adminRemoveServerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(MembershipRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServiceServer).RemoveServer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + adminServiceName + "/RemoveServer"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServiceServer).RemoveServer(ctx, req.(*MembershipRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServiceServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + adminServiceName + "/Status"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServiceServer).Status(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: adminServiceName,
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ClientCommand", Handler: clientCommandHandler},
		{MethodName: "AddServer", Handler: adminAddServerHandler},
		{MethodName: "RemoveServer", Handler: adminRemoveServerHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/transport/raftrpc/admin.go",
}
