// Package toolhost implements external.ToolHost over a gRPC connection to
// an MCP-style tool server. The adapter does not depend on a
// protoc-generated service client: it drives the connection with
// grpc.ClientConn.Invoke directly against a fixed method name, encoding the
// call with structpb.Struct so the wire format stays plain protobuf.
package toolhost

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/srs-writer/agent-engine/external"
)

// InvokeMethod is the fixed gRPC method path this adapter calls for every
// tool invocation: one generic "InvokeTool" RPC carrying the tool name and
// arguments, mirroring how MCP multiplexes many tools over one transport.
const InvokeMethod = "/mcp.ToolHost/InvokeTool"

// GRPCToolHost implements external.ToolHost over a single gRPC connection.
type GRPCToolHost struct {
	conn *grpc.ClientConn
}

// NewGRPCToolHost wraps an established connection.
func NewGRPCToolHost(conn *grpc.ClientConn) (*GRPCToolHost, error) {
	if conn == nil {
		return nil, errors.New("toolhost: grpc connection is required")
	}
	return &GRPCToolHost{conn: conn}, nil
}

// InvokeTool implements external.ToolHost by issuing a single unary RPC
// and translating its reply into the core's wrapped ToolHostResult shape,
// applying external.ClassifyToolHostError on transport failure.
func (h *GRPCToolHost) InvokeTool(ctx context.Context, name string, inv external.ToolInvocation) (external.ToolHostResult, error) {
	args, err := structpb.NewStruct(inv.Input)
	if err != nil {
		return external.ToolHostResult{}, fmt.Errorf("toolhost: encoding arguments for %q: %w", name, err)
	}
	req, err := structpb.NewStruct(map[string]any{
		"name":  name,
		"args":  args.AsMap(),
		"token": inv.ToolInvocationToken,
	})
	if err != nil {
		return external.ToolHostResult{}, fmt.Errorf("toolhost: encoding request for %q: %w", name, err)
	}

	reply := new(structpb.Struct)
	if err := h.conn.Invoke(ctx, InvokeMethod, req, reply); err != nil {
		return external.ClassifyToolHostError(name, err), nil
	}

	return decodeToolInvokeReply(reply), nil
}

func decodeToolInvokeReply(reply *structpb.Struct) external.ToolHostResult {
	fields := reply.GetFields()
	success := true
	if v, ok := fields["success"]; ok {
		success = v.GetBoolValue()
	}
	if !success {
		return external.ToolHostResult{
			Success: false,
			Error:   fields["error"].GetStringValue(),
		}
	}
	var parts []external.ToolContentPart
	if content, ok := fields["content"]; ok {
		for _, v := range content.GetListValue().GetValues() {
			parts = append(parts, external.ToolContentPart{Value: v.GetStringValue()})
		}
	}
	return external.ToolHostResult{Success: true, Content: parts}
}
