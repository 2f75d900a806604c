package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/pointframe/internal/dispatch"
	"github.com/banshee-data/pointframe/internal/pointcloud"
)

// Client calls a remote FrameProcessor. It satisfies the same Process
// contract as dispatch.Dispatcher.
type Client struct {
	conn *grpc.ClientConn
	own  bool
}

// Dial connects to target without transport security.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(DefaultMaxMsgSize),
			grpc.MaxCallSendMsgSize(DefaultMaxMsgSize),
		),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", target, err)
	}
	return &Client{conn: conn, own: true}, nil
}

// NewClient wraps an existing connection; Close leaves it open.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Process sends req and waits for the response. req.AllData is consumed
// whether or not the call succeeds. An error-variant response is returned
// along with its error.
func (c *Client) Process(ctx context.Context, req dispatch.Request) (dispatch.Response, error) {
	if req.AllData.Moved() {
		return dispatch.Response{}, fmt.Errorf("frame %s: allData: %w", req.FrameID, pointcloud.ErrBufferMoved)
	}
	defer func() { _, _ = req.AllData.Detach() }()

	out := new(dispatch.Response)
	if err := c.conn.Invoke(ctx, processMethod, &req, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return dispatch.Response{}, errorFromStatus(err)
	}
	return *out, out.Err()
}

// errorFromStatus attaches the local sentinel for status codes the service
// produces from one, so errors.Is behaves as it does against a local
// Dispatcher. The gRPC status stays reachable through status.Code.
func errorFromStatus(err error) error {
	var sentinel error
	switch status.Code(err) {
	case codes.ResourceExhausted:
		sentinel = dispatch.ErrQueueFull
	case codes.AlreadyExists:
		sentinel = dispatch.ErrDuplicateFrame
	case codes.InvalidArgument:
		sentinel = pointcloud.ErrMalformedInput
	default:
		return err
	}
	return fmt.Errorf("%w: %w", err, sentinel)
}

// Close closes the connection if the client created it.
func (c *Client) Close() error {
	if !c.own {
		return nil
	}
	return c.conn.Close()
}
