// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// The remote queue lets workers on other machines publish into a queue hosted
// by the coordinator. Payloads are CBOR rather than protobuf, so the service
// is described by hand instead of generated code

const (
	serviceName   = "goldnonce.queue.v1.Queue"
	publishMethod = "/" + serviceName + "/Publish"
	receiveMethod = "/" + serviceName + "/Receive"
	deleteMethod  = "/" + serviceName + "/Delete"

	// Upper bound on a single remote long poll
	maxRemoteWait = 5 * time.Minute
)

type cborCodec struct{}

func (cborCodec) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

func (cborCodec) Name() string {
	return "cbor"
}

type publishRequest struct {
	Body       string            `cbor:"1,keyasint"`
	Attributes map[string]string `cbor:"2,keyasint,omitempty"`
}

type receiveRequest struct {
	MaxWaitMillis int64 `cbor:"1,keyasint"`
}

type receiveResponse struct {
	Messages []Message `cbor:"1,keyasint"`
}

type deleteRequest struct {
	Message Message `cbor:"1,keyasint"`
}

type emptyResponse struct{}

var queueServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Channel)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Publish",
			Handler:    publishHandler,
		},
		{
			MethodName: "Receive",
			Handler:    receiveHandler,
		},
		{
			MethodName: "Delete",
			Handler:    deleteHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "goldnonce/queue",
}

func publishHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(publishRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		tmpReq := req.(*publishRequest)
		err := srv.(Channel).Publish(ctx, tmpReq.Body, tmpReq.Attributes)
		return &emptyResponse{}, err
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: publishMethod}
	return interceptor(ctx, in, info, handler)
}

func receiveHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(receiveRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		tmpReq := req.(*receiveRequest)
		maxWait := min(time.Duration(tmpReq.MaxWaitMillis)*time.Millisecond, maxRemoteWait)
		msgs, err := srv.(Channel).Receive(ctx, maxWait)
		return &receiveResponse{Messages: msgs}, err
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: receiveMethod}
	return interceptor(ctx, in, info, handler)
}

func deleteHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(deleteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		tmpReq := req.(*deleteRequest)
		err := srv.(Channel).Delete(ctx, tmpReq.Message)
		return &emptyResponse{}, err
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deleteMethod}
	return interceptor(ctx, in, info, handler)
}

// Server exposes a local channel over gRPC
type Server struct {
	grpcServer *grpc.Server
	backend    Channel
}

func NewServer(backend Channel) *Server {
	s := &Server{
		grpcServer: grpc.NewServer(
			grpc.ForceServerCodec(cborCodec{}),
			grpc.UnaryInterceptor(logInterceptor),
		),
		backend: backend,
	}
	s.grpcServer.RegisterService(&queueServiceDesc, backend)
	return s
}

// Serve blocks until the listener fails or Stop is called
func (s *Server) Serve(lis net.Listener) error {
	slog.Info(
		fmt.Sprintf("serving queue on %s", lis.Addr()),
	)
	return s.grpcServer.Serve(lis)
}

func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

func logInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		slog.Warn(
			fmt.Sprintf("queue call %s failed: %s", info.FullMethod, err),
		)
	}
	return resp, err
}

// GRPC is a channel client for a remote Server
type GRPC struct {
	conn *grpc.ClientConn
}

func DialGRPC(address string, opts ...grpc.DialOption) (*GRPC, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(cborCodec{})),
	}
	dialOpts = append(dialOpts, opts...)
	conn, err := grpc.NewClient(address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue client for %s: %w", address, err)
	}
	return &GRPC{conn: conn}, nil
}

func (g *GRPC) Publish(ctx context.Context, body string, attributes map[string]string) error {
	req := &publishRequest{
		Body:       body,
		Attributes: attributes,
	}
	if err := g.conn.Invoke(ctx, publishMethod, req, &emptyResponse{}); err != nil {
		return fmt.Errorf("failed to publish to remote queue: %w", err)
	}
	return nil
}

func (g *GRPC) Receive(ctx context.Context, maxWait time.Duration) ([]Message, error) {
	req := &receiveRequest{
		MaxWaitMillis: maxWait.Milliseconds(),
	}
	resp := &receiveResponse{}
	if err := g.conn.Invoke(ctx, receiveMethod, req, resp); err != nil {
		return nil, fmt.Errorf("failed to receive from remote queue: %w", err)
	}
	return resp.Messages, nil
}

func (g *GRPC) Delete(ctx context.Context, msg Message) error {
	req := &deleteRequest{
		Message: msg,
	}
	if err := g.conn.Invoke(ctx, deleteMethod, req, &emptyResponse{}); err != nil {
		return fmt.Errorf("failed to delete from remote queue: %w", err)
	}
	return nil
}

func (g *GRPC) Close() error {
	return g.conn.Close()
}
