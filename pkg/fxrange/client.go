// Package fxrange is a Go client for the fxrange report service.
package fxrange

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"fxrange/internal/api"
)

// Result is the evaluation of one series. Sharpe is nil when the ratio is
// undefined; Error is set when the series failed.
type Result struct {
	Series           string   `json:"series"`
	Timeframe        string   `json:"timeframe"`
	Bars             int      `json:"bars"`
	Trades           int      `json:"trades"`
	TotalReturn      float64  `json:"total_return"`
	AnnualizedReturn float64  `json:"annualized_return"`
	Sharpe           *float64 `json:"sharpe"`
	MaxDrawdown      float64  `json:"max_drawdown"`
	Error            string   `json:"error"`
}

// Run is a backtest run with its per-series results.
type Run struct {
	ID         string   `json:"run_id"`
	Strategy   string   `json:"strategy"`
	Window     int      `json:"window"`
	StartedAt  string   `json:"started_at"`
	FinishedAt string   `json:"finished_at"`
	Results    []Result `json:"results"`
}

// Client talks to an fxrange-backtest gRPC endpoint.
type Client struct {
	addr string
	conn *grpc.ClientConn
}

// NewClient creates a client for addr. Insecure transport credentials are
// used unless opts override them.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{addr: addr, conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// LatestRun fetches the most recent run.
func (c *Client) LatestRun(ctx context.Context) (*Run, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.ListResultsFullMethod, &emptypb.Empty{}, out); err != nil {
		return nil, fmt.Errorf("ListResults: %w", err)
	}
	run := &Run{}
	if err := decode(out, run); err != nil {
		return nil, err
	}
	return run, nil
}

// GetResult fetches the latest result for one series key, e.g. "EURUSD_H1".
func (c *Client) GetResult(ctx context.Context, key string) (*Result, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.GetResultFullMethod, wrapperspb.String(key), out); err != nil {
		return nil, fmt.Errorf("GetResult %s: %w", key, err)
	}
	res := &Result{}
	if err := decode(out, res); err != nil {
		return nil, err
	}
	return res, nil
}

func decode(m proto.Message, v any) error {
	data, err := protojson.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
