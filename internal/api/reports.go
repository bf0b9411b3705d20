package api

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"fxrange/internal/report"
	"fxrange/internal/store"
	"fxrange/internal/strategy"
)

// Full method names of the fxrange.v1.Reports service.
const (
	ReportsService        = "fxrange.v1.Reports"
	ListResultsFullMethod = "/fxrange.v1.Reports/ListResults"
	GetResultFullMethod   = "/fxrange.v1.Reports/GetResult"
)

// ReportsServer is the server API for the fxrange.v1.Reports service.
type ReportsServer interface {
	ListResults(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetResult(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

// RunReader is the read side of store.ResultStore.
type RunReader interface {
	LatestRun(ctx context.Context) (*store.RunRecord, error)
	ListResults(ctx context.Context, runID string) ([]store.ResultRecord, error)
}

var _ ReportsServer = (*ReportServer)(nil)

// ReportServer serves the most recent backtest run. A run published in this
// process takes precedence; otherwise the latest persisted run is read from
// the result store.
type ReportServer struct {
	runs   RunReader
	latest atomic.Pointer[strategy.Run]
	log    *slog.Logger
}

// NewReportServer creates a ReportServer. runs may be nil when nothing is
// persisted.
func NewReportServer(runs RunReader, log *slog.Logger) *ReportServer {
	if log == nil {
		log = slog.Default()
	}
	return &ReportServer{runs: runs, log: log.With("component", "reports")}
}

// Publish makes run the one served to clients.
func (s *ReportServer) Publish(run *strategy.Run) {
	s.latest.Store(run)
}

// RegisterGRPC registers the service on gs.
func (s *ReportServer) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&reportsServiceDesc, s)
}

// ListResults returns the latest run with one entry per series.
func (s *ReportServer) ListResults(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	view, err := s.latestView(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]any, len(view.rows))
	for i, r := range view.rows {
		results[i] = rowMap(r)
	}
	st, err := structpb.NewStruct(map[string]any{
		"run_id":      view.id,
		"strategy":    view.strategy,
		"window":      view.window,
		"started_at":  view.startedAt.Format(time.RFC3339),
		"finished_at": view.finishedAt.Format(time.RFC3339),
		"results":     results,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding results: %v", err)
	}
	return st, nil
}

// GetResult returns the entry for a single series key such as "EURUSD_H1".
func (s *ReportServer) GetResult(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	key := strings.ToUpper(strings.TrimSpace(req.GetValue()))
	if key == "" {
		return nil, status.Error(codes.InvalidArgument, "series key is required")
	}
	view, err := s.latestView(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range view.rows {
		if r.Key == key {
			st, err := structpb.NewStruct(rowMap(r))
			if err != nil {
				return nil, status.Errorf(codes.Internal, "encoding result: %v", err)
			}
			return st, nil
		}
	}
	return nil, status.Errorf(codes.NotFound, "no result for %s in run %s", key, view.id)
}

type runView struct {
	id         string
	strategy   string
	window     int
	startedAt  time.Time
	finishedAt time.Time
	rows       []report.Row
}

func (s *ReportServer) latestView(ctx context.Context) (*runView, error) {
	if run := s.latest.Load(); run != nil {
		v := &runView{
			id:         run.ID,
			strategy:   run.Strategy,
			window:     run.Window,
			startedAt:  run.StartedAt,
			finishedAt: run.FinishedAt,
		}
		for _, r := range run.Results.All() {
			v.rows = append(v.rows, report.RowFromResult(r))
		}
		return v, nil
	}

	if s.runs == nil {
		return nil, status.Error(codes.NotFound, "no backtest run available")
	}
	rec, err := s.runs.LatestRun(ctx)
	if err != nil {
		s.log.Error("reading latest run", "err", err)
		return nil, status.Errorf(codes.Internal, "reading latest run: %v", err)
	}
	if rec == nil {
		return nil, status.Error(codes.NotFound, "no backtest run available")
	}
	results, err := s.runs.ListResults(ctx, rec.ID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, status.FromContextError(err).Err()
		}
		s.log.Error("reading results", "run", rec.ID, "err", err)
		return nil, status.Errorf(codes.Internal, "reading results: %v", err)
	}
	v := &runView{
		id:         rec.ID,
		strategy:   rec.Strategy,
		window:     rec.Window,
		startedAt:  rec.StartedAt,
		finishedAt: rec.FinishedAt,
	}
	for _, r := range results {
		v.rows = append(v.rows, report.RowFromRecord(r))
	}
	return v, nil
}

func rowMap(r report.Row) map[string]any {
	m := map[string]any{
		"series":            r.Key,
		"timeframe":         r.Timeframe,
		"bars":              r.Bars,
		"trades":            r.Trades,
		"total_return":      finite(r.TotalReturn),
		"annualized_return": finite(r.Annualized),
		"max_drawdown":      finite(r.MaxDrawdown),
		"sharpe":            nil,
		"error":             r.Err,
	}
	if r.Sharpe.Defined {
		m["sharpe"] = finite(r.Sharpe.Value)
	}
	return m
}

// finite maps NaN and infinities to null; JSON cannot carry them.
func finite(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

var reportsServiceDesc = grpc.ServiceDesc{
	ServiceName: ReportsService,
	HandlerType: (*ReportsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListResults", Handler: listResultsHandler},
		{MethodName: "GetResult", Handler: getResultHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fxrange/v1/reports.proto",
}

func listResultsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReportsServer).ListResults(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListResultsFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReportsServer).ListResults(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getResultHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReportsServer).GetResult(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetResultFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReportsServer).GetResult(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}
