package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"meetsync/internal/api"
	"meetsync/internal/daemon"
	"meetsync/internal/logging"
	"meetsync/internal/notifications"
)

// serviceName is the RPC receiver name used by client and server.
const serviceName = "MeetSync"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path. notifier may
// be nil, in which case TestNotification reports that nothing is configured.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, notifier notifications.Service, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, notifier: notifier, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
}

type service struct {
	daemon   *daemon.Daemon
	notifier notifications.Service
	logger   *slog.Logger
	ctx      context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status, err := s.daemon.Status(s.ctx)
	if err != nil {
		return err
	}
	*resp = status
	return nil
}

func (s *service) SourceStatus(req SourceRequest, resp *api.SourceStatus) error {
	status, err := s.daemon.Control().GetStatus(s.ctx, req.Source)
	if err != nil {
		return err
	}
	*resp = status
	return nil
}

func (s *service) SetEnabled(req SetEnabledRequest, resp *api.EnableResult) error {
	s.log().Debug("source toggle requested",
		logging.String(logging.FieldSource, req.Source),
		logging.Bool("enabled", req.Enabled))
	result, err := s.daemon.Control().SetEnabled(s.ctx, req.Source, req.Enabled)
	if err != nil {
		return err
	}
	*resp = result
	return nil
}

func (s *service) SetPollInterval(req SetIntervalRequest, resp *api.SourceStatus) error {
	status, err := s.daemon.Control().SetPollInterval(s.ctx, req.Source, req.Minutes)
	if err != nil {
		return err
	}
	*resp = status
	return nil
}

func (s *service) Backfill(req BackfillRequest, resp *api.BackfillResult) error {
	s.log().Debug("backfill requested",
		logging.String(logging.FieldSource, req.Source),
		logging.Int("days", req.Days))
	result, err := s.daemon.Control().StartBackfill(s.ctx, req.Source, req.Days)
	if err != nil {
		return err
	}
	*resp = result
	return nil
}

func (s *service) Retry(req RecordRequest, resp *api.SyncRecord) error {
	rec, err := s.daemon.Control().RetrySync(s.ctx, req.ID)
	if err != nil {
		return err
	}
	*resp = rec
	return nil
}

func (s *service) TestConnection(req SourceRequest, resp *api.ConnectionTest) error {
	result, err := s.daemon.Control().TestConnection(s.ctx, req.Source)
	if err != nil {
		return err
	}
	*resp = result
	return nil
}

func (s *service) ListRecords(req ListRecordsRequest, resp *api.RecordListResponse) error {
	items, err := s.daemon.Control().ListRecords(s.ctx, req.Source, req.States)
	if err != nil {
		return err
	}
	resp.Items = items
	return nil
}

func (s *service) GetRecord(req RecordRequest, resp *api.RecordResponse) error {
	item, err := s.daemon.Control().GetRecord(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Item = item
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	if s.notifier == nil {
		resp.Message = "no notification channel configured"
		return nil
	}
	if err := s.notifier.Publish(s.ctx, notifications.EventTest, notifications.Payload{}); err != nil {
		resp.Message = "failed to send notification"
		return err
	}
	resp.Sent = true
	resp.Message = "test notification sent"
	s.log().Info("test notification sent",
		logging.String(logging.FieldEventType, "notification_test"))
	return nil
}
