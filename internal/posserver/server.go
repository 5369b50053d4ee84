// Package posserver runs the framed-XML TCP listener the forecourt POS
// speaks to. Each connection is long-lived: the POS opens it at boot and
// multiplexes every customer session over it, one request frame at a time.
package posserver

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/RTNSmart/tier3-engine/internal/engine"
	"github.com/RTNSmart/tier3-engine/internal/logger"
	"github.com/RTNSmart/tier3-engine/internal/metrics"
	"github.com/RTNSmart/tier3-engine/internal/posproto"
)

// Defaults applied when the config leaves a field zero.
const (
	DefaultReadTimeout    = 90 * time.Second
	DefaultWriteTimeout   = 15 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultMaxConnections = 256
)

// ErrAlreadyRunning is returned by Start on a server that is listening.
var ErrAlreadyRunning = errors.New("posserver: already running")

// Config carries the listener settings.
type Config struct {
	ListenAddress      string
	ReadTimeout        time.Duration // per-frame read deadline; idle connections are reaped
	WriteTimeout       time.Duration // per-response write deadline
	RequestTimeout     time.Duration // context deadline for one pipeline run
	MaxFrameBytes      uint32        // zero means the protocol default
	MaxConnections     int
	VendorModelVersion string
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	return c
}

// Server accepts POS connections and routes their frames through the
// decision engine.
type Server struct {
	cfg     Config
	engine  *engine.Engine
	metrics *metrics.Metrics
	logger  zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	running  bool
	quit     chan struct{}
	wg       sync.WaitGroup
	slots    chan struct{}
}

// New builds a server around a decision engine. Zero config fields fall
// back to the package defaults.
func New(cfg Config, eng *engine.Engine, metricsCollector *metrics.Metrics, log zerolog.Logger) *Server {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		engine:  eng,
		metrics: metricsCollector,
		logger:  log.With().Str("component", "posserver").Logger(),
		baseCtx: ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
		quit:    make(chan struct{}),
		slots:   make(chan struct{}, cfg.MaxConnections),
	}
}

// Start binds the listen address and begins accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.logger.Info().
		Str("address", ln.Addr().String()).
		Int("max_connections", s.cfg.MaxConnections).
		Msg("posserver.listening")
	return nil
}

// Addr reports the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting, wakes idle connections, and waits for
// in-flight requests. Connections still open when ctx expires are
// force-closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.quit)
	s.listener.Close()
	for conn := range s.conns {
		conn.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("posserver.stopped")
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		<-done
		s.logger.Warn().Msg("posserver.stopped_forcibly")
		return ctx.Err()
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.logger.Warn().Err(err).Msg("posserver.accept_failed")
				continue
			}
		}

		if !s.startConn(conn) {
			s.logger.Warn().
				Str("remote_addr", conn.RemoteAddr().String()).
				Int("max_connections", s.cfg.MaxConnections).
				Msg("posserver.connection_limit_reached")
			conn.Close()
			continue
		}
	}
}

// startConn claims a connection slot and spawns the frame loop for conn.
// It reports false when the server is at its connection limit.
func (s *Server) startConn(conn net.Conn) bool {
	select {
	case s.slots <- struct{}{}:
	default:
		return false
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.handleConn(conn)
	return true
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		<-s.slots
	}()

	log := s.logger.With().Str("remote_addr", conn.RemoteAddr().String()).Logger()
	log.Debug().Msg("posserver.connection_opened")
	if s.metrics != nil {
		s.metrics.ObservePOSConnection(true)
		defer s.metrics.ObservePOSConnection(false)
	}

	for {
		select {
		case <-s.quit:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		payload, err := posproto.ReadFrame(conn, s.cfg.MaxFrameBytes)
		if err != nil {
			s.logReadError(log, err)
			return
		}

		if err := s.handleFrame(conn, log, payload); err != nil {
			log.Warn().Err(err).Msg("posserver.connection_closing")
			return
		}
	}
}

// logReadError classifies why a read ended. Any frame-level error closes
// the connection because the stream offset can no longer be trusted.
func (s *Server) logReadError(log zerolog.Logger, err error) {
	select {
	case <-s.quit:
		log.Debug().Msg("posserver.connection_drained")
		return
	default:
	}

	if errors.Is(err, io.EOF) {
		log.Debug().Msg("posserver.connection_closed_by_peer")
		return
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		log.Debug().Dur("read_timeout", s.cfg.ReadTimeout).Msg("posserver.connection_idle_closed")
		return
	}

	if s.metrics != nil {
		s.metrics.ObservePOSFrame("frame", err)
	}
	log.Warn().Err(err).Msg("posserver.frame_read_failed")
}

// handleFrame routes one decoded payload. A nil return keeps the
// connection open; an error closes it.
func (s *Server) handleFrame(conn net.Conn, log zerolog.Logger, payload []byte) error {
	root, err := posproto.RootElement(payload)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ObservePOSFrame("", err)
		}
		return err
	}
	if s.metrics != nil {
		s.metrics.ObservePOSFrame(root, nil)
	}

	switch root {
	case "GetLoyaltyOnlineStatusRequest":
		return s.handleOnlineStatus(conn, payload)
	case "BeginCustomerRequest":
		s.handleBeginCustomer(log, payload)
		return nil
	case "GetRewardsRequest":
		return s.handleGetRewards(conn, log, payload)
	case "FinalizeRewardsRequest":
		return s.handleFinalize(conn, log, payload)
	case "EndCustomerRequest":
		s.handleEndCustomer(log, payload)
		return nil
	case "CancelTransactionRequest":
		return s.handleCancel(conn, log, payload)
	default:
		log.Error().Str("root", root).Msg("posserver.unknown_message")
		return nil
	}
}

func (s *Server) handleOnlineStatus(conn net.Conn, payload []byte) error {
	var req posproto.GetLoyaltyOnlineStatusRequest
	xml.Unmarshal(payload, &req)

	return s.respond(conn, posproto.GetLoyaltyOnlineStatusResponse{
		Header:              posproto.NewResponseHeader(req.Header.POSSequenceID, s.cfg.VendorModelVersion),
		LoyaltyOnlineStatus: posproto.YesNoAttr{Value: "yes"},
	})
}

func (s *Server) handleBeginCustomer(log zerolog.Logger, payload []byte) {
	var req posproto.BeginCustomerRequest
	if err := xml.Unmarshal(payload, &req); err != nil {
		log.Warn().Err(err).Msg("posserver.begin_customer_unreadable")
		return
	}
	log.Info().
		Str("pos_sequence_id", req.Header.POSSequenceID).
		Str("loyalty_id", logger.RedactLID(req.LoyaltyID.Get())).
		Msg("posserver.customer_session_begin")
}

func (s *Server) handleEndCustomer(log zerolog.Logger, payload []byte) {
	var req posproto.EndCustomerRequest
	xml.Unmarshal(payload, &req)
	log.Debug().
		Str("pos_sequence_id", req.Header.POSSequenceID).
		Msg("posserver.customer_session_end")
}

func (s *Server) handleGetRewards(conn net.Conn, log zerolog.Logger, payload []byte) error {
	start := time.Now()

	var req posproto.GetRewardsRequest
	if err := xml.Unmarshal(payload, &req); err != nil {
		log.Warn().Err(err).Msg("posserver.rewards_request_unreadable")
		s.observeDecision("malformed", start)
		return s.respond(conn, posproto.BuildErrorRewardsResponse(req.Header.POSSequenceID, s.cfg.VendorModelVersion))
	}

	decisionReq, err := req.DecisionRequest()
	if err != nil {
		log.Warn().Err(err).
			Str("pos_sequence_id", req.Header.POSSequenceID).
			Msg("posserver.rewards_request_malformed")
		s.observeDecision("malformed", start)
		return s.respond(conn, posproto.BuildErrorRewardsResponse(req.Header.POSSequenceID, s.cfg.VendorModelVersion))
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.RequestTimeout)
	defer cancel()

	decision, err := s.engine.Decide(ctx, decisionReq)
	if err != nil {
		log.Error().Err(err).
			Str("transaction_id", decisionReq.TransactionID).
			Msg("posserver.decision_failed")
		s.observeDecision("error", start)
		return s.respond(conn, posproto.BuildErrorRewardsResponse(req.Header.POSSequenceID, s.cfg.VendorModelVersion))
	}

	s.observeDecision(decision.Outcome(), start)
	return s.respond(conn, posproto.BuildRewardsResponse(decision, req.Header.POSSequenceID, s.cfg.VendorModelVersion))
}

func (s *Server) handleFinalize(conn net.Conn, log zerolog.Logger, payload []byte) error {
	var req posproto.FinalizeRewardsRequest
	if err := xml.Unmarshal(payload, &req); err != nil {
		log.Warn().Err(err).Msg("posserver.finalize_request_unreadable")
	}

	status := req.FinalizeStatus()
	log.Info().
		Str("transaction_id", req.TransactionID).
		Str("status", status).
		Int("reward_count", len(req.RewardIDs)).
		Msg("posserver.rewards_finalized")

	return s.respond(conn, posproto.FinalizeRewardsResponse{
		Header: posproto.NewResponseHeader(req.Header.POSSequenceID, s.cfg.VendorModelVersion),
		Status: status,
	})
}

func (s *Server) handleCancel(conn net.Conn, log zerolog.Logger, payload []byte) error {
	var req posproto.CancelTransactionRequest
	if err := xml.Unmarshal(payload, &req); err != nil {
		log.Warn().Err(err).Msg("posserver.cancel_request_unreadable")
	}

	log.Info().
		Str("transaction_id", req.TransactionID).
		Msg("posserver.transaction_cancelled")

	return s.respond(conn, posproto.CancelTransactionResponse{
		Header: posproto.NewResponseHeader(req.Header.POSSequenceID, s.cfg.VendorModelVersion),
		Status: posproto.StatusSuccess,
	})
}

func (s *Server) respond(conn net.Conn, v any) error {
	body, err := posproto.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return posproto.WriteFrame(conn, body)
}

func (s *Server) observeDecision(outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveDecision("pos", outcome, time.Since(start))
	}
}
