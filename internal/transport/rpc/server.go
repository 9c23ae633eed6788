// Package rpc exposes the conversation engine to internal clients over JSON-RPC.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/xiaot623/campusconnect/internal/conversation"
	"github.com/xiaot623/campusconnect/internal/domain"
	"github.com/xiaot623/campusconnect/internal/logging"
	"github.com/xiaot623/campusconnect/internal/repository"
)

// ServiceName is the name the handler is registered under.
const ServiceName = "Conversation"

// Engine handles one inbound message.
type Engine interface {
	HandleMessage(ctx context.Context, req domain.ChatRequest) domain.ResponseEnvelope
}

// Server exposes internal RPC endpoints.
type Server struct {
	mu        sync.Mutex
	listener  net.Listener
	rpcServer *rpc.Server
	done      chan struct{}
	logger    zerolog.Logger
}

// NewServer creates a new RPC server bound to the conversation engine and store.
func NewServer(engine Engine, store *repository.Store) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{engine: engine, store: store}
	if err := rpcServer.RegisterName(ServiceName, handler); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}

	return &Server{
		rpcServer: rpcServer,
		done:      make(chan struct{}),
		logger:    logging.Component("rpc"),
	}, nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts RPC connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.logger.Warn().Err(err).Msg("rpc accept error")
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the Conversation RPC methods.
type Handler struct {
	engine Engine
	store  *repository.Store
}

// ContextArgs selects the recent history of a session.
type ContextArgs struct {
	SessionID string `json:"session_id"`
	N         int    `json:"n"`
}

// ContextReply carries the recent history of a session, oldest first.
type ContextReply struct {
	SessionID string           `json:"session_id"`
	Messages  []domain.Message `json:"messages"`
}

// SessionArgs identifies a session.
type SessionArgs struct {
	SessionID string `json:"session_id"`
}

// Chat handles one message exactly like POST /chat.
func (h *Handler) Chat(req *domain.ChatRequest, resp *domain.ResponseEnvelope) error {
	if req == nil {
		return errors.New("chat request is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return errors.New("message is required")
	}
	if req.Language == "" {
		req.Language = domain.LanguageAuto
	}

	ctx := conversation.WithTransport(context.Background(), "rpc")
	env := h.engine.HandleMessage(ctx, *req)
	if resp != nil {
		*resp = env
	}
	return nil
}

// Context returns the last N messages of a session.
func (h *Handler) Context(req *ContextArgs, resp *ContextReply) error {
	if req == nil {
		return errors.New("context request is required")
	}
	n := req.N
	if n == 0 {
		n = 5
	}
	if resp != nil {
		resp.SessionID = req.SessionID
		resp.Messages = h.store.GetContext(context.Background(), req.SessionID, n)
	}
	return nil
}

// Session returns a full session record.
func (h *Handler) Session(req *SessionArgs, resp *domain.Session) error {
	if req == nil || req.SessionID == "" {
		return errors.New("session_id is required")
	}
	sess, ok := h.store.GetSession(context.Background(), req.SessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	if resp != nil {
		*resp = *sess
	}
	return nil
}
