package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/halcyonsec/quest/pkg/orchestrator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// WSServer exposes the question resolver over a WebSocket, one resolved
// question per message. It stands in for the dashboard chat surface.
type WSServer struct {
	orch   *orchestrator.Orchestrator
	logger zerolog.Logger
}

func NewWSServer(orch *orchestrator.Orchestrator, logger zerolog.Logger) *WSServer {
	return &WSServer{
		orch:   orch,
		logger: logger,
	}
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug().Err(err).Msg("connection closed")
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendMessage(conn, Message{Type: "error", Content: "invalid message"})
			continue
		}

		if msg.Content == "" {
			s.sendMessage(conn, Message{Type: "error", Content: "empty question"})
			continue
		}

		s.sendMessage(conn, Message{Type: "status", Content: "Analyzing security artifacts..."})

		resp := s.orch.Resolve(r.Context(), msg.Content)
		s.sendMessage(conn, Message{
			Type:    "response",
			Content: resp.Answer,
			Data:    resp,
		})
	}
}

func (s *WSServer) sendMessage(conn *websocket.Conn, msg Message) {
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Error().Err(err).Msg("error sending message")
	}
}

// Serve blocks, listening on addr with /ws and /health endpoints.
func (s *WSServer) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	s.logger.Info().Str("addr", addr).Msg("starting WebSocket server")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
