package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/switchboard/internal/models"
	"github.com/raphaelgruber/switchboard/internal/service"
	"github.com/raphaelgruber/switchboard/internal/turn"
)

// Stream frame types sent to websocket clients.
const (
	FrameChunk   = "chunk"
	FrameControl = "control"
	FrameWarning = "warning"
	FrameDone    = "done"
	FrameError   = "error"
)

// StreamRequest is a client message on the stream socket. Type is empty or
// "send" for a new turn and "cancel" to stop the running one.
type StreamRequest struct {
	Type   string `json:"type,omitempty"`
	UserID string `json:"user_id"`
	Prompt string `json:"prompt"`
	Action string `json:"action,omitempty"`
}

// Frame is a server message on the stream socket.
type Frame struct {
	Type        string             `json:"type"`
	Text        string             `json:"text,omitempty"`
	Event       *turn.ControlEvent `json:"event,omitempty"`
	Message     *models.Message    `json:"message,omitempty"`
	UserMessage *models.Message    `json:"user_message,omitempty"`
	LoopCount   int                `json:"loop_count,omitempty"`
	Error       string             `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.chat.Jobs().ListJobs())
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.chat.Conversations(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		s.logger.Error("failed to list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

// handleMessages syncs persisted history into the reconciled view and
// returns it. A failed sync still returns the local view.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.chat.Refresh(r.Context(), id); err != nil {
		s.logger.Warn("history sync failed", "conversation_id", id, "error", err)
	}
	msgs := s.chat.Messages(id)
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// frameWriter serializes writes to a websocket connection.
type frameWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (f *frameWriter) write(fr Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn.WriteJSON(fr)
}

// handleStream runs turns for one conversation over a websocket. Each send
// runs in its own goroutine so cancel messages are read while a turn
// streams; concurrent sends are rejected by the chat service, and a cancel
// only reaches the send that holds the conversation.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("id")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := s.logger.With("conversation_id", convID)
	out := &frameWriter{conn: conn}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	var (
		wg sync.WaitGroup
		// running is the cancel func of the send that holds the
		// conversation; runningSeq identifies that send.
		mu         sync.Mutex
		running    context.CancelFunc
		runningSeq int
		seq        int
	)
	defer wg.Wait()

	for {
		var req StreamRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("stream closed", "error", err)
			}
			cancel()
			return
		}

		switch req.Type {
		case "cancel":
			mu.Lock()
			if running != nil {
				running()
			}
			mu.Unlock()
			continue
		case "", "send":
		default:
			_ = out.write(Frame{Type: FrameError, Error: "unknown request type: " + req.Type})
			continue
		}

		var action models.ActionKind
		if req.Action != "" {
			action, err = models.ParseActionKind(req.Action)
			if err != nil {
				_ = out.write(Frame{Type: FrameError, Error: err.Error()})
				continue
			}
		}

		seq++
		id := seq
		turnCtx, cancelTurn := context.WithCancel(ctx)
		started := func() {
			mu.Lock()
			running, runningSeq = cancelTurn, id
			mu.Unlock()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancelTurn()
			defer func() {
				mu.Lock()
				if runningSeq == id {
					running, runningSeq = nil, 0
				}
				mu.Unlock()
			}()
			s.runStreamTurn(turnCtx, out, service.SendRequest{
				ConversationID: convID,
				UserID:         req.UserID,
				Prompt:         req.Prompt,
				Action:         action,
			}, started)
		}()
	}
}

func (s *Server) runStreamTurn(ctx context.Context, out *frameWriter, req service.SendRequest, onStart func()) {
	res, err := s.chat.Send(ctx, req, service.Events{
		OnStart: onStart,
		OnChunk: func(chunk string) {
			if ev, ok := turn.ParseControlEvent(chunk); ok {
				_ = out.write(Frame{Type: FrameControl, Event: &ev})
				return
			}
			_ = out.write(Frame{Type: FrameChunk, Text: chunk})
		},
		OnWarning: func(msg string) {
			_ = out.write(Frame{Type: FrameWarning, Text: msg})
		},
	})
	if err != nil {
		_ = out.write(Frame{Type: FrameError, Error: err.Error()})
		return
	}

	_ = out.write(Frame{
		Type:        FrameDone,
		Message:     &res.AIMessage,
		UserMessage: &res.UserMessage,
		LoopCount:   res.Turn.LoopCount,
	})
}
