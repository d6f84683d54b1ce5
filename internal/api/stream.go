package api

import (
	"net/http"
	"time"

	"github.com/UnknownOlympus/cartograph/internal/job"
	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/gorilla/websocket"
)

// Stream message types.
const (
	MessageProgress = "progress"
	MessageResult   = "result"
	MessageError    = "error"
	MessageCancel   = "cancel"
)

const writeWait = 10 * time.Second

// StreamMessage is exchanged over /v1/geocode/stream. The client sends a
// GeocodeRequest first and may later send {"type":"cancel"}.
type StreamMessage struct {
	Type     string           `json:"type"`
	JobID    string           `json:"jobId,omitempty"`
	Progress *models.Progress `json:"progress,omitempty"`
	Response *job.Response    `json:"response,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// handleStream runs one job per connection and streams its progress.
// Only this goroutine writes to the connection; a reader goroutine handles cancel.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	var req models.GeocodeRequest
	if err = conn.ReadJSON(&req); err != nil {
		s.send(conn, StreamMessage{Type: MessageError, Error: err.Error()})
		return
	}

	jb, err := s.runner.New(req)
	if err != nil {
		s.send(conn, StreamMessage{Type: MessageError, Error: err.Error()})
		return
	}

	go s.readCancel(conn, jb)

	resp, err := jb.Run(ctx, func(progress models.Progress) {
		s.send(conn, StreamMessage{Type: MessageProgress, JobID: jb.ID, Progress: &progress})
	})
	if err != nil {
		s.log.WarnContext(ctx, "Streamed job failed", "job", jb.ID, "error", err)
	}

	s.send(conn, StreamMessage{Type: MessageResult, JobID: jb.ID, Response: &resp})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
		time.Now().Add(writeWait))
}

// readCancel cancels the job on a cancel message or when the client goes away.
func (s *Server) readCancel(conn *websocket.Conn, jb *job.Job) {
	for {
		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			jb.Cancel()
			return
		}
		if msg.Type == MessageCancel {
			s.log.Info("Job cancelled by client", "job", jb.ID)
			jb.Cancel()
		}
	}
}

func (s *Server) send(conn *websocket.Conn, msg StreamMessage) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		s.log.Debug("Failed to write stream message", "type", msg.Type, "error", err)
	}
}
