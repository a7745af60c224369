package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/conductorhq/conductor/internal/observability"
	"github.com/conductorhq/conductor/pkg/models"
)

// wsConn is the subset of *websocket.Conn the channel needs. Narrowed for
// tests.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// channel is one authenticated websocket connection. Frames are processed in
// arrival order; a query runs to completion (or suspension) before the next
// inbound frame is handled. A dropped connection cancels the in-flight
// request at its next outbound frame.
type channel struct {
	conn    wsConn
	server  *Server
	user    *models.User
	logger  *observability.Logger
	writeMu chan struct{}
}

func newChannel(conn wsConn, server *Server) *channel {
	ch := &channel{
		conn:    conn,
		server:  server,
		logger:  server.logger,
		writeMu: make(chan struct{}, 1),
	}
	ch.writeMu <- struct{}{}
	return ch
}

// writeFrame serializes one frame. Gorilla connections allow a single writer;
// the token channel serializes concurrent stream emissions.
func (ch *channel) writeFrame(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	<-ch.writeMu
	defer func() { ch.writeMu <- struct{}{} }()
	return ch.conn.WriteMessage(websocket.TextMessage, data)
}

// serve runs the channel lifecycle: authenticate, then process query and
// human_input frames until the connection closes or idles out.
func (ch *channel) serve(ctx context.Context) {
	defer ch.conn.Close()

	if !ch.authenticate(ctx) {
		return
	}

	for {
		if err := ch.conn.SetReadDeadline(time.Now().Add(ch.server.cfg.IdleTimeout)); err != nil {
			return
		}
		_, raw, err := ch.conn.ReadMessage()
		if err != nil {
			return
		}
		ch.handleFrame(ctx, raw)
		if ctx.Err() != nil {
			return
		}
	}
}

// authenticate enforces auth-first ordering: the first frame must be a valid
// auth frame within the auth timeout, otherwise the channel closes after a
// single AUTH_ERROR frame.
func (ch *channel) authenticate(ctx context.Context) bool {
	if err := ch.conn.SetReadDeadline(time.Now().Add(ch.server.cfg.AuthTimeout)); err != nil {
		return false
	}
	_, raw, err := ch.conn.ReadMessage()
	if err != nil {
		return false
	}

	if FrameType(raw) != FrameAuth {
		ch.writeFrame(NewErrorFrame(models.ErrAuth, "auth must be the first frame"))
		return false
	}
	if err := validateInboundFrame(FrameAuth, raw); err != nil {
		ch.writeFrame(NewAuthErrorFrame(err.Error()))
		return false
	}
	var frame AuthFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		ch.writeFrame(NewAuthErrorFrame("malformed auth frame"))
		return false
	}

	user, err := ch.server.auth.Verify(frame.Token)
	if err != nil {
		ch.logger.Warn(ctx, "authentication failed", "error", err)
		ch.writeFrame(NewAuthErrorFrame("invalid credentials"))
		return false
	}
	ch.user = user
	ch.logger.Info(ctx, "channel authenticated", "user_id", user.ID)
	return ch.writeFrame(NewAuthSuccessFrame(user)) == nil
}

// handleFrame dispatches one post-auth inbound frame. Parse and validation
// errors emit an error frame and keep the channel open.
func (ch *channel) handleFrame(ctx context.Context, raw []byte) {
	frameType := FrameType(raw)
	if err := validateInboundFrame(frameType, raw); err != nil {
		ch.writeFrame(NewErrorFrame(models.KindOf(err), err.Error()))
		return
	}

	switch frameType {
	case FrameAuth:
		// Re-auth on an authenticated channel is a no-op acknowledgement.
		ch.writeFrame(NewAuthSuccessFrame(ch.user))
	case FrameQuery:
		var frame QueryFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			ch.writeFrame(NewErrorFrame(models.ErrValidation, "malformed query frame"))
			return
		}
		ch.handleQuery(ctx, &frame)
	case FrameHumanInput:
		var frame HumanInputFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			ch.writeFrame(NewErrorFrame(models.ErrValidation, "malformed human_input frame"))
			return
		}
		ch.handleHumanInput(ctx, &frame)
	}
}

func (ch *channel) handleQuery(ctx context.Context, frame *QueryFrame) {
	qctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rc := &models.RequestContext{
		User:      *ch.user,
		SessionID: frame.SessionID,
		RequestID: frame.QuestionAnswerUUID,
		Locale:    frame.Locale,
	}
	if rc.RequestID == "" {
		rc.RequestID = uuid.NewString()
	}
	stream := &frameStream{channel: ch, cancel: cancel}
	if err := ch.server.orch.HandleQuery(qctx, rc, frame.Query, stream); err != nil {
		ch.logger.Warn(ctx, "query failed",
			"session_id", frame.SessionID, "kind", models.KindOf(err))
	}
}

func (ch *channel) handleHumanInput(ctx context.Context, frame *HumanInputFrame) {
	qctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rc := &models.RequestContext{
		User:      *ch.user,
		SessionID: frame.Payload.SessionID,
		RequestID: uuid.NewString(),
	}
	stream := &frameStream{channel: ch, cancel: cancel}
	err := ch.server.orch.ResumeHumanInput(qctx, rc, frame.Payload.InteractionID, frame.Payload.Values, stream)
	if err != nil {
		ch.logger.Warn(ctx, "human input failed",
			"session_id", frame.Payload.SessionID,
			"interaction_id", frame.Payload.InteractionID,
			"kind", models.KindOf(err))
	}
}

// frameStream adapts the orchestrator stream to outbound frames. A failed
// write means the peer is gone, so the request context is cancelled and the
// orchestrator stops dispatching steps instead of running against a dead
// connection.
type frameStream struct {
	channel *channel
	cancel  context.CancelFunc
}

func (s *frameStream) send(frame any) error {
	err := s.channel.writeFrame(frame)
	if err != nil && s.cancel != nil {
		s.cancel()
	}
	return err
}

func (s *frameStream) Progress(ctx context.Context, status string) error {
	return s.send(NewProgressFrame(status))
}

func (s *frameStream) Markdown(ctx context.Context, text string) error {
	return s.send(NewMarkdownFrame(text))
}

func (s *frameStream) Suggestions(ctx context.Context, items []string) error {
	return s.send(NewSuggestionsFrame(items))
}

func (s *frameStream) UIInteraction(ctx context.Context, interaction *models.PendingInteraction) error {
	return s.send(NewUIInteractionFrame(interaction))
}

func (s *frameStream) Error(ctx context.Context, kind models.ErrorKind, message string) error {
	return s.send(NewErrorFrame(kind, message))
}
