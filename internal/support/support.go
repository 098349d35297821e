package support

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"recipestore/internal/data"
	"recipestore/internal/events"
	"recipestore/internal/logger"
	"recipestore/internal/metrics"
	"recipestore/internal/middleware"
)

const (
	maxSubjectLength = 200
	maxMessageLength = 2000
	subscriberBuffer = 32
	writeTimeout     = 5 * time.Second
)

type CreateRequest struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type MessageRequest struct {
	Body string `json:"body"`
}

// ConversationResponse is a conversation with its messages.
type ConversationResponse struct {
	*data.Conversation
	Messages []data.Message `json:"messages"`
}

// Service serves support conversations over REST and websockets.
type Service struct {
	hub            *Hub
	events         events.Publisher
	originPatterns []string
}

func NewService(hub *Hub, pub events.Publisher, originPatterns ...string) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{hub: hub, events: pub, originPatterns: originPatterns}
}

// ValidateBody trims a message body and checks its length.
func ValidateBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", errors.New("message body is required")
	}
	if len([]rune(body)) > maxMessageLength {
		return "", errors.New("message body must be at most 2000 characters")
	}
	return body, nil
}

// CreateHandler opens a conversation with its first message.
func (s *Service) CreateHandler(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req CreateRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" || len([]rune(subject)) > maxSubjectLength {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "validation_failed", "subject is required (max 200 characters)", "")
		return
	}
	body, err := ValidateBody(req.Message)
	if err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "validation_failed", err.Error(), "")
		return
	}

	conv := &data.Conversation{UserID: user.ID, Subject: subject}
	first := &data.Message{SenderID: user.ID, SenderRole: user.Role, Body: body}
	if err := data.InsertConversation(r.Context(), conv, first); err != nil {
		middleware.WriteInternalError(w, r, "Failed to open conversation", err)
		return
	}

	logger.LogInfo("User %s opened support conversation %s", user.ID, conv.ID)
	s.announce(r.Context(), first)
	middleware.WriteAPIStatus(w, r, http.StatusCreated, ConversationResponse{Conversation: conv, Messages: []data.Message{*first}})
}

// ListHandler lists the caller's own conversations.
func (s *Service) ListHandler(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	s.writeConversations(w, r, user.ID, r.URL.Query().Get("status"))
}

// AdminListHandler lists every conversation, optionally by status.
func (s *Service) AdminListHandler(w http.ResponseWriter, r *http.Request) {
	s.writeConversations(w, r, "", r.URL.Query().Get("status"))
}

func (s *Service) writeConversations(w http.ResponseWriter, r *http.Request, userID, status string) {
	if status != "" && status != data.ConversationOpen && status != data.ConversationClosed {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_status", "status must be open or closed", "")
		return
	}
	convs, err := data.ListConversations(r.Context(), userID, status)
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to load conversations", err)
		return
	}
	middleware.WriteAPISuccess(w, r, convs)
}

// MessagesHandler returns a conversation and its messages, oldest first.
func (s *Service) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	conv, ok := loadAccessibleConversation(w, r)
	if !ok {
		return
	}
	msgs, err := data.ListMessages(r.Context(), conv.ID)
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to load messages", err)
		return
	}
	middleware.WriteAPISuccess(w, r, ConversationResponse{Conversation: conv, Messages: msgs})
}

// PostHandler appends a message from the conversation owner or an admin.
func (s *Service) PostHandler(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	conv, ok := loadAccessibleConversation(w, r)
	if !ok {
		return
	}

	var req MessageRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}
	body, err := ValidateBody(req.Body)
	if err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "validation_failed", err.Error(), "")
		return
	}

	msg := &data.Message{ConversationID: conv.ID, SenderID: user.ID, SenderRole: user.Role, Body: body}
	if err := data.AppendMessage(r.Context(), msg); err != nil {
		if errors.Is(err, data.ErrConversationClosed) {
			middleware.WriteAPIError(w, r, http.StatusConflict, "conversation_closed", "This conversation is closed", "")
			return
		}
		middleware.WriteInternalError(w, r, "Failed to post message", err)
		return
	}

	s.announce(r.Context(), msg)
	middleware.WriteAPIStatus(w, r, http.StatusCreated, msg)
}

// CloseHandler closes a conversation. Admin only.
func (s *Service) CloseHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := data.CloseConversation(r.Context(), id)
	if errors.Is(err, data.ErrNotFound) {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "conversation_not_found", "Conversation not found", "")
		return
	}
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to close conversation", err)
		return
	}

	conv, err := data.GetConversation(r.Context(), id)
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to reload conversation", err)
		return
	}
	s.hub.Publish(Event{Type: EventClosed, ConversationID: id})
	logger.LogInfo("Support conversation %s closed by %s", id, middleware.UserFromContext(r.Context()).ID)
	middleware.WriteAPISuccess(w, r, conv)
}

// StreamHandler upgrades to a websocket and streams the conversation's events
// until the client goes away or the subscriber is dropped.
func (s *Service) StreamHandler(w http.ResponseWriter, r *http.Request) {
	conv, ok := loadAccessibleConversation(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		logger.LogWarn("Websocket upgrade for conversation %s failed: %v", conv.ID, err)
		return
	}
	defer conn.CloseNow()

	metrics.ChatConnections.Inc()
	defer metrics.ChatConnections.Dec()

	sub := s.hub.Subscribe(conv.ID, subscriberBuffer)
	defer s.hub.Unsubscribe(sub)

	// Clients only listen; reading keeps control frames flowing and notices disconnects.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case ev, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "subscriber dropped")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				return
			}
			if ev.Type == EventClosed {
				conn.Close(websocket.StatusNormalClosure, "conversation closed")
				return
			}
		}
	}
}

func (s *Service) announce(ctx context.Context, m *data.Message) {
	s.hub.Publish(Event{Type: EventMessage, ConversationID: m.ConversationID, Message: m})
	events.Emit(ctx, s.events, events.SupportMessage, m)
}

func loadAccessibleConversation(w http.ResponseWriter, r *http.Request) (*data.Conversation, bool) {
	user := middleware.UserFromContext(r.Context())

	conv, err := data.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, data.ErrNotFound) {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "conversation_not_found", "Conversation not found", "")
		return nil, false
	}
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to load conversation", err)
		return nil, false
	}
	if conv.UserID != user.ID && user.Role != data.RoleAdmin {
		middleware.WriteAPIError(w, r, http.StatusForbidden, "forbidden", "You cannot access this conversation", "")
		return nil, false
	}
	return conv, true
}
