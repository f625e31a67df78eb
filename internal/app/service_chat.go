package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"ballora/api/internal/events"
	"ballora/api/internal/store"
	"ballora/api/internal/util"
)

// OpenConversation returns the existing conversation between the caller
// and the participant, or creates one lazily.
func (s *Service) OpenConversation(ctx context.Context, sess Session, participantID string) (map[string]any, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return nil, errValidation("participantId is required", nil)
	}
	if participantID == sess.UserID {
		return nil, errValidation("Cannot start a conversation with yourself", nil)
	}

	participant, err := s.store.GetUserByID(ctx, participantID)
	if err != nil {
		if store.ErrNotFound(err) {
			return nil, errNotFound("User not found")
		}
		return nil, err
	}

	existing, err := s.store.ListConversationsByUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	for _, conversation := range existing {
		if conversation.Has(participantID) {
			return s.conversationPayload(ctx, conversation, sess.UserID), nil
		}
	}

	conversation := store.Conversation{
		ID:           util.NewID("conv"),
		ParticipantA: sess.UserID,
		ParticipantB: participant.ID,
	}
	if err := s.store.InsertConversation(ctx, conversation); err != nil {
		return nil, err
	}
	return s.conversationPayload(ctx, conversation, sess.UserID), nil
}

// ListConversations returns the caller's conversations, most recently
// active first.
func (s *Service) ListConversations(ctx context.Context, sess Session) (map[string]any, error) {
	conversations, err := s.store.ListConversationsByUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(conversations))
	for _, conversation := range conversations {
		items = append(items, s.conversationPayload(ctx, conversation, sess.UserID))
	}
	return map[string]any{"conversations": items}, nil
}

type MessageInput struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	FileName string `json:"fileName"`
	FileURL  string `json:"fileUrl"`
	FileSize string `json:"fileSize"`
}

// SendMessage appends one message and updates the conversation's
// denormalized last-message text and timestamp, last writer wins.
func (s *Service) SendMessage(ctx context.Context, sess Session, conversationID string, input MessageInput) (map[string]any, error) {
	conversation, err := s.memberConversation(ctx, sess, conversationID)
	if err != nil {
		return nil, err
	}

	messageType := input.Type
	if messageType == "" {
		messageType = store.MessageTypeText
	}

	message := store.Message{
		ID:             util.NewID("msg"),
		ConversationID: conversation.ID,
		SenderID:       sess.UserID,
		Type:           messageType,
	}

	var lastText string
	switch messageType {
	case store.MessageTypeText:
		message.Text = strings.TrimSpace(input.Text)
		if message.Text == "" {
			return nil, errValidation("Message text is required", nil)
		}
		lastText = message.Text
	case store.MessageTypeFile, store.MessageTypeImage:
		if strings.TrimSpace(input.FileURL) == "" {
			return nil, errValidation("fileUrl is required for file messages", nil)
		}
		message.FileName = strings.TrimSpace(input.FileName)
		message.FileURL = strings.TrimSpace(input.FileURL)
		message.FileSize = strings.TrimSpace(input.FileSize)
		lastText = message.FileName
		if lastText == "" {
			lastText = "File"
		}
	default:
		return nil, errValidation("Message type must be text, file, or image", nil)
	}

	if err := s.store.InsertMessage(ctx, message, lastText); err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.Event{Type: events.TypeMessage, Ref: conversation.ID, Actor: sess.Email})
	return messagePayload(message), nil
}

// UploadChatFile stores an attachment and appends it to the conversation
// as a file message in one step.
func (s *Service) UploadChatFile(ctx context.Context, sess Session, conversationID, filename string, r io.Reader, size int64, contentType string) (map[string]any, error) {
	if _, err := s.memberConversation(ctx, sess, conversationID); err != nil {
		return nil, err
	}
	if s.files == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage not configured", nil)
	}

	key := fmt.Sprintf("chat/%s/%s-%s", conversationID, util.NewID(""), filename)
	url, err := s.files.Upload(ctx, key, r, size, contentType)
	if err != nil {
		return nil, err
	}

	messageType := store.MessageTypeFile
	if strings.HasPrefix(contentType, "image/") {
		messageType = store.MessageTypeImage
	}
	return s.SendMessage(ctx, sess, conversationID, MessageInput{
		Type:     messageType,
		FileName: filename,
		FileURL:  url,
		FileSize: strconv.FormatInt(size, 10),
	})
}

// ListMessages returns the conversation's messages in append order.
func (s *Service) ListMessages(ctx context.Context, sess Session, conversationID string) (map[string]any, error) {
	conversation, err := s.memberConversation(ctx, sess, conversationID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(messages))
	for _, message := range messages {
		items = append(items, messagePayload(message))
	}
	return map[string]any{"messages": items}, nil
}

func (s *Service) memberConversation(ctx context.Context, sess Session, conversationID string) (store.Conversation, error) {
	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if store.ErrNotFound(err) {
			return store.Conversation{}, errNotFound("Conversation not found")
		}
		return store.Conversation{}, err
	}
	if !conversation.Has(sess.UserID) {
		return store.Conversation{}, errForbidden()
	}
	return conversation, nil
}

func (s *Service) conversationPayload(ctx context.Context, conversation store.Conversation, viewerID string) map[string]any {
	payload := map[string]any{
		"id":          conversation.ID,
		"lastMessage": conversation.LastMessage,
		"lastUpdated": conversation.LastUpdated,
	}
	otherID := conversation.Other(viewerID)
	payload["participantId"] = otherID
	if other, err := s.store.GetUserByID(ctx, otherID); err == nil {
		payload["participantName"] = displayName(other)
		payload["participantRole"] = other.Role
		payload["participantPhoto"] = other.PhotoURL
	}
	return payload
}

func messagePayload(message store.Message) map[string]any {
	payload := map[string]any{
		"id":        message.ID,
		"senderId":  message.SenderID,
		"type":      message.Type,
		"createdAt": message.CreatedAt,
	}
	switch message.Type {
	case store.MessageTypeText:
		payload["text"] = message.Text
	default:
		payload["fileName"] = message.FileName
		payload["fileUrl"] = message.FileURL
		payload["fileSize"] = message.FileSize
	}
	return payload
}
