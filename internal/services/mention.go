package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcnijman/go-emailaddress"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/bus"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/models"
	"github.com/cuonglevan23/taskflow-backend-sub002/pkg/metrics"
)

// MentionExtractor finds candidate handles in message content.
type MentionExtractor interface {
	Extract(content string) []string
}

// NaiveExtractor treats the text after the first '@' of every word as a
// handle. Email addresses and words with several markers produce false
// positives.
type NaiveExtractor struct{}

func (NaiveExtractor) Extract(content string) []string {
	var out []string
	for _, word := range strings.Fields(content) {
		i := strings.IndexByte(word, '@')
		if i < 0 || i == len(word)-1 {
			continue
		}
		out = append(out, word[i+1:])
	}
	return out
}

// StrictExtractor only accepts words that start with '@' and whose handle is
// made of letters, digits, '.', '_' or '-'. Email addresses are ignored and
// each handle is returned once, in order of first appearance.
type StrictExtractor struct{}

func (StrictExtractor) Extract(content string) []string {
	masked := content
	for _, addr := range emailaddress.Find([]byte(content), false) {
		masked = strings.ReplaceAll(masked, addr.String(), " ")
	}

	seen := make(map[string]struct{})
	var out []string
	for _, word := range strings.Fields(masked) {
		if !strings.HasPrefix(word, "@") {
			continue
		}
		handle := strings.TrimRight(word[1:], ".,;:!?)]}'\"")
		if handle == "" || !validHandle(handle) {
			continue
		}
		key := strings.ToLower(handle)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, handle)
	}
	return out
}

func validHandle(handle string) bool {
	for _, r := range handle {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// ErrUnknownHandle is returned by a HandleResolver for handles that map to no user.
var ErrUnknownHandle = errors.New("unknown handle")

// HandleResolver maps a mention handle to a user id.
type HandleResolver interface {
	Resolve(ctx context.Context, handle string) (string, error)
}

// StaticResolver resolves handles from a fixed table. With identity set, an
// unknown handle resolves to itself.
type StaticResolver struct {
	handles  map[string]string
	identity bool
}

func NewStaticResolver(handles map[string]string, identity bool) *StaticResolver {
	normalized := make(map[string]string, len(handles))
	for handle, userID := range handles {
		normalized[strings.ToLower(handle)] = userID
	}
	return &StaticResolver{handles: normalized, identity: identity}
}

// ParseHandles reads a "handle=userId,handle=userId" list.
func ParseHandles(raw string) (map[string]string, error) {
	handles := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		handle, userID, ok := strings.Cut(pair, "=")
		handle, userID = strings.TrimSpace(handle), strings.TrimSpace(userID)
		if !ok || handle == "" || userID == "" {
			return nil, fmt.Errorf("invalid handle mapping %q", pair)
		}
		handles[strings.TrimPrefix(handle, "@")] = userID
	}
	return handles, nil
}

func (r *StaticResolver) Resolve(_ context.Context, handle string) (string, error) {
	if userID, ok := r.handles[strings.ToLower(handle)]; ok {
		return userID, nil
	}
	if r.identity && handle != "" {
		return handle, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
}

// Preview truncates content to max runes, marking a cut with "...".
func Preview(content string, max int) string {
	if max <= 0 {
		return content
	}
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "..."
}

var mentionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("notifications/mention"))

// MentionNotifier publishes one mention notification per resolved handle of a
// chat message.
type MentionNotifier struct {
	extractor    MentionExtractor
	resolver     HandleResolver
	publisher    bus.Publisher
	previewChars int
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

func NewMentionNotifier(extractor MentionExtractor, resolver HandleResolver, publisher bus.Publisher, previewChars int, m *metrics.Metrics, logger *slog.Logger) *MentionNotifier {
	if extractor == nil {
		extractor = NaiveExtractor{}
	}
	if previewChars <= 0 {
		previewChars = 100
	}
	return &MentionNotifier{
		extractor:    extractor,
		resolver:     resolver,
		publisher:    publisher,
		previewChars: previewChars,
		metrics:      m,
		logger:       logger,
	}
}

// Notify publishes the mention events for msg and returns how many were
// published. The sender is never notified about their own message. Event ids
// derive from the message id and recipient, so reprocessing a message yields
// the same ids.
func (n *MentionNotifier) Notify(ctx context.Context, msg models.ChatMessageEvent) int {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	notified := make(map[string]struct{})
	for _, handle := range n.extractor.Extract(msg.Content) {
		userID, err := n.resolver.Resolve(ctx, handle)
		if err != nil {
			n.logger.Debug("skipping unresolved mention", slog.String("handle", handle), slog.String("message_id", msg.ID), slog.Any("error", err))
			continue
		}
		if userID == msg.SenderID {
			continue
		}
		if _, dup := notified[userID]; dup {
			continue
		}
		notified[userID] = struct{}{}

		event := models.NotificationEvent{
			ID:        uuid.NewSHA1(mentionNamespace, []byte(msg.ID+":"+userID)).String(),
			UserID:    userID,
			Title:     fmt.Sprintf("%s mentioned you", msg.SenderLabel()),
			Content:   Preview(msg.Content, n.previewChars),
			Type:      models.TypeMention,
			Reference: &models.Reference{EntityID: msg.ConversationID, EntityType: "CONVERSATION"},
			Metadata: map[string]interface{}{
				"conversationId": msg.ConversationID,
				"messageId":      msg.ID,
				"senderId":       msg.SenderID,
			},
			CreatedAt: createdAt,
			Priority:  1,
		}
		bus.PublishAndForget(ctx, n.publisher, n.logger, bus.TopicNotifications, userID, event)
		n.metrics.IncMentions()
	}
	return len(notified)
}
