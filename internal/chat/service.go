package chat

import (
	"context"
	"html"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/inference"
	"github.com/ashureev/chatrelay/internal/session"
)

const instrumentationName = "github.com/ashureev/chatrelay/internal/chat"

// Service runs chat turns against a session store and an inference provider.
type Service struct {
	store    *session.Store
	resolver PromptResolver
	provider inference.Provider
	renderer Renderer
	cfg      Config
	log      ConversationLogger
	logger   *slog.Logger
	now      func() time.Time

	tracer   trace.Tracer
	turns    metric.Int64Counter
	failures metric.Int64Counter
	evicted  metric.Int64Counter
}

// NewService creates a chat service. A nil conversation logger disables
// transcript logging.
func NewService(store *session.Store, resolver PromptResolver, provider inference.Provider, renderer Renderer, cfg Config, convLog ConversationLogger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if convLog == nil {
		convLog = noopConversationLogger{}
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = session.DefaultWindow
	}

	s := &Service{
		store:    store,
		resolver: resolver,
		provider: provider,
		renderer: renderer,
		cfg:      cfg,
		log:      convLog,
		logger:   logger,
		now:      time.Now,
		tracer:   otel.Tracer(instrumentationName),
	}
	s.initMetrics()
	return s
}

func (s *Service) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error
	if s.turns, err = meter.Int64Counter("chat.turns", metric.WithDescription("Chat turns answered by the model")); err != nil {
		s.logger.Warn("failed to create counter", "name", "chat.turns", "error", err)
	}
	if s.failures, err = meter.Int64Counter("chat.inference.failures", metric.WithDescription("Chat turns that failed at the inference call")); err != nil {
		s.logger.Warn("failed to create counter", "name", "chat.inference.failures", "error", err)
	}
	if s.evicted, err = meter.Int64Counter("chat.sessions.evicted", metric.WithDescription("Sessions removed for inactivity")); err != nil {
		s.logger.Warn("failed to create counter", "name", "chat.sessions.evicted", "error", err)
	}
}

// RecordEvictions adds sessions removed outside a chat request, such as by
// the background sweeper, to the eviction counter.
func (s *Service) RecordEvictions(n int) {
	if s.evicted != nil && n > 0 {
		s.evicted.Add(context.Background(), int64(n))
	}
}

// Chat runs one turn. It never returns an error: model failures come back as
// a reply describing the error, with the session id preserved.
func (s *Service) Chat(ctx context.Context, req Request) Reply {
	ctx, span := s.tracer.Start(ctx, "chat.turn", trace.WithAttributes(attribute.String("chat.tool", req.Tool)))
	defer span.End()

	if removed := s.store.SweepExpired(s.now()); removed > 0 {
		s.logger.Info("Expired sessions removed", "count", removed)
		s.RecordEvictions(removed)
	}

	sessionID, created := s.store.GetOrCreate(req.SessionID)
	if created && req.SessionID != "" {
		s.logger.Info("Unknown session id, started new session", "requested", req.SessionID, "session_id", sessionID)
	}
	span.SetAttributes(attribute.String("chat.session_id", sessionID))

	if strings.TrimSpace(req.Message) == "" {
		return Reply{Text: ReplyEmptyMessage, SessionID: sessionID}
	}

	userPrompt, err := s.resolver.Resolve(req.Tool, req.Message, req.Params)
	if err != nil {
		s.logger.Error("Prompt template misconfigured", "tool", req.Tool, "error", err)
		return Reply{Text: ReplyApology, SessionID: sessionID, Failed: true}
	}

	history := s.store.RecentHistory(sessionID, s.cfg.HistoryWindow)
	messages := make([]domain.Message, 0, len(history)+2)
	messages = append(messages, domain.SystemMessage(s.cfg.SystemPrompt))
	messages = append(messages, history...)
	messages = append(messages, domain.UserMessage(userPrompt))

	s.log.Log(ConversationLogEvent{
		SessionID:  sessionID,
		Direction:  "outbound",
		EventType:  "chat_user_message",
		Tool:       req.Tool,
		ContentRaw: req.Message,
	})

	start := s.now()
	result := s.provider.Complete(ctx, messages)
	if !result.OK() {
		s.logger.Warn("Inference call failed",
			"session_id", sessionID,
			"tool", req.Tool,
			"duration", s.now().Sub(start),
			"error", result.Err,
		)
		if s.failures != nil {
			s.failures.Add(ctx, 1)
		}
		span.RecordError(result.Err)
		s.log.Log(ConversationLogEvent{
			SessionID: sessionID,
			Direction: "inbound",
			EventType: "chat_error",
			Tool:      req.Tool,
			Error:     result.Err.Error(),
		})
		return Reply{
			Text:      errorReplyPrefix + html.EscapeString(result.Err.Error()),
			SessionID: sessionID,
			Failed:    true,
		}
	}

	rendered := s.renderer.Render(result.Reply)
	s.store.AppendTurn(sessionID, req.Message, result.Reply)
	if s.turns != nil {
		s.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", req.Tool)))
	}
	s.log.Log(ConversationLogEvent{
		SessionID:  sessionID,
		Direction:  "inbound",
		EventType:  "chat_assistant_message",
		Tool:       req.Tool,
		ContentRaw: result.Reply,
	})

	s.logger.Info("Chat turn completed",
		"session_id", sessionID,
		"tool", req.Tool,
		"history_messages", len(history),
		"reply_length", len(result.Reply),
		"duration", s.now().Sub(start),
	)
	return Reply{Text: rendered, SessionID: sessionID}
}

// History returns the stored history of a session. Unknown ids yield an
// empty slice.
func (s *Service) History(sessionID string) []domain.HistoryEntry {
	return s.store.HistoryView(sessionID)
}

// Tools returns the names of the available prompt tools.
func (s *Service) Tools() []string {
	return s.resolver.Tools()
}
