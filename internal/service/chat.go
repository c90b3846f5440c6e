package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/raphaelgruber/switchboard/internal/llm"
	"github.com/raphaelgruber/switchboard/internal/metrics"
	"github.com/raphaelgruber/switchboard/internal/models"
	"github.com/raphaelgruber/switchboard/internal/reconcile"
	"github.com/raphaelgruber/switchboard/internal/turn"
)

// ErrSendInProgress is returned when a send is already running for the
// conversation.
var ErrSendInProgress = errors.New("a message is already being sent in this conversation")

// ErrEmptyPrompt is returned for blank submissions.
var ErrEmptyPrompt = errors.New("prompt is empty")

// abandonedText is shown in place of an answer whose turn never finished.
const abandonedText = "Something went wrong while generating this answer."

// persistTimeout bounds each message save and the store calls made before
// a turn starts.
const persistTimeout = 15 * time.Second

// maxTitleLen caps generated conversation titles.
const maxTitleLen = 80

// Runner executes a turn.
type Runner interface {
	Run(ctx context.Context, req turn.Request, sink turn.Sink) turn.Result
}

// MemoryExtractor consumes memory directives.
type MemoryExtractor interface {
	Extract(ctx context.Context, d models.MemoryDirective) (int, error)
}

// ChatOptions configure a ChatService. Memory, Titles and Metrics may be nil.
type ChatOptions struct {
	Memory       MemoryExtractor
	Titles       llm.Generator
	TitlePrompt  string
	SendCooldown time.Duration
	Metrics      *metrics.Collector
	Logger       *slog.Logger
}

// SendRequest is one user submission.
type SendRequest struct {
	ConversationID string
	UserID         string
	Prompt         string
	Attachments    []llm.Part
	Action         models.ActionKind
}

// Events receive progress of a send. Any func may be nil.
type Events struct {
	// OnChunk receives streamed text and encoded control events.
	OnChunk func(chunk string)
	// OnWarning receives non-blocking user-facing warnings.
	OnWarning func(message string)
	// OnStart is called once the send holds the conversation and its
	// optimistic records are in the view. Rejected sends never call it.
	OnStart func()
}

// SendResult describes a finished send.
type SendResult struct {
	UserMessage models.Message
	AIMessage   models.Message
	Turn        turn.Result
}

// ChatService drives sends for any number of conversations. Sends for
// different conversations run concurrently; a conversation runs one send at
// a time.
type ChatService struct {
	runner  Runner
	store   Store
	views   *reconcile.Registry
	latch   *reconcile.Latch
	jobs    *JobManager
	memory  MemoryExtractor
	titles  llm.Generator
	title   string
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewChatService creates a chat service.
func NewChatService(runner Runner, store Store, opts ChatOptions) *ChatService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		runner:  runner,
		store:   store,
		views:   reconcile.NewRegistry(),
		latch:   reconcile.NewLatch(opts.SendCooldown),
		jobs:    NewJobManager(logger),
		memory:  opts.Memory,
		titles:  opts.Titles,
		title:   opts.TitlePrompt,
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// Messages returns the reconciled message list of a conversation.
func (s *ChatService) Messages(conversationID string) []models.Message {
	return s.views.View(conversationID).Messages()
}

// Jobs returns the background job tracker.
func (s *ChatService) Jobs() *JobManager {
	return s.jobs
}

// Close waits for background jobs to finish.
func (s *ChatService) Close() {
	s.jobs.Wait()
}

// Conversations lists a user's conversations.
func (s *ChatService) Conversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	return s.store.ListConversations(ctx, userID)
}

// Send runs one turn. The user message and an empty assistant placeholder
// are inserted into the view before any backend call; streamed chunks update
// the placeholder in place; both messages are then saved individually, with
// failed saves kept locally as unsaved records.
func (s *ChatService) Send(ctx context.Context, req SendRequest, ev Events) (SendResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return SendResult{}, ErrEmptyPrompt
	}

	release, err := s.latch.Acquire(req.ConversationID)
	if err != nil {
		return SendResult{}, ErrSendInProgress
	}
	defer release()

	log := s.logger.With("conversation_id", req.ConversationID)
	view := s.views.View(req.ConversationID)
	loadHistory := len(view.Messages()) == 0

	now := time.Now().UTC()
	userMsg := models.Message{
		ID:             reconcile.NewUserID(),
		ConversationID: req.ConversationID,
		Sender:         models.SenderUser,
		Text:           req.Prompt,
		CreatedAt:      now,
		Status:         models.StatusPending,
	}
	aiID := reconcile.NewAIID()
	view.AppendOptimistic(userMsg, models.Message{
		ID:             aiID,
		ConversationID: req.ConversationID,
		Sender:         models.SenderAI,
		CreatedAt:      now,
		Status:         models.StatusPending,
	})

	finished := false
	defer func() {
		if !finished {
			s.abandon(view, userMsg.ID, aiID)
		}
	}()
	if ev.OnStart != nil {
		ev.OnStart()
	}

	prepCtx, cancelPrep := context.WithTimeout(ctx, persistTimeout)
	if loadHistory {
		if err := s.Refresh(prepCtx, req.ConversationID); err != nil {
			log.Warn("failed to load history", "error", err)
		}
	}
	history := historyBefore(view.Messages(), userMsg.ID, aiID)

	conv, convErr := s.ensureConversation(prepCtx, req)
	cancelPrep()
	if convErr != nil {
		log.Warn("failed to ensure conversation", "error", convErr)
	}

	sink := func(chunk string) {
		if _, isControl := turn.ParseControlEvent(chunk); !isControl {
			view.AppendText(aiID, chunk)
		}
		if ev.OnChunk != nil {
			ev.OnChunk(chunk)
		}
	}

	res := s.runner.Run(ctx, turn.Request{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Prompt:         req.Prompt,
		History:        history,
		Attachments:    req.Attachments,
		Action:         req.Action,
	}, sink)

	aiMsg := res.Message(aiID, req.ConversationID)
	aiMsg.CreatedAt = now.Add(time.Millisecond)
	aiMsg.Status = models.StatusPending
	view.Update(aiID, func(m *models.Message) { *m = aiMsg })
	finished = true

	savedUser, userOK := s.persist(ctx, view, userMsg, ev)
	savedAI, aiOK := s.persist(ctx, view, aiMsg, ev)

	log.Info("turn finished",
		"action", res.Action,
		"loop", res.LoopCount,
		"user_saved", userOK,
		"ai_saved", aiOK,
	)

	if res.MemoryDirective != nil && s.memory != nil {
		d := *res.MemoryDirective
		s.jobs.Start(ctx, JobTypeMemory, req.ConversationID, func(ctx context.Context) error {
			n, err := s.memory.Extract(ctx, d)
			if err != nil {
				return err
			}
			log.Debug("memories extracted", "count", n)
			return nil
		})
	}

	if convErr == nil && conv.Title == "" && userOK && aiOK && s.titles != nil && res.Err == nil {
		prompt, answer := req.Prompt, res.Text
		s.jobs.Start(ctx, JobTypeTitle, req.ConversationID, func(ctx context.Context) error {
			return s.generateTitle(ctx, req.ConversationID, prompt, answer)
		})
	}

	return SendResult{UserMessage: savedUser, AIMessage: savedAI, Turn: res}, nil
}

// abandon demotes the optimistic records of a send that did not finish
// (the runner panicked) so they stay visible as unsaved.
func (s *ChatService) abandon(view *reconcile.View, userID, aiID string) {
	view.Update(userID, func(m *models.Message) { m.Status = models.StatusUnsaved })
	view.Update(aiID, func(m *models.Message) {
		m.Status = models.StatusUnsaved
		if m.Text == "" {
			m.Text = abandonedText
		}
	})
}

// historyBefore returns msgs without the records of the send in progress.
func historyBefore(msgs []models.Message, ids ...string) []models.Message {
	out := msgs[:0]
	for _, m := range msgs {
		if !slices.Contains(ids, m.ID) {
			out = append(out, m)
		}
	}
	return out
}

// persist saves m and swaps the result into the view. On failure the record
// is kept under a fresh unsaved id and a warning is raised.
func (s *ChatService) persist(ctx context.Context, view *reconcile.View, m models.Message, ev Events) (models.Message, bool) {
	localID := m.ID
	toSave := m
	toSave.ID = ""
	toSave.Status = ""

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	start := time.Now()
	saved, err := s.store.AddMessage(ctx, toSave)
	if s.metrics != nil {
		s.metrics.RecordTiming(metrics.OpPersist, time.Since(start))
	}

	if err != nil || saved.ID == "" {
		if err == nil {
			err = errors.New("store returned no id")
		}
		unsaved := m
		unsaved.ID = reconcile.NewUnsavedID()
		unsaved.Status = models.StatusUnsaved
		view.Replace(localID, unsaved)

		s.logger.Warn("failed to save message",
			"conversation_id", m.ConversationID, "sender", m.Sender, "error", err)
		if ev.OnWarning != nil {
			ev.OnWarning(fmt.Sprintf("Your %s message could not be saved. It is kept locally for this session.", senderLabel(m.Sender)))
		}
		return unsaved, false
	}

	saved.Status = models.StatusSaved
	view.Replace(localID, saved)
	return saved, true
}

func (s *ChatService) ensureConversation(ctx context.Context, req SendRequest) (models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return models.Conversation{}, err
	}
	now := time.Now().UTC()
	return s.store.CreateConversation(ctx, models.Conversation{
		ID:        req.ConversationID,
		UserID:    req.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (s *ChatService) generateTitle(ctx context.Context, conversationID, prompt, answer string) error {
	exchange := fmt.Sprintf("User: %s\n\nAssistant: %s", prompt, truncate(answer, 1000))
	text, err := s.titles.Generate(ctx, []llm.Content{llm.TextContent(llm.RoleUser, exchange)}, llm.GenerateOptions{
		SystemInstruction: s.title,
	})
	if err != nil {
		return fmt.Errorf("generate title: %w", err)
	}

	title := cleanTitle(text)
	if title == "" {
		return errors.New("generate title: empty title")
	}
	if err := s.store.UpdateConversationTitle(ctx, conversationID, title); err != nil {
		return fmt.Errorf("store title: %w", err)
	}
	return nil
}

// Refresh fetches persisted history and merges it into the view.
func (s *ChatService) Refresh(ctx context.Context, conversationID string) error {
	msgs, err := s.store.GetMessages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("get messages: %w", err)
	}
	for i := range msgs {
		msgs[i].Status = models.StatusSaved
	}
	s.views.View(conversationID).ApplyHistory(msgs)
	return nil
}

// StartSync refreshes the conversation every interval until ctx is done.
// The returned channel is closed when syncing has stopped.
func (s *ChatService) StartSync(ctx context.Context, conversationID string, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Refresh(ctx, conversationID); err != nil && ctx.Err() == nil {
					s.logger.Warn("history sync failed", "conversation_id", conversationID, "error", err)
				}
			}
		}
	}()
	return done
}

func senderLabel(s models.Sender) string {
	if s == models.SenderAI {
		return "assistant"
	}
	return "user"
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'*# ")
	return truncate(s, maxTitleLen)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
