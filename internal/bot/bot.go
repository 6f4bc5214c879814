package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"helpdesk-bot/internal/config"
	"helpdesk-bot/internal/model"
	"helpdesk-bot/internal/repository"
	"helpdesk-bot/internal/rowstore"
	"helpdesk-bot/internal/service"
)

type conversationStage int

const (
	stagePhone conversationStage = iota
	stageName
	stageDepartment
	stageFloor
	stageTopic
	stageDescription
	stageReply
)

const (
	cbTopicPrefix  = "topic:"
	cbAcceptPrefix = "accept:"
	cbSolvePrefix  = "solve:"
	cbReplyPrefix  = "reply:"
)

const (
	btnCreateRequest = "Create Request"
	btnSharePhone    = "Share Phone Number"
)

const retryLaterText = "Service is temporarily unavailable. Please try again later."

// conversationState carries the fields accumulated so far in the active flow.
// It is discarded on every exit back to idle, success or failure.
type conversationState struct {
	stage     conversationStage
	user      model.User
	topic     string
	requestID string
}

// Bot routes Telegram updates to the registration flow, the request flow and
// the lifecycle actions, and owns the per-user conversation registry.
type Bot struct {
	api           *tgbotapi.BotAPI
	users         *repository.UserRepository
	requestSvc    *service.RequestService
	digestSvc     *service.DigestService
	config        config.Config
	conversations map[int64]*conversationState
	mu            sync.Mutex
}

// NewAPI authorizes against the Telegram API.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Printf("[info] bot authorized on account %s", api.Self.UserName)
	return api, nil
}

func New(api *tgbotapi.BotAPI, users *repository.UserRepository, requestSvc *service.RequestService, digestSvc *service.DigestService, cfg config.Config) *Bot {
	return &Bot{
		api:           api,
		users:         users,
		requestSvc:    requestSvc,
		digestSvc:     digestSvc,
		config:        cfg,
		conversations: make(map[int64]*conversationState),
	}
}

// Start begins polling updates until ctx is cancelled. Updates are consumed
// by this single loop, which keeps event handling for any one identity
// strictly ordered.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Println("[info] start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				log.Printf("handle callback: %v", err)
			}
		case update.Message != nil:
			if err := b.handleMessage(ctx, update.Message); err != nil {
				log.Printf("handle message: %v", err)
			}
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil || msg.Chat == nil {
		return nil
	}

	// An active conversation wins over everything else, whichever chat the
	// message arrived in: the staff reply flow runs inside the group.
	if b.hasConversation(msg.From.ID) && !msg.IsCommand() {
		return b.handleConversation(ctx, msg)
	}

	if !msg.Chat.IsPrivate() {
		return nil
	}

	if msg.IsCommand() {
		log.Printf("[info] command from %d: /%s", msg.From.ID, msg.Command())
		switch msg.Command() {
		case "start":
			return b.handleStart(ctx, msg)
		default:
			return b.sendText(msg.Chat.ID, "Unknown command. Use /start to register, then the \"Create Request\" button.")
		}
	}

	if strings.TrimSpace(msg.Text) == btnCreateRequest {
		return b.startRequestFlow(ctx, msg)
	}

	return b.sendText(msg.Chat.ID, "Use /start to register or the \"Create Request\" button to open a request.")
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.users.FindByTelegramID(ctx, msg.From.ID)
	switch {
	case err == nil:
		b.clearConversation(msg.From.ID)
		text := fmt.Sprintf("Welcome back, %s! You can create a new request using the \"Create Request\" button.", escape(user.Name))
		return b.sendWithReplyMarkup(msg.Chat.ID, text, mainMenuKeyboard())
	case errors.Is(err, rowstore.ErrRowNotFound):
		log.Printf("[info] start registration user=%d", msg.From.ID)
		b.setConversation(msg.From.ID, &conversationState{stage: stagePhone})
		return b.sendWithReplyMarkup(msg.Chat.ID, "Welcome! Please register by sharing your phone number.", phoneKeyboard())
	default:
		log.Printf("find user %d: %v", msg.From.ID, err)
		return b.sendText(msg.Chat.ID, retryLaterText)
	}
}

func (b *Bot) startRequestFlow(ctx context.Context, msg *tgbotapi.Message) error {
	_, err := b.users.FindByTelegramID(ctx, msg.From.ID)
	switch {
	case err == nil:
		b.setConversation(msg.From.ID, &conversationState{stage: stageTopic})
		return b.sendWithReplyMarkup(msg.Chat.ID, "Please select a topic for your request:", topicKeyboard())
	case errors.Is(err, rowstore.ErrRowNotFound):
		return b.sendText(msg.Chat.ID, "Please register first using /start command.")
	default:
		log.Printf("find user %d: %v", msg.From.ID, err)
		return b.sendText(msg.Chat.ID, retryLaterText)
	}
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	if state == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	switch state.stage {
	case stagePhone:
		if msg.Contact != nil {
			state.user.Phone = msg.Contact.PhoneNumber
		} else {
			state.user.Phone = text
		}
		state.stage = stageName
		return b.sendWithReplyMarkup(msg.Chat.ID, "Please enter your full name:", tgbotapi.NewRemoveKeyboard(true))
	case stageName:
		state.user.Name = text
		state.stage = stageDepartment
		return b.sendText(msg.Chat.ID, "Please enter your department:")
	case stageDepartment:
		state.user.Department = text
		state.stage = stageFloor
		return b.sendText(msg.Chat.ID, "Please enter your floor number:")
	case stageFloor:
		state.user.Floor = text
		state.user.TelegramID = msg.From.ID
		state.user.Username = msg.From.UserName
		return b.finishRegistration(ctx, msg.Chat.ID, state.user)
	case stageTopic:
		// Topic normally arrives as a button press; free text is accepted
		// when it names a known topic.
		if !model.ValidTopic(text) {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Please select a topic for your request:", topicKeyboard())
		}
		state.topic = text
		state.stage = stageDescription
		return b.sendText(msg.Chat.ID, "Please describe your request:")
	case stageDescription:
		return b.finishRequestCreation(ctx, msg, state.topic, text)
	case stageReply:
		return b.finishReply(ctx, msg, state.requestID, text)
	default:
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "Something went wrong. Please start over with /start.")
	}
}

func (b *Bot) finishRegistration(ctx context.Context, chatID int64, user model.User) error {
	defer b.clearConversation(user.TelegramID)

	if err := b.users.Save(ctx, &user); err != nil {
		log.Printf("save user %d: %v", user.TelegramID, err)
		return b.sendText(chatID, "Registration failed. Please try again later.")
	}

	log.Printf("[info] user registered id=%d department=%q", user.TelegramID, user.Department)
	text := fmt.Sprintf("Registration completed, %s! You can now create requests using the \"Create Request\" button.", escape(user.Name))
	return b.sendWithReplyMarkup(chatID, text, mainMenuKeyboard())
}

func (b *Bot) finishRequestCreation(ctx context.Context, msg *tgbotapi.Message, topic, description string) error {
	defer b.clearConversation(msg.From.ID)

	user, err := b.users.FindByTelegramID(ctx, msg.From.ID)
	if err != nil {
		log.Printf("find user %d: %v", msg.From.ID, err)
		return b.sendText(msg.Chat.ID, "Failed to submit request. Please try again later.")
	}

	req, err := b.requestSvc.Create(ctx, user, topic, description)
	if err != nil {
		log.Printf("create request user=%d: %v", msg.From.ID, err)
		return b.sendText(msg.Chat.ID, "Failed to submit request. Please try again later.")
	}

	// Post to the staff group. The message body carries the request id so the
	// legacy fallback parse keeps working for old clients.
	groupMsg := tgbotapi.NewMessage(b.config.GroupChatID, formatRequestMessage(req))
	groupMsg.ReplyMarkup = requestKeyboard(req.RequestID)
	if _, err := b.api.Send(groupMsg); err != nil {
		log.Printf("post request %s to group: %v", req.RequestID, err)
	}

	return b.sendWithReplyMarkup(msg.Chat.ID, "Your request has been submitted successfully!", mainMenuKeyboard())
}

func (b *Bot) finishReply(ctx context.Context, msg *tgbotapi.Message, requestID, text string) error {
	defer b.clearConversation(msg.From.ID)

	_, err := b.requestSvc.Reply(ctx, requestID, text)
	switch {
	case err == nil:
		return b.sendPlain(msg.Chat.ID, "Reply sent successfully!")
	case errors.Is(err, service.ErrRequestNotFound):
		log.Printf("reply: request %q not found", requestID)
		return b.sendPlain(msg.Chat.ID, "Failed to find the request. Please try again.")
	default:
		log.Printf("reply to request %q: %v", requestID, err)
		return b.sendPlain(msg.Chat.ID, "Failed to send reply. Please try again later.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}

	data := cb.Data
	switch {
	case strings.HasPrefix(data, cbTopicPrefix):
		return b.handleTopicCallback(cb)
	case strings.HasPrefix(data, cbAcceptPrefix):
		return b.handleAcceptCallback(ctx, cb)
	case strings.HasPrefix(data, cbSolvePrefix):
		return b.handleSolveCallback(ctx, cb)
	case strings.HasPrefix(data, cbReplyPrefix):
		return b.handleReplyCallback(cb)
	default:
		b.answerCallback(cb.ID, "")
		return nil
	}
}

func (b *Bot) handleTopicCallback(cb *tgbotapi.CallbackQuery) error {
	b.answerCallback(cb.ID, "")

	state := b.getConversation(cb.From.ID)
	if state == nil || state.stage != stageTopic {
		return nil
	}

	topic := strings.TrimPrefix(cb.Data, cbTopicPrefix)
	if !model.ValidTopic(topic) {
		return b.sendWithReplyMarkup(cb.Message.Chat.ID, "Please select a topic for your request:", topicKeyboard())
	}

	state.topic = topic
	state.stage = stageDescription
	return b.sendText(cb.Message.Chat.ID, "Please describe your request:")
}

func (b *Bot) handleAcceptCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	requestID, err := requestIDFromCallback(cb.Data, cbAcceptPrefix, cb.Message.Text)
	if err != nil {
		log.Printf("accept: %v", err)
		b.answerCallback(cb.ID, "Request not found!")
		return nil
	}
	log.Printf("[info] accept pressed id=%s by=%s", requestID, staffHandle(cb.From))

	req, err := b.requestSvc.Accept(ctx, requestID, staffHandle(cb.From))
	switch {
	case err == nil:
		b.answerCallback(cb.ID, "Request accepted!")
		b.editKeyboard(cb.Message.Chat.ID, cb.Message.MessageID, solvedKeyboard(req.RequestID))
		return nil
	case errors.Is(err, service.ErrAlreadyAccepted):
		b.answerCallback(cb.ID, "This request is already accepted!")
		return nil
	case errors.Is(err, service.ErrRequestNotFound):
		b.answerCallback(cb.ID, "Request not found!")
		return nil
	default:
		b.answerCallback(cb.ID, "Failed to accept request")
		return fmt.Errorf("accept request %s: %w", requestID, err)
	}
}

func (b *Bot) handleSolveCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	requestID, err := requestIDFromCallback(cb.Data, cbSolvePrefix, cb.Message.Text)
	if err != nil {
		log.Printf("solve: %v", err)
		b.answerCallback(cb.ID, "Request not found!")
		return nil
	}
	log.Printf("[info] solve pressed id=%s by=%s", requestID, staffHandle(cb.From))

	_, err = b.requestSvc.Solve(ctx, requestID, staffHandle(cb.From))
	switch {
	case err == nil:
		b.answerCallback(cb.ID, "Request marked as solved!")
		b.editKeyboard(cb.Message.Chat.ID, cb.Message.MessageID, replyOnlyKeyboard(requestID))
		return nil
	case errors.Is(err, service.ErrAlreadySolved):
		b.answerCallback(cb.ID, "This request is already solved!")
		return nil
	case errors.Is(err, service.ErrNotYetAccepted):
		b.answerCallback(cb.ID, "Accept the request before marking it as solved!")
		return nil
	case errors.Is(err, service.ErrNotOwner):
		b.answerCallback(cb.ID, "Only the person who accepted the request can mark it as solved!")
		return nil
	case errors.Is(err, service.ErrRequestNotFound):
		b.answerCallback(cb.ID, "Request not found!")
		return nil
	default:
		b.answerCallback(cb.ID, "Failed to mark request as solved")
		return fmt.Errorf("solve request %s: %w", requestID, err)
	}
}

func (b *Bot) handleReplyCallback(cb *tgbotapi.CallbackQuery) error {
	b.answerCallback(cb.ID, "")

	requestID, err := requestIDFromCallback(cb.Data, cbReplyPrefix, cb.Message.Text)
	if err != nil {
		log.Printf("reply: %v", err)
		return b.sendPlain(cb.Message.Chat.ID, "Failed to find the request. Please try again.")
	}

	log.Printf("[info] reply flow started id=%s by=%s", requestID, staffHandle(cb.From))
	b.setConversation(cb.From.ID, &conversationState{stage: stageReply, requestID: requestID})
	return b.sendPlain(cb.Message.Chat.ID, "Please enter your reply:")
}

// SendPendingDigest posts the pending-request summary to the staff group.
// Nothing is sent when no request is waiting.
func (b *Bot) SendPendingDigest(ctx context.Context) error {
	text, err := b.digestSvc.PendingSummary(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("build digest: %w", err)
	}
	if text == "" {
		return nil
	}
	return b.sendText(b.config.GroupChatID, text)
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(msg)
	return err
}

// sendPlain skips HTML parse mode for texts that embed user-provided content
// verbatim.
func (b *Bot) sendPlain(chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) answerCallback(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		log.Printf("callback ack: %v", err)
	}
}

func (b *Bot) editKeyboard(chatID int64, messageID int, markup tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, markup)
	if _, err := b.api.Send(edit); err != nil {
		log.Printf("edit keyboard: %v", err)
	}
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) hasConversation(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.conversations[userID]
	return ok
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}

// staffHandle identifies the acting staff member. The username is the handle
// recorded in accepted_by; accounts without one fall back to the first name.
func staffHandle(from *tgbotapi.User) string {
	if from.UserName != "" {
		return from.UserName
	}
	return from.FirstName
}

func escape(s string) string {
	return html.EscapeString(s)
}
