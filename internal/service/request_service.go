package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"helpdesk-bot/internal/model"
	"helpdesk-bot/internal/repository"
	"helpdesk-bot/internal/rowstore"
)

// Lifecycle transition failures. These are expected outcomes of staff racing
// on the same request, not faults.
var (
	ErrRequestNotFound = errors.New("request not found")
	ErrAlreadyAccepted = errors.New("request already accepted")
	ErrAlreadySolved   = errors.New("request already solved")
	ErrNotYetAccepted  = errors.New("request not yet accepted")
	ErrNotOwner        = errors.New("request accepted by someone else")
)

// Notifier delivers a message to a Telegram chat. Fire-and-forget: the
// lifecycle engine does not roll a transition back when delivery fails.
type Notifier interface {
	Notify(chatID int64, text string) error
}

// RequestService drives the request lifecycle:
// Pending -> Accepted -> Solved, forward only, one acceptor.
type RequestService struct {
	requests *repository.RequestRepository
	notifier Notifier
	ids      requestIDGen
	locks    keyedMutex
}

func NewRequestService(requests *repository.RequestRepository, notifier Notifier) *RequestService {
	return &RequestService{
		requests: requests,
		notifier: notifier,
		ids:      requestIDGen{now: time.Now},
	}
}

// Create stores a new Pending request for the registered user. The profile
// fields are snapshotted into the request row.
func (s *RequestService) Create(ctx context.Context, user *model.User, topic, description string) (*model.Request, error) {
	req := &model.Request{
		RequestID:   s.ids.Next(user.TelegramID),
		UserID:      user.TelegramID,
		Name:        user.Name,
		Department:  user.Department,
		Floor:       user.Floor,
		Topic:       topic,
		Description: description,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}
	log.Printf("[info] request created id=%s user=%d topic=%q", req.RequestID, req.UserID, req.Topic)
	return req, nil
}

// Accept moves a Pending request to Accepted on behalf of actor and notifies
// the requester. The store has no compare-and-set, so the read-check-write
// runs inside a per-request critical section: of two concurrent accepts
// exactly one wins, the other gets ErrAlreadyAccepted.
func (s *RequestService) Accept(ctx context.Context, requestID, actor string) (*model.Request, error) {
	unlock := s.locks.lock(requestID)
	defer unlock()

	req, err := s.find(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != model.StatusPending {
		return nil, ErrAlreadyAccepted
	}

	if err := s.requests.SetStatus(ctx, requestID, model.StatusAccepted, actor); err != nil {
		return nil, err
	}
	req.Status = model.StatusAccepted
	req.AcceptedBy = actor

	log.Printf("[info] request accepted id=%s by=%s", requestID, actor)
	if err := s.notifier.Notify(req.UserID, "Your request has been accepted and will be solved soon!"); err != nil {
		log.Printf("notify requester %d: %v", req.UserID, err)
	}
	return req, nil
}

// Solve moves an Accepted request to Solved. Only the acceptor may solve.
func (s *RequestService) Solve(ctx context.Context, requestID, actor string) (*model.Request, error) {
	unlock := s.locks.lock(requestID)
	defer unlock()

	req, err := s.find(ctx, requestID)
	if err != nil {
		return nil, err
	}
	switch {
	case req.Status == model.StatusSolved:
		return nil, ErrAlreadySolved
	case req.Status == model.StatusPending:
		return nil, ErrNotYetAccepted
	case req.AcceptedBy != actor:
		return nil, ErrNotOwner
	}

	if err := s.requests.SetStatus(ctx, requestID, model.StatusSolved, req.AcceptedBy); err != nil {
		return nil, err
	}
	req.Status = model.StatusSolved

	log.Printf("[info] request solved id=%s by=%s", requestID, actor)
	if err := s.notifier.Notify(req.UserID, "Your request has been solved."); err != nil {
		log.Printf("notify requester %d: %v", req.UserID, err)
	}
	return req, nil
}

// Reply forwards text to the requester. It works at any lifecycle state and
// mutates nothing; here a delivery failure is the operation failing.
func (s *RequestService) Reply(ctx context.Context, requestID, text string) (*model.Request, error) {
	req, err := s.find(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.notifier.Notify(req.UserID, "Reply to your request:\n"+text); err != nil {
		return nil, fmt.Errorf("send reply: %w", err)
	}
	log.Printf("[info] reply sent id=%s user=%d", requestID, req.UserID)
	return req, nil
}

func (s *RequestService) find(ctx context.Context, requestID string) (*model.Request, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, rowstore.ErrRowNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return req, nil
}

// requestIDGen issues ids of the form 20240115143022_48212093: a
// second-resolution timestamp plus the requester identity. The timestamp is
// process-locally monotonic, so two submissions inside the same second do not
// collide; the human-readable format survives.
type requestIDGen struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func (g *requestIDGen) Next(telegramID int64) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts := g.now().Truncate(time.Second)
	if !ts.After(g.last) {
		ts = g.last.Add(time.Second)
	}
	g.last = ts
	return fmt.Sprintf("%s_%d", ts.Format("20060102150405"), telegramID)
}

// keyedMutex serializes work per key. Lock cardinality is one entry per
// request ever touched in this process, which is fine at helpdesk volume.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
