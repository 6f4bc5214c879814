package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"helpdesk-bot/internal/model"
	"helpdesk-bot/internal/repository"
	"helpdesk-bot/internal/rowstore"
)

type notification struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (f *fakeNotifier) Notify(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, notification{chatID: chatID, text: text})
	return nil
}

func (f *fakeNotifier) all() []notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification(nil), f.sent...)
}

func newTestService(t *testing.T) (*RequestService, *repository.RequestRepository, *rowstore.Memory, *fakeNotifier) {
	t.Helper()
	store := rowstore.NewMemory()
	repo := repository.NewRequestRepository(store)
	notifier := &fakeNotifier{}
	return NewRequestService(repo, notifier), repo, store, notifier
}

func mustCreate(t *testing.T, svc *RequestService) *model.Request {
	t.Helper()
	user := &model.User{
		Name:       "Alice",
		Department: "Finance",
		Floor:      "3",
		TelegramID: 48212093,
	}
	req, err := svc.Create(context.Background(), user, "Hardware Issue", "Laptop won't boot")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return req
}

// checkInvariant asserts that accepted_by is non-empty exactly when the
// request is Accepted or Solved.
func checkInvariant(t *testing.T, repo *repository.RequestRepository, requestID string) {
	t.Helper()
	req, err := repo.FindByID(context.Background(), requestID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	accepted := req.Status == model.StatusAccepted || req.Status == model.StatusSolved
	if accepted && req.AcceptedBy == "" {
		t.Errorf("status %q with empty accepted_by", req.Status)
	}
	if !accepted && req.AcceptedBy != "" {
		t.Errorf("status %q with accepted_by %q", req.Status, req.AcceptedBy)
	}
}

func TestCreateStartsPending(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	req := mustCreate(t, svc)

	if req.Status != model.StatusPending || req.AcceptedBy != "" {
		t.Errorf("new request: status=%q acceptedBy=%q", req.Status, req.AcceptedBy)
	}
	if !strings.HasSuffix(req.RequestID, "_48212093") {
		t.Errorf("request id %q does not end with requester identity", req.RequestID)
	}
	checkInvariant(t, repo, req.RequestID)
}

func TestAcceptLifecycle(t *testing.T) {
	svc, repo, _, notifier := newTestService(t)
	req := mustCreate(t, svc)
	ctx := context.Background()

	got, err := svc.Accept(ctx, req.RequestID, "S1")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if got.Status != model.StatusAccepted || got.AcceptedBy != "S1" {
		t.Errorf("after accept: status=%q acceptedBy=%q", got.Status, got.AcceptedBy)
	}
	checkInvariant(t, repo, req.RequestID)

	sent := notifier.all()
	if len(sent) != 1 || sent[0].chatID != 48212093 {
		t.Fatalf("requester notification = %+v", sent)
	}
	if !strings.Contains(sent[0].text, "accepted") {
		t.Errorf("notification text = %q", sent[0].text)
	}
}

func TestAcceptIsFirstWinnerOnly(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	req := mustCreate(t, svc)
	ctx := context.Background()

	if _, err := svc.Accept(ctx, req.RequestID, "S1"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if _, err := svc.Accept(ctx, req.RequestID, "S2"); !errors.Is(err, ErrAlreadyAccepted) {
		t.Fatalf("second accept err = %v, want ErrAlreadyAccepted", err)
	}

	stored, err := repo.FindByID(ctx, req.RequestID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.AcceptedBy != "S1" {
		t.Errorf("accepted_by = %q, want S1", stored.AcceptedBy)
	}
	checkInvariant(t, repo, req.RequestID)
}

func TestAcceptMissingRequest(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	if _, err := svc.Accept(context.Background(), "20240101000000_1", "S1"); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("err = %v, want ErrRequestNotFound", err)
	}
}

func TestSolveGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("not yet accepted", func(t *testing.T) {
		svc, repo, _, _ := newTestService(t)
		req := mustCreate(t, svc)
		if _, err := svc.Solve(ctx, req.RequestID, "S1"); !errors.Is(err, ErrNotYetAccepted) {
			t.Fatalf("err = %v, want ErrNotYetAccepted", err)
		}
		checkInvariant(t, repo, req.RequestID)
	})

	t.Run("not owner", func(t *testing.T) {
		svc, repo, _, _ := newTestService(t)
		req := mustCreate(t, svc)
		if _, err := svc.Accept(ctx, req.RequestID, "S1"); err != nil {
			t.Fatalf("Accept: %v", err)
		}
		if _, err := svc.Solve(ctx, req.RequestID, "S2"); !errors.Is(err, ErrNotOwner) {
			t.Fatalf("err = %v, want ErrNotOwner", err)
		}
		stored, _ := repo.FindByID(ctx, req.RequestID)
		if stored.Status != model.StatusAccepted || stored.AcceptedBy != "S1" {
			t.Errorf("state changed by rejected solve: %+v", stored)
		}
	})

	t.Run("already solved", func(t *testing.T) {
		svc, repo, _, _ := newTestService(t)
		req := mustCreate(t, svc)
		if _, err := svc.Accept(ctx, req.RequestID, "S1"); err != nil {
			t.Fatalf("Accept: %v", err)
		}
		if _, err := svc.Solve(ctx, req.RequestID, "S1"); err != nil {
			t.Fatalf("Solve: %v", err)
		}
		if _, err := svc.Solve(ctx, req.RequestID, "S1"); !errors.Is(err, ErrAlreadySolved) {
			t.Fatalf("err = %v, want ErrAlreadySolved", err)
		}
		checkInvariant(t, repo, req.RequestID)
	})
}

func TestConcurrentAcceptsHaveOneWinner(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	req := mustCreate(t, svc)
	ctx := context.Background()

	const staff = 8
	var wg sync.WaitGroup
	winners := make(chan string, staff)
	losers := make(chan error, staff)

	for i := 0; i < staff; i++ {
		actor := fmt.Sprintf("S%d", i+1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Accept(ctx, req.RequestID, actor); err != nil {
				losers <- err
				return
			}
			winners <- actor
		}()
	}
	wg.Wait()
	close(winners)
	close(losers)

	var won []string
	for actor := range winners {
		won = append(won, actor)
	}
	if len(won) != 1 {
		t.Fatalf("winners = %v, want exactly one", won)
	}
	for err := range losers {
		if !errors.Is(err, ErrAlreadyAccepted) {
			t.Errorf("loser err = %v, want ErrAlreadyAccepted", err)
		}
	}

	stored, err := repo.FindByID(ctx, req.RequestID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.AcceptedBy != won[0] {
		t.Errorf("accepted_by = %q, want winner %q", stored.AcceptedBy, won[0])
	}
	checkInvariant(t, repo, req.RequestID)
}

func TestReplyForwardsWithoutMutating(t *testing.T) {
	svc, repo, _, notifier := newTestService(t)
	req := mustCreate(t, svc)
	ctx := context.Background()

	if _, err := svc.Reply(ctx, req.RequestID, "We are on it"); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	sent := notifier.all()
	if len(sent) != 1 || sent[0].chatID != 48212093 {
		t.Fatalf("notifications = %+v", sent)
	}
	if sent[0].text != "Reply to your request:\nWe are on it" {
		t.Errorf("reply text = %q", sent[0].text)
	}

	stored, _ := repo.FindByID(ctx, req.RequestID)
	if stored.Status != model.StatusPending || stored.AcceptedBy != "" {
		t.Errorf("reply mutated the request: %+v", stored)
	}

	// Reply works at any lifecycle state.
	if _, err := svc.Accept(ctx, req.RequestID, "S1"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if _, err := svc.Solve(ctx, req.RequestID, "S1"); err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if _, err := svc.Reply(ctx, req.RequestID, "still there?"); err != nil {
		t.Fatalf("Reply after solve: %v", err)
	}
}

func TestReplyMissingRequest(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	if _, err := svc.Reply(context.Background(), "20240101000000_1", "hi"); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("err = %v, want ErrRequestNotFound", err)
	}
}

func TestAcceptSurvivesNotifyFailure(t *testing.T) {
	svc, repo, _, notifier := newTestService(t)
	req := mustCreate(t, svc)
	notifier.err = errors.New("telegram down")

	if _, err := svc.Accept(context.Background(), req.RequestID, "S1"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	stored, _ := repo.FindByID(context.Background(), req.RequestID)
	if stored.Status != model.StatusAccepted {
		t.Errorf("transition rolled back on notify failure: %+v", stored)
	}
}

func TestAcceptSurfacesStoreFault(t *testing.T) {
	svc, _, store, _ := newTestService(t)
	req := mustCreate(t, svc)

	store.Fail(rowstore.ErrUnavailable)
	_, err := svc.Accept(context.Background(), req.RequestID, "S1")
	if !errors.Is(err, rowstore.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestRequestIDGenerator(t *testing.T) {
	now := time.Date(2024, 1, 15, 14, 30, 22, 0, time.UTC)
	gen := requestIDGen{now: func() time.Time { return now }}

	first := gen.Next(48212093)
	if first != "20240115143022_48212093" {
		t.Fatalf("id = %q", first)
	}

	// Same second, same identity: the generator advances one second instead
	// of colliding.
	second := gen.Next(48212093)
	if second == first {
		t.Fatalf("same-second ids collided: %q", second)
	}
	if second != "20240115143023_48212093" {
		t.Errorf("second id = %q", second)
	}

	// Different seconds always differ.
	now = now.Add(5 * time.Second)
	third := gen.Next(48212093)
	if third != "20240115143027_48212093" {
		t.Errorf("third id = %q", third)
	}
}

// TestEndToEndScenario walks the full staff workflow: registration, request
// submission, accept race, solve, repeated solve.
func TestEndToEndScenario(t *testing.T) {
	store := rowstore.NewMemory()
	users := repository.NewUserRepository(store)
	requests := repository.NewRequestRepository(store)
	notifier := &fakeNotifier{}
	svc := NewRequestService(requests, notifier)
	ctx := context.Background()

	u1 := &model.User{
		Name:       "Alice",
		Phone:      "+10000000",
		Department: "Finance",
		Floor:      "3",
		TelegramID: 1001,
		Username:   "alice",
	}
	if err := users.Save(ctx, u1); err != nil {
		t.Fatalf("register: %v", err)
	}

	stored, err := users.FindByTelegramID(ctx, 1001)
	if err != nil {
		t.Fatalf("lookup after registration: %v", err)
	}

	req, err := svc.Create(ctx, stored, "Hardware Issue", "Laptop won't boot")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if req.Status != model.StatusPending || req.AcceptedBy != "" {
		t.Fatalf("fresh request: %+v", req)
	}

	if _, err := svc.Accept(ctx, req.RequestID, "S1"); err != nil {
		t.Fatalf("S1 accept: %v", err)
	}
	got, _ := requests.FindByID(ctx, req.RequestID)
	if got.Status != model.StatusAccepted || got.AcceptedBy != "S1" {
		t.Fatalf("after S1 accept: %+v", got)
	}
	if len(notifier.all()) != 1 {
		t.Fatalf("requester not notified of accept")
	}

	if _, err := svc.Accept(ctx, req.RequestID, "S2"); !errors.Is(err, ErrAlreadyAccepted) {
		t.Fatalf("S2 accept err = %v, want ErrAlreadyAccepted", err)
	}
	got, _ = requests.FindByID(ctx, req.RequestID)
	if got.AcceptedBy != "S1" {
		t.Fatalf("S2 stole the request: %+v", got)
	}

	if _, err := svc.Solve(ctx, req.RequestID, "S1"); err != nil {
		t.Fatalf("S1 solve: %v", err)
	}
	got, _ = requests.FindByID(ctx, req.RequestID)
	if got.Status != model.StatusSolved {
		t.Fatalf("after solve: %+v", got)
	}
	if len(notifier.all()) != 2 {
		t.Fatalf("requester not notified of solve")
	}

	if _, err := svc.Solve(ctx, req.RequestID, "S1"); !errors.Is(err, ErrAlreadySolved) {
		t.Fatalf("repeat solve err = %v, want ErrAlreadySolved", err)
	}
}
