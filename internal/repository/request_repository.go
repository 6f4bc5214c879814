package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"helpdesk-bot/internal/model"
	"helpdesk-bot/internal/rowstore"
)

// Columns of the Requests table updated by lifecycle transitions.
const (
	colStatus     = 8
	colAcceptedBy = 9
)

// RequestRepository reads and writes support requests.
type RequestRepository struct {
	store rowstore.Store
}

func NewRequestRepository(store rowstore.Store) *RequestRepository {
	return &RequestRepository{store: store}
}

// Create appends a new request row. Status and AcceptedBy always start as
// Pending and empty regardless of what the caller set.
func (r *RequestRepository) Create(ctx context.Context, req *model.Request) error {
	req.Status = model.StatusPending
	req.AcceptedBy = ""
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	row := rowstore.Row{
		req.RequestID,
		strconv.FormatInt(req.UserID, 10),
		req.Name,
		req.Department,
		req.Floor,
		req.Topic,
		req.Description,
		req.CreatedAt.Format(timeLayout),
		string(req.Status),
		req.AcceptedBy,
	}
	if err := r.store.Append(ctx, rowstore.Requests, row); err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// FindByID returns the first row matching the request id, or
// rowstore.ErrRowNotFound.
func (r *RequestRepository) FindByID(ctx context.Context, requestID string) (*model.Request, error) {
	row, err := rowstore.Find(ctx, r.store, rowstore.Requests, requestID)
	if err != nil {
		return nil, err
	}
	return requestFromRow(row), nil
}

// SetStatus overwrites the status and accepted_by cells of the first row
// matching the request id.
func (r *RequestRepository) SetStatus(ctx context.Context, requestID string, status model.Status, acceptedBy string) error {
	cells := map[int]string{
		colStatus:     string(status),
		colAcceptedBy: acceptedBy,
	}
	if err := r.store.Update(ctx, rowstore.Requests, requestID, cells); err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	return nil
}

// ListPending returns all requests still waiting for a staff member, in
// submission order.
func (r *RequestRepository) ListPending(ctx context.Context) ([]model.Request, error) {
	rows, err := r.store.List(ctx, rowstore.Requests)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}

	var pending []model.Request
	for i, row := range rows {
		if i < rowstore.Requests.HeaderRows {
			continue
		}
		req := requestFromRow(row)
		if req.Status == model.StatusPending {
			pending = append(pending, *req)
		}
	}
	return pending, nil
}

func requestFromRow(row rowstore.Row) *model.Request {
	userID, _ := strconv.ParseInt(row.Cell(1), 10, 64)
	req := &model.Request{
		RequestID:   row.Cell(0),
		UserID:      userID,
		Name:        row.Cell(2),
		Department:  row.Cell(3),
		Floor:       row.Cell(4),
		Topic:       row.Cell(5),
		Description: row.Cell(6),
		Status:      model.Status(row.Cell(8)),
		AcceptedBy:  row.Cell(9),
	}
	// Rows written before the status columns existed read as Pending.
	if req.Status == "" {
		req.Status = model.StatusPending
	}
	if ts, err := time.Parse(timeLayout, row.Cell(7)); err == nil {
		req.CreatedAt = ts
	}
	return req
}
