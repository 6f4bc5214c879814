package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"helpdesk-bot/internal/model"
	"helpdesk-bot/internal/rowstore"
)

// timeLayout is the cell format for created_at columns.
const timeLayout = "2006-01-02 15:04:05"

// UserRepository reads and writes registration profiles.
type UserRepository struct {
	store rowstore.Store
}

func NewUserRepository(store rowstore.Store) *UserRepository {
	return &UserRepository{store: store}
}

// Save upserts the profile keyed by TelegramID. The first matching row is
// updated in place; only when none exists is a new row appended, which keeps
// re-registration from duplicating the user. CreatedAt of the original row
// survives updates.
func (r *UserRepository) Save(ctx context.Context, user *model.User) error {
	key := strconv.FormatInt(user.TelegramID, 10)

	_, err := rowstore.Find(ctx, r.store, rowstore.Users, key)
	switch {
	case err == nil:
		cells := map[int]string{
			0: user.Name,
			1: user.Phone,
			2: user.Department,
			3: user.Floor,
			5: user.Username,
		}
		if err := r.store.Update(ctx, rowstore.Users, key, cells); err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		return nil
	case errors.Is(err, rowstore.ErrRowNotFound):
		createdAt := user.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		row := rowstore.Row{
			user.Name,
			user.Phone,
			user.Department,
			user.Floor,
			key,
			user.Username,
			createdAt.Format(timeLayout),
		}
		if err := r.store.Append(ctx, rowstore.Users, row); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("find user: %w", err)
	}
}

// FindByTelegramID returns the first matching profile, or
// rowstore.ErrRowNotFound when the identity never registered.
func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	key := strconv.FormatInt(telegramID, 10)
	row, err := rowstore.Find(ctx, r.store, rowstore.Users, key)
	if err != nil {
		return nil, err
	}
	return userFromRow(row), nil
}

func userFromRow(row rowstore.Row) *model.User {
	telegramID, _ := strconv.ParseInt(row.Cell(4), 10, 64)
	user := &model.User{
		Name:       row.Cell(0),
		Phone:      row.Cell(1),
		Department: row.Cell(2),
		Floor:      row.Cell(3),
		TelegramID: telegramID,
		Username:   row.Cell(5),
	}
	if ts, err := time.Parse(timeLayout, row.Cell(6)); err == nil {
		user.CreatedAt = ts
	}
	return user
}
