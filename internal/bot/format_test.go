package bot

import (
	"errors"
	"testing"

	"helpdesk-bot/internal/model"
)

func TestFormatRequestMessage(t *testing.T) {
	req := &model.Request{
		RequestID:   "20240115143022_48212093",
		Name:        "Alice",
		Department:  "Finance",
		Floor:       "3",
		Topic:       "Hardware Issue",
		Description: "Laptop won't boot",
	}

	want := "New Request:\n\n" +
		"From: Alice\n" +
		"Department: Finance\n" +
		"Floor: 3\n" +
		"Topic: Hardware Issue\n" +
		"Description: Laptop won't boot\n\n" +
		"Request ID: 20240115143022_48212093"

	if got := formatRequestMessage(req); got != want {
		t.Errorf("message:\n%q\nwant:\n%q", got, want)
	}
}

func TestRequestIDFromMessageRoundtrip(t *testing.T) {
	req := &model.Request{
		RequestID:   "20240115143022_48212093",
		Name:        "Alice",
		Department:  "Finance",
		Floor:       "3",
		Topic:       "Hardware Issue",
		Description: "multi\nline\ndescription",
	}

	id, err := requestIDFromMessage(formatRequestMessage(req))
	if err != nil {
		t.Fatalf("requestIDFromMessage: %v", err)
	}
	if id != req.RequestID {
		t.Errorf("id = %q, want %q", id, req.RequestID)
	}
}

func TestRequestIDFromMessageMalformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no marker", "New Request:\n\nFrom: Alice"},
		{"empty id", "New Request:\n\nRequest ID: "},
		{"marker then newline only", "Request ID: \nfooter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := requestIDFromMessage(tt.text); !errors.Is(err, ErrMalformedReference) {
				t.Errorf("err = %v, want ErrMalformedReference", err)
			}
		})
	}
}

func TestRequestIDFromCallback(t *testing.T) {
	msg := "New Request:\n\nRequest ID: 20240115143022_42"

	t.Run("structured id wins", func(t *testing.T) {
		id, err := requestIDFromCallback("accept:20250101000000_7", cbAcceptPrefix, msg)
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if id != "20250101000000_7" {
			t.Errorf("id = %q", id)
		}
	})

	t.Run("falls back to message text", func(t *testing.T) {
		id, err := requestIDFromCallback("accept:", cbAcceptPrefix, msg)
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if id != "20240115143022_42" {
			t.Errorf("id = %q", id)
		}
	})

	t.Run("malformed both ways", func(t *testing.T) {
		if _, err := requestIDFromCallback("accept:", cbAcceptPrefix, "no marker here"); !errors.Is(err, ErrMalformedReference) {
			t.Errorf("err = %v, want ErrMalformedReference", err)
		}
	})
}
