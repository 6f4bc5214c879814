package bot

import (
	"errors"
	"fmt"
	"strings"

	"helpdesk-bot/internal/model"
)

// ErrMalformedReference reports that no request id could be recovered from a
// rendered message body. Callers treat it like a missing request.
var ErrMalformedReference = errors.New("malformed request reference")

// requestIDMarker is the line prefix carrying the id in a group message.
// formatRequestMessage and requestIDFromMessage must agree on it.
const requestIDMarker = "Request ID: "

// formatRequestMessage renders the group announcement for a new request.
// Sent without parse mode: the body is the legacy source for the request id,
// so it has to stay byte-exact.
func formatRequestMessage(req *model.Request) string {
	var sb strings.Builder
	sb.WriteString("New Request:\n\n")
	sb.WriteString(fmt.Sprintf("From: %s\n", req.Name))
	sb.WriteString(fmt.Sprintf("Department: %s\n", req.Department))
	sb.WriteString(fmt.Sprintf("Floor: %s\n", req.Floor))
	sb.WriteString(fmt.Sprintf("Topic: %s\n", req.Topic))
	sb.WriteString(fmt.Sprintf("Description: %s\n\n", req.Description))
	sb.WriteString(requestIDMarker + req.RequestID)
	return sb.String()
}

// requestIDFromCallback prefers the id embedded in the callback data and
// falls back to parsing the rendered message for buttons created before ids
// were passed structurally.
func requestIDFromCallback(data, prefix, messageText string) (string, error) {
	if id := strings.TrimSpace(strings.TrimPrefix(data, prefix)); id != "" {
		return id, nil
	}
	return requestIDFromMessage(messageText)
}

// requestIDFromMessage recovers the id from the trailing "Request ID:" line
// of a group message.
func requestIDFromMessage(text string) (string, error) {
	idx := strings.LastIndex(text, requestIDMarker)
	if idx < 0 {
		return "", fmt.Errorf("%w: no id marker in message", ErrMalformedReference)
	}
	id := text[idx+len(requestIDMarker):]
	if nl := strings.IndexByte(id, '\n'); nl >= 0 {
		id = id[:nl]
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: empty id after marker", ErrMalformedReference)
	}
	return id, nil
}
