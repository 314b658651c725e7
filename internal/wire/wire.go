// Package wire defines the push-channel frame format and endpoint naming
// shared between the backend and this tracker.
package wire

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/mibworks/tasktrack/internal/task"
)

// Keepalive literals exchanged as bare text frames, outside the JSON envelope.
const (
	PingFrame = "ping"
	PongFrame = "pong"
)

// TopicAll is the umbrella topic carrying bulk-operation progress.
const TopicAll = "task:all"

const topicPrefix = "task:"

// Topic returns the per-task topic for a task id.
func Topic(taskID string) string {
	return topicPrefix + taskID
}

// TaskID extracts the task id from a per-task topic. It returns false for
// the umbrella topic and for anything that is not a task topic.
func TaskID(topic string) (string, bool) {
	if topic == TopicAll || !strings.HasPrefix(topic, topicPrefix) {
		return "", false
	}
	id := topic[len(topicPrefix):]
	if id == "" {
		return "", false
	}
	return id, true
}

// Envelope is the tagged frame every non-keepalive server message uses.
type Envelope struct {
	Topic string `json:"topic"`
	Data  Update `json:"data"`
}

// Update is the payload of a progress frame. The backend is loose about
// field naming, so both spellings of several fields are accepted.
type Update struct {
	Status       string          `json:"status"`
	Phase        string          `json:"phase"`
	Progress     *float64        `json:"progress"`
	Percentage   *float64        `json:"percentage"`
	Message      string          `json:"message"`
	ETASeconds   *float64        `json:"eta_seconds"`
	CurrentTable string          `json:"current_table"`
	CurrentItem  string          `json:"current_item"`
	Result       json.RawMessage `json:"result"`
}

// Decode parses a text frame into an Envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Topic == "" {
		return Envelope{}, fmt.Errorf("envelope missing topic")
	}
	return env, nil
}

// NormalizeStatus maps the backend's status spellings onto task.Status.
// The bool is false when the frame carries no status or an unknown one.
func NormalizeStatus(raw string) (task.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "pending":
		return task.StatusQueued, true
	case "running", "started", "in_progress":
		return task.StatusRunning, true
	case "completed", "complete", "success":
		return task.StatusCompleted, true
	case "failed", "failure", "error":
		return task.StatusFailed, true
	case "cancelled", "canceled":
		return task.StatusCancelled, true
	}
	return "", false
}

// Status returns the normalized status carried by the update, if any.
func (u Update) NormalizedStatus() (task.Status, bool) {
	if u.Status != "" {
		return NormalizeStatus(u.Status)
	}
	// Some phases double as terminal markers when status is omitted.
	if u.Phase != "" {
		if st, ok := NormalizeStatus(u.Phase); ok && st.Terminal() {
			return st, true
		}
	}
	return "", false
}

// Percent returns the progress percentage clamped to [0,100]. The backend
// sends either "progress" or "percentage"; progress wins when both appear.
func (u Update) Percent() (float64, bool) {
	var raw *float64
	switch {
	case u.Progress != nil:
		raw = u.Progress
	case u.Percentage != nil:
		raw = u.Percentage
	default:
		return 0, false
	}
	p := *raw
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return p, true
}

// Item returns the constituent item referenced by an umbrella frame, if any.
func (u Update) Item() string {
	if u.CurrentItem != "" {
		return u.CurrentItem
	}
	return u.CurrentTable
}

// EndpointURL builds the websocket address for a task channel. Pass taskID
// "all" (or empty) for the umbrella channel. The scheme is wss iff the
// backend base URL is https.
func EndpointURL(base, namespace, taskID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if namespace == "" {
		return "", fmt.Errorf("namespace is required")
	}
	if taskID == "" {
		taskID = "all"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/" + namespace + "/ws/" + taskID
	return u.String(), nil
}
