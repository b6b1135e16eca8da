package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taskflow/internal/domain"
	"taskflow/internal/events"
	"taskflow/internal/repo"
)

const (
	defaultRelayInterval = 2 * time.Second
	defaultRelayBatch    = 100
	defaultRelayName     = "chat"
)

// Relay tails the change feed and posts task lifecycle events to chat. Each
// task keeps one thread per UTC day: the first post of a day opens a thread
// and later posts that day reply to it.
type Relay struct {
	Repo     repo.Repo
	Chat     ChatSink
	Channel  string
	Name     string
	Interval time.Duration
	Batch    int
	Log      *slog.Logger
	Now      func() time.Time
}

// Run polls until ctx is cancelled.
func (r Relay) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = defaultRelayInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.log().Warn("relay: pass failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce relays one batch and returns the number of messages posted. A
// consumer without a stored cursor starts at the current end of the feed.
func (r Relay) RunOnce(ctx context.Context) (int, error) {
	name := r.name()
	cursor, ok, err := r.Repo.RelayCursor(ctx, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		latest, err := r.Repo.LatestEventID(ctx, "")
		if err != nil {
			return 0, err
		}
		return 0, r.Repo.SetRelayCursor(ctx, name, latest)
	}
	batch := r.Batch
	if batch <= 0 {
		batch = defaultRelayBatch
	}
	evts, err := r.Repo.EventsAfter(ctx, batch, cursor, "")
	if err != nil {
		return 0, err
	}
	posted := 0
	for _, evt := range evts {
		sent, err := r.relay(ctx, evt)
		if err != nil {
			r.log().Warn("relay: delivery failed", "event_id", evt.ID, "type", evt.Type, "task_id", evt.EntityID, "err", err)
		}
		if sent {
			posted++
		}
		if err := r.Repo.SetRelayCursor(ctx, name, evt.ID); err != nil {
			return posted, err
		}
	}
	return posted, nil
}

type relayPayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Stage  string `json:"stage_id"`
	Return string `json:"return_stage"`
	Reason string `json:"reason"`
}

func (r Relay) relay(ctx context.Context, evt domain.Event) (bool, error) {
	if evt.EntityKind != events.KindTask || evt.EntityID == "" {
		return false, nil
	}
	switch evt.Type {
	case events.TaskCreated, events.TaskMoved, events.ApprovalRequested, events.TaskApproved, events.TaskRejected:
	default:
		return false, nil
	}
	var p relayPayload
	if evt.Payload != "" {
		if err := json.Unmarshal([]byte(evt.Payload), &p); err != nil {
			return false, fmt.Errorf("decode payload: %w", err)
		}
	}
	if evt.Type == events.TaskMoved && p.From == p.To {
		return false, nil
	}
	t, err := r.Repo.GetTask(ctx, nil, evt.EntityID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	proj, err := r.Repo.GetProject(ctx, nil, t.ProjectID)
	if err != nil {
		return false, err
	}
	stageName := func(id string) string {
		if s, ok := proj.Stage(id); ok {
			return s.Name
		}
		return id
	}
	var text string
	switch evt.Type {
	case events.TaskCreated:
		text = fmt.Sprintf("New task %q in %s", t.Title, stageName(p.Stage))
	case events.TaskMoved:
		text = fmt.Sprintf("%q moved from %s to %s", t.Title, stageName(p.From), stageName(p.To))
	case events.ApprovalRequested:
		text = fmt.Sprintf("%q is waiting for approval", t.Title)
	case events.TaskApproved:
		text = fmt.Sprintf("%q was approved", t.Title)
	case events.TaskRejected:
		text = fmt.Sprintf("%q was sent back to %s", t.Title, stageName(p.Return))
		if p.Reason != "" {
			text += ": " + p.Reason
		}
	}

	day := r.now().Format(domain.DateLayout)
	msg := ChatMessage{Channel: r.Channel, Text: text}
	if t.ChatThreadRef != nil && t.ChatThreadDay != nil && *t.ChatThreadDay == day {
		msg.ThreadRef = *t.ChatThreadRef
	}
	ref, err := r.Chat.Post(ctx, msg)
	if err != nil {
		return false, err
	}
	if msg.ThreadRef == "" && ref != "" {
		if err := r.Repo.SetChatThread(ctx, nil, t.ID, ref, day); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (r Relay) name() string {
	if r.Name != "" {
		return r.Name
	}
	return defaultRelayName
}

func (r Relay) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r Relay) log() *slog.Logger { return logger(r.Log) }
