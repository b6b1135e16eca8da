package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/domain"
	"taskflow/internal/engine"
	"taskflow/internal/migrate"
	"taskflow/internal/notify"
)

func TestHTTPEmailSink(t *testing.T) {
	var got notify.EmailMessage
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg-1"}`)
	}))
	defer srv.Close()

	sink := notify.HTTPEmailSink{Endpoint: srv.URL, APIKey: "k", From: "noreply@example.com"}
	id, err := sink.Send(context.Background(), notify.EmailMessage{To: "a@example.com", Subject: "hi", Text: "body"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, "Bearer k", auth)
	assert.Equal(t, "noreply@example.com", got.From)
	assert.Equal(t, "a@example.com", got.To)
	assert.Empty(t, got.HTML)
}

func TestHTTPEmailSinkHTMLBody(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		fmt.Fprint(w, `{"id":"msg-2"}`)
	}))
	defer srv.Close()

	msg := notify.EmailMessage{To: "a@example.com", Subject: "hi", Text: "body", HTML: "<p>body</p>"}
	_, err := notify.HTTPEmailSink{Endpoint: srv.URL}.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "<p>body</p>", raw["html"])
	assert.Equal(t, "body", raw["text"])
}

func TestHTTPEmailSinkOmitsEmptyHTML(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		fmt.Fprint(w, `{"id":"msg-3"}`)
	}))
	defer srv.Close()

	_, err := notify.HTTPEmailSink{Endpoint: srv.URL}.Send(context.Background(), notify.EmailMessage{To: "a@example.com", Text: "body"})
	require.NoError(t, err)
	_, ok := raw["html"]
	assert.False(t, ok, "html key present for a text-only message")
}

func TestHTTPEmailSinkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := notify.HTTPEmailSink{Endpoint: srv.URL}.Send(context.Background(), notify.EmailMessage{To: "a@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")

	_, err = notify.HTTPEmailSink{}.Send(context.Background(), notify.EmailMessage{To: "a@example.com"})
	assert.Error(t, err)
}

func TestWebhookChatSinkThreadRef(t *testing.T) {
	var posts []notify.ChatMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg notify.ChatMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		posts = append(posts, msg)
		fmt.Fprint(w, `{"ts":"1700000000.0001"}`)
	}))
	defer srv.Close()

	sink := notify.WebhookChatSink{URL: srv.URL, Channel: "#tasks"}
	ref, err := sink.Post(context.Background(), notify.ChatMessage{Text: "first"})
	require.NoError(t, err)
	assert.Equal(t, "1700000000.0001", ref)

	ref, err = sink.Post(context.Background(), notify.ChatMessage{Text: "reply", ThreadRef: "thread-a"})
	require.NoError(t, err)
	assert.Equal(t, "thread-a", ref)
	require.Len(t, posts, 2)
	assert.Equal(t, "#tasks", posts[0].Channel)
}

type failingEmail struct{}

func (failingEmail) Send(ctx context.Context, msg notify.EmailMessage) (string, error) {
	return "", errors.New("smtp down")
}

type slowEmail struct {
	mu   sync.Mutex
	sent []string
}

func (s *slowEmail) Send(ctx context.Context, msg notify.EmailMessage) (string, error) {
	if msg.To == "slow@example.com" {
		<-ctx.Done()
		return "", ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg.To)
	return "ok", nil
}

func TestDispatcherTimeoutDoesNotBlockQueue(t *testing.T) {
	sink := &slowEmail{}
	d := notify.NewDispatcher(sink, nil, 4, 20*time.Millisecond, nil)
	d.Start()
	assert.True(t, d.SendEmail(notify.EmailMessage{To: "slow@example.com"}))
	assert.True(t, d.SendEmail(notify.EmailMessage{To: "fast@example.com"}))
	d.Close()

	assert.Equal(t, []string{"fast@example.com"}, sink.sent)
	assert.False(t, d.SendEmail(notify.EmailMessage{To: "late@example.com"}), "closed dispatcher drops jobs")
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	d := notify.NewDispatcher(failingEmail{}, nil, 4, time.Second, nil)
	d.Start()
	assert.True(t, d.SendEmail(notify.EmailMessage{To: "a@example.com"}))
	var ref string
	done := make(chan struct{})
	assert.True(t, d.PostChat(notify.ChatMessage{Text: "hi"}, func(r string) { ref = r; close(done) }))
	<-done
	d.Close()
	assert.NotEmpty(t, ref)
}

func TestDispatcherQueueFull(t *testing.T) {
	d := notify.NewDispatcher(failingEmail{}, nil, 1, time.Second, nil)
	assert.True(t, d.SendEmail(notify.EmailMessage{To: "a@example.com"}))
	assert.False(t, d.SendEmail(notify.EmailMessage{To: "b@example.com"}), "no worker is draining")
	d.Start()
	d.Close()
}

func TestEmailRendering(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	invite, err := notify.InvitationEmail(notify.Invitation{To: "ada@example.com", Name: "Ada", Inviter: "Grace", Org: "Acme", Role: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "You were added to Acme", invite.Subject)
	g.Assert(t, "invite_email", []byte(invite.Text))

	pinMsg, err := notify.PINEmail(notify.PINNotice{
		To: "ada@example.com", Name: "Ada", Code: "042137", Attempts: 3,
		Expires: time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	g.Assert(t, "pin_email", []byte(pinMsg.Text))

	decision, err := notify.DecisionEmail(notify.Decision{To: "ada@example.com", Name: "Ada", Actor: "Grace", Task: "Ship v2", Reason: "needs tests"})
	require.NoError(t, err)
	assert.Equal(t, `"Ship v2" was sent back`, decision.Subject)
	g.Assert(t, "decision_email", []byte(decision.Text))
}

type recordingChat struct {
	posts []notify.ChatMessage
	n     int
}

func (c *recordingChat) Post(ctx context.Context, msg notify.ChatMessage) (string, error) {
	c.posts = append(c.posts, msg)
	if msg.ThreadRef != "" {
		return msg.ThreadRef, nil
	}
	c.n++
	return fmt.Sprintf("thread-%d", c.n), nil
}

func TestRelayThreadsPerDay(t *testing.T) {
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "relay.db")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	eng := engine.New(conn, config.Default())
	ctx := context.Background()
	_, err = eng.EnsureUser(ctx, domain.User{ID: "u1", Username: "u1"})
	require.NoError(t, err)
	org, err := eng.CreateOrg(ctx, "Acme", "acme", "u1")
	require.NoError(t, err)
	p, err := eng.CreateProject(ctx, engine.ProjectOptions{OrgID: org.ID, Name: "Board", ActorID: "u1"})
	require.NoError(t, err)

	day := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	chat := &recordingChat{}
	relay := notify.Relay{Repo: eng.Repo, Chat: chat, Channel: "#tasks", Now: func() time.Time { return day }}

	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "first pass only positions the cursor")

	task, err := eng.CreateTask(ctx, engine.TaskOptions{ProjectID: p.ID, Title: "Write docs", ActorID: "u1"})
	require.NoError(t, err)
	_, err = eng.MoveTask(ctx, engine.MoveOptions{TaskID: task.ID, ToStageID: "doing", ActorID: "u1"})
	require.NoError(t, err)
	_, err = eng.AddComment(ctx, task.ID, "not relayed", "u1")
	require.NoError(t, err)

	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, chat.posts, 2)
	assert.Equal(t, `New task "Write docs" in To Do`, chat.posts[0].Text)
	assert.Empty(t, chat.posts[0].ThreadRef)
	assert.Equal(t, `"Write docs" moved from To Do to In Progress`, chat.posts[1].Text)
	assert.Equal(t, "thread-1", chat.posts[1].ThreadRef)

	day = day.Add(24 * time.Hour)
	_, err = eng.MoveTask(ctx, engine.MoveOptions{TaskID: task.ID, ToStageID: "done", ActorID: "u1"})
	require.NoError(t, err)
	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "move and approval request")
	require.Len(t, chat.posts, 4)
	assert.Empty(t, chat.posts[2].ThreadRef, "a new day opens a new thread")
	assert.Equal(t, "thread-2", chat.posts[3].ThreadRef)

	stored, err := eng.GetTask(ctx, task.ID, "u1")
	require.NoError(t, err)
	require.NotNil(t, stored.ChatThreadRef)
	assert.Equal(t, "thread-2", *stored.ChatThreadRef)
	assert.Equal(t, "2024-03-02", *stored.ChatThreadDay)

	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
