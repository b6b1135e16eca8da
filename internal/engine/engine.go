package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taskflow/internal/config"
	"taskflow/internal/domain"
	"taskflow/internal/engine/auth"
	"taskflow/internal/events"
	"taskflow/internal/inbox"
	"taskflow/internal/repo"
	"taskflow/internal/schema"
)

// SystemActor is recorded on events produced by sweeps and the scheduler.
const SystemActor = "system"

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Schema *schema.Registry
	Log    *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	reg, _ := schema.Default()
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Schema: reg,
		Log:    slog.Default(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) stamp() string { return e.now().Format(time.RFC3339) }

func (e Engine) today() string { return e.now().Format(domain.DateLayout) }

func (e Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

func (e Engine) schemas() (*schema.Registry, error) {
	if e.Schema != nil {
		return e.Schema, nil
	}
	return schema.Default()
}

// emit appends a change-feed event stamped with the engine clock.
func (e Engine) emit(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, evtType, projectID, entityKind, entityID, actorID, payload)
}

// resolver returns the request-scoped resolver when present so role lookups
// are shared across the commands of one request.
func (e Engine) resolver(ctx context.Context) *auth.Resolver {
	if r := auth.FromContext(ctx); r != nil {
		return r
	}
	return auth.NewResolver(e.Repo)
}

func (e Engine) requireProject(ctx context.Context, tx *sql.Tx, projectID, actorID string, min domain.Role) (domain.Role, error) {
	if actorID == "" {
		return "", fmt.Errorf("%w: actor required", domain.ErrForbidden)
	}
	return e.resolver(ctx).RequireProject(ctx, tx, projectID, actorID, min)
}

func (e Engine) requireOrg(ctx context.Context, tx *sql.Tx, orgID, actorID string, min domain.Role) (domain.Role, error) {
	if actorID == "" {
		return "", fmt.Errorf("%w: actor required", domain.ErrForbidden)
	}
	return e.resolver(ctx).RequireOrg(ctx, tx, orgID, actorID, min)
}

// loadTask reads a task with its project and checks the actor's role on it.
func (e Engine) loadTask(ctx context.Context, tx *sql.Tx, taskID, actorID string, min domain.Role) (domain.Task, domain.Project, error) {
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return t, domain.Project{}, wrapNotFound(err, "task", taskID)
	}
	p, err := e.Repo.GetProject(ctx, tx, t.ProjectID)
	if err != nil {
		return t, p, err
	}
	if _, err := e.requireProject(ctx, tx, p.ID, actorID, min); err != nil {
		return t, p, err
	}
	return t, p, nil
}

// notify stores attention items for the notices. Each recipient runs in its
// own savepoint; a failing recipient is rolled back, logged and skipped.
func (e Engine) notify(ctx context.Context, tx *sql.Tx, notices []inbox.Notice) int {
	stored := 0
	now := e.stamp()
	for i, n := range notices {
		if n.Recipient == "" || n.Recipient == n.ActorID {
			continue
		}
		sp := fmt.Sprintf("attention_%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
			e.log().Warn("attention savepoint failed", "user_id", n.Recipient, "dedup_key", n.Key, "err", err)
			continue
		}
		if err := e.storeNotice(ctx, tx, n, now); err != nil {
			e.log().Warn("attention item skipped", "task_id", n.TaskID, "user_id", n.Recipient, "dedup_key", n.Key, "err", err)
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); rbErr != nil {
				e.log().Warn("attention rollback failed", "err", rbErr)
			}
		} else {
			stored++
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp); err != nil {
			e.log().Warn("attention release failed", "err", err)
		}
	}
	return stored
}

func (e Engine) storeNotice(ctx context.Context, tx *sql.Tx, n inbox.Notice, now string) error {
	item, err := e.Repo.UpsertAttentionItem(ctx, tx, n.Item(uuid.NewString(), now))
	if err != nil {
		return err
	}
	actor := n.ActorID
	if actor == "" {
		actor = SystemActor
	}
	return e.emit(ctx, tx, events.AttentionChanged, n.ProjectID, events.KindAttention, item.ID, actor, events.EventPayload{
		"user_id":   item.UserID,
		"type":      item.Type,
		"dedup_key": item.DedupKey,
	})
}

// responsible returns the users holding an owner or assignee assignment.
func (e Engine) responsible(ctx context.Context, tx *sql.Tx, taskID string) ([]string, error) {
	as, err := e.Repo.ListAssignments(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, a := range as {
		if a.Role.Responsible() {
			out = append(out, a.UserID)
		}
	}
	return out, nil
}

func wrapNotFound(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
	}
	return err
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
