// Package inbox turns domain events into per-user attention notices.
//
// Each event family maps to a recipient set, a canonical dedup key and a
// priority. The actor of an event never receives a notice for it.
package inbox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"taskflow/internal/domain"
)

// MaxKeyLen is the byte limit on dedup keys.
const MaxKeyLen = 200

const (
	hourLayout = "2006-01-02T15"
	dateLayout = domain.DateLayout
)

// Key joins parts with ':' and shortens the result to MaxKeyLen bytes by
// replacing the tail with a digest of the full key.
func Key(parts ...string) string {
	k := strings.Join(parts, ":")
	if len(k) <= MaxKeyLen {
		return k
	}
	sum := sha256.Sum256([]byte(k))
	digest := hex.EncodeToString(sum[:])
	cut := MaxKeyLen - len(digest) - 1
	for cut > 0 && !utf8.RuneStart(k[cut]) {
		cut--
	}
	return k[:cut] + "#" + digest
}

func HourBucket(t time.Time) string { return t.UTC().Format(hourLayout) }

func DateBucket(t time.Time) string { return t.UTC().Format(dateLayout) }

func AssignmentKey(taskID string) string { return Key("assignment", taskID) }

func UnassignmentKey(taskID string, now time.Time) string {
	return Key("unassignment", taskID, DateBucket(now))
}

func StatusKey(taskID, stageID string) string { return Key("status", taskID, stageID) }

func ApprovalKey(taskID string) string { return Key("approval", taskID) }

func CommentKey(taskID string, now time.Time) string {
	return Key("comment", taskID, HourBucket(now))
}

func CommentCreatorKey(taskID string, now time.Time) string {
	return Key("comment", taskID, "creator", HourBucket(now))
}

func MentionKey(commentID, userID string) string { return Key("mention", commentID, userID) }

func DueSoonKey(taskID, due string) string { return Key("due_soon", taskID, due) }

func OverdueKey(taskID, due string) string { return Key("overdue", taskID, due) }

// PriorityFor returns the default priority of an attention type.
func PriorityFor(t domain.AttentionType) domain.AttentionPriority {
	switch t {
	case domain.AttentionOverdue, domain.AttentionMention:
		return domain.AttentionUrgent
	case domain.AttentionAssignment, domain.AttentionDueSoon:
		return domain.AttentionHigh
	case domain.AttentionComment, domain.AttentionStatusChange:
		return domain.AttentionNormal
	}
	return domain.AttentionLow
}

// Notice is an attention item before it is stored.
type Notice struct {
	Recipient string
	Type      domain.AttentionType
	Priority  domain.AttentionPriority
	Key       string
	Title     string
	Body      string
	TaskID    string
	CommentID string
	MentionID string
	ProjectID string
	ActorID   string
}

// Item materializes the notice as a stored attention item.
func (n Notice) Item(id, now string) domain.AttentionItem {
	prio := n.Priority
	if prio == "" {
		prio = PriorityFor(n.Type)
	}
	return domain.AttentionItem{
		ID:        id,
		UserID:    n.Recipient,
		Type:      n.Type,
		Priority:  prio,
		Title:     n.Title,
		Body:      n.Body,
		TaskID:    ref(n.TaskID),
		CommentID: ref(n.CommentID),
		MentionID: ref(n.MentionID),
		ProjectID: ref(n.ProjectID),
		ActorID:   ref(n.ActorID),
		DedupKey:  n.Key,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Recipients returns the unique non-empty ids other than the actor, in order.
func Recipients(actorID string, candidates ...string) []string {
	var out []string
	seen := map[string]bool{actorID: true, "": true}
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// TaskRef is the slice of a task notices need.
type TaskRef struct {
	ID        string
	ProjectID string
	Title     string
	CreatedBy string
	DueDate   string
}

func RefOf(t domain.Task) TaskRef {
	due := ""
	if t.DueDate != nil {
		due = *t.DueDate
	}
	return TaskRef{ID: t.ID, ProjectID: t.ProjectID, Title: t.Title, CreatedBy: t.CreatedBy, DueDate: due}
}

func base(t TaskRef, actorID string) Notice {
	return Notice{TaskID: t.ID, ProjectID: t.ProjectID, ActorID: actorID}
}

func fanout(n Notice, recipients []string) []Notice {
	out := make([]Notice, 0, len(recipients))
	for _, r := range recipients {
		if r == n.ActorID || r == "" {
			continue
		}
		c := n
		c.Recipient = r
		out = append(out, c)
	}
	return out
}

func Assigned(t TaskRef, userID, actorID string) []Notice {
	n := base(t, actorID)
	n.Type = domain.AttentionAssignment
	n.Key = AssignmentKey(t.ID)
	n.Title = fmt.Sprintf("You were assigned to %q", t.Title)
	return fanout(n, []string{userID})
}

func Unassigned(t TaskRef, userID, actorID string, now time.Time) []Notice {
	n := base(t, actorID)
	n.Type = domain.AttentionUnassignment
	n.Key = UnassignmentKey(t.ID, now)
	n.Title = fmt.Sprintf("You were unassigned from %q", t.Title)
	return fanout(n, []string{userID})
}

// StatusChanged notifies the task's responsible assignees of a stage change.
func StatusChanged(t TaskRef, stage domain.Stage, assignees []string, actorID string) []Notice {
	n := base(t, actorID)
	n.Type = domain.AttentionStatusChange
	n.Key = StatusKey(t.ID, stage.ID)
	n.Title = fmt.Sprintf("%q moved to %s", t.Title, stage.Name)
	return fanout(n, Recipients(actorID, assignees...))
}

// ApprovalDecided notifies assignees and the submitter of an approve or reject.
func ApprovalDecided(t TaskRef, approved bool, reason string, recipients []string, actorID string) []Notice {
	n := base(t, actorID)
	n.Type = domain.AttentionStatusChange
	n.Key = ApprovalKey(t.ID)
	if approved {
		n.Title = fmt.Sprintf("%q was approved", t.Title)
	} else {
		n.Title = fmt.Sprintf("%q was sent back", t.Title)
		n.Body = reason
		n.Priority = domain.AttentionHigh
	}
	return fanout(n, Recipients(actorID, recipients...))
}

// Commented notifies assignees and, separately, the creator. The two keys
// dedup independently, so a creator who is also an assignee holds both items.
// Users in skip (those mentioned by the comment) get the mention instead.
func Commented(t TaskRef, commentID, snippet string, assignees []string, skip map[string]bool, actorID string, now time.Time) []Notice {
	n := base(t, actorID)
	n.Type = domain.AttentionComment
	n.CommentID = commentID
	n.Title = fmt.Sprintf("New comment on %q", t.Title)
	n.Body = snippet

	var out []Notice
	n.Key = CommentKey(t.ID, now)
	for _, r := range Recipients(actorID, assignees...) {
		if skip[r] {
			continue
		}
		out = append(out, fanout(n, []string{r})...)
	}
	if t.CreatedBy != "" && !skip[t.CreatedBy] {
		n.Key = CommentCreatorKey(t.ID, now)
		out = append(out, fanout(n, []string{t.CreatedBy})...)
	}
	return out
}

func Mentioned(t TaskRef, commentID, mentionID, userID, snippet, actorID string) []Notice {
	n := base(t, actorID)
	n.Type = domain.AttentionMention
	n.CommentID = commentID
	n.MentionID = mentionID
	n.Key = MentionKey(commentID, userID)
	n.Title = fmt.Sprintf("You were mentioned on %q", t.Title)
	n.Body = snippet
	return fanout(n, []string{userID})
}

// DueSoon and Overdue come from the deadline sweep, which has no actor.
func DueSoon(t TaskRef, assignees []string) []Notice {
	n := base(t, "")
	n.Type = domain.AttentionDueSoon
	n.Key = DueSoonKey(t.ID, t.DueDate)
	n.Title = fmt.Sprintf("%q is due %s", t.Title, t.DueDate)
	return fanout(n, Recipients("", assignees...))
}

func Overdue(t TaskRef, assignees []string) []Notice {
	n := base(t, "")
	n.Type = domain.AttentionOverdue
	n.Key = OverdueKey(t.ID, t.DueDate)
	n.Title = fmt.Sprintf("%q is overdue (due %s)", t.Title, t.DueDate)
	return fanout(n, Recipients("", assignees...))
}
