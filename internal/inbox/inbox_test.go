package inbox

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/domain"
)

var now = time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

func TestKeys(t *testing.T) {
	assert.Equal(t, "assignment:t1", AssignmentKey("t1"))
	assert.Equal(t, "unassignment:t1:2024-01-01", UnassignmentKey("t1", now))
	assert.Equal(t, "status:t1:s2", StatusKey("t1", "s2"))
	assert.Equal(t, "comment:t1:2024-01-01T09", CommentKey("t1", now))
	assert.Equal(t, "comment:t1:creator:2024-01-01T09", CommentCreatorKey("t1", now))
	assert.Equal(t, "mention:c1:u1", MentionKey("c1", "u1"))
	assert.Equal(t, "due_soon:t1:2024-01-02", DueSoonKey("t1", "2024-01-02"))
	assert.Equal(t, "overdue:t1:2024-01-02", OverdueKey("t1", "2024-01-02"))
}

func TestHourBucketUsesUTC(t *testing.T) {
	loc := time.FixedZone("x", 5*3600)
	assert.Equal(t, "2024-01-01T04", HourBucket(time.Date(2024, 1, 1, 9, 0, 0, 0, loc)))
}

func TestKeyCap(t *testing.T) {
	long := strings.Repeat("é", 150)
	k := Key("status", long, "s1")
	assert.LessOrEqual(t, len(k), MaxKeyLen)
	assert.True(t, utf8.ValidString(k))
	assert.Equal(t, k, Key("status", long, "s1"))
	assert.NotEqual(t, k, Key("status", long, "s2"))
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, domain.AttentionUrgent, PriorityFor(domain.AttentionOverdue))
	assert.Equal(t, domain.AttentionUrgent, PriorityFor(domain.AttentionMention))
	assert.Equal(t, domain.AttentionHigh, PriorityFor(domain.AttentionAssignment))
	assert.Equal(t, domain.AttentionHigh, PriorityFor(domain.AttentionDueSoon))
	assert.Equal(t, domain.AttentionNormal, PriorityFor(domain.AttentionComment))
	assert.Equal(t, domain.AttentionNormal, PriorityFor(domain.AttentionStatusChange))
	assert.Equal(t, domain.AttentionLow, PriorityFor(domain.AttentionUnassignment))
}

func TestActorSuppression(t *testing.T) {
	task := TaskRef{ID: "t1", ProjectID: "p1", Title: "Ship", CreatedBy: "carol"}
	assert.Empty(t, Assigned(task, "carol", "carol"))
	assert.Empty(t, Unassigned(task, "carol", "carol", now))
	assert.Empty(t, Mentioned(task, "c1", "m1", "carol", "", "carol"))

	got := StatusChanged(task, domain.Stage{ID: "s2", Name: "Doing"}, []string{"alice", "carol", "alice"}, "carol")
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].Recipient)
	assert.Equal(t, "status:t1:s2", got[0].Key)
}

func TestCommented(t *testing.T) {
	task := TaskRef{ID: "t1", ProjectID: "p1", Title: "Ship", CreatedBy: "dave"}

	got := Commented(task, "c1", "hello", []string{"alice", "bob"}, map[string]bool{"bob": true}, "carol", now)
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].Recipient)
	assert.Equal(t, CommentKey("t1", now), got[0].Key)
	assert.Equal(t, "dave", got[1].Recipient)
	assert.Equal(t, CommentCreatorKey("t1", now), got[1].Key)

	// a creator who is also an assignee holds both keys
	got = Commented(task, "c1", "hello", []string{"dave"}, nil, "carol", now)
	require.Len(t, got, 2)
	assert.Equal(t, "dave", got[0].Recipient)
	assert.Equal(t, CommentKey("t1", now), got[0].Key)
	assert.Equal(t, "dave", got[1].Recipient)
	assert.Equal(t, CommentCreatorKey("t1", now), got[1].Key)

	// creator commenting on their own task
	got = Commented(task, "c1", "hello", []string{"alice"}, nil, "dave", now)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].Recipient)
}

func TestSweepNotices(t *testing.T) {
	task := TaskRef{ID: "t1", ProjectID: "p1", Title: "Ship", DueDate: "2024-01-02"}
	due := DueSoon(task, []string{"alice", "bob"})
	require.Len(t, due, 2)
	assert.Equal(t, "due_soon:t1:2024-01-02", due[0].Key)
	assert.Equal(t, "", due[0].ActorID)

	over := Overdue(task, []string{"alice"})
	require.Len(t, over, 1)
	item := over[0].Item("id1", "2024-01-03T00:00:00Z")
	assert.Equal(t, domain.AttentionUrgent, item.Priority)
	assert.Nil(t, item.ActorID)
	require.NotNil(t, item.TaskID)
	assert.Equal(t, "t1", *item.TaskID)
}

func TestApprovalDecided(t *testing.T) {
	task := TaskRef{ID: "t1", Title: "Ship"}
	got := ApprovalDecided(task, false, "needs tests", []string{"alice", "owner"}, "owner")
	require.Len(t, got, 1)
	item := got[0].Item("id", "ts")
	assert.Equal(t, domain.AttentionHigh, item.Priority)
	assert.Equal(t, "needs tests", item.Body)
	assert.Equal(t, "approval:t1", item.DedupKey)
}
