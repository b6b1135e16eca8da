package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/domain"
)

func TestValidateWorkflow(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	ok := []string{
		`{"schema":1,"stages":[{"id":"todo","name":"To do","wip_mode":"warning","is_done_stage":false},{"id":"done","name":"Done","wip_mode":"strict","is_done_stage":true}]}`,
		`{"schema":1,"stages":[{"id":"s1","name":"Only","wip_limit":3,"wip_mode":"strict","is_done_stage":true}]}`,
	}
	for _, doc := range ok {
		assert.NoError(t, reg.ValidateWorkflow([]byte(doc)), doc)
	}

	bad := []string{
		`{"schema":2,"stages":[{"id":"s1","name":"x","wip_mode":"warning","is_done_stage":true}]}`,
		`{"schema":1,"stages":[]}`,
		`{"schema":1,"stages":[{"id":"s1","name":"x","wip_mode":"lenient","is_done_stage":true}]}`,
		`{"schema":1,"stages":[{"id":"s1","name":"x","wip_limit":-1,"wip_mode":"strict","is_done_stage":true}]}`,
		`{"schema":1,"stages":[{"id":"bad id","name":"x","wip_mode":"strict","is_done_stage":true}]}`,
		`{"schema":1,"stages":[{"id":"s1","name":"","wip_mode":"strict","is_done_stage":true}]}`,
		`{"schema":1,"stages":[{"id":"s1","name":"x","wip_mode":"strict","is_done_stage":true,"extra":1}]}`,
		`not json`,
	}
	for _, doc := range bad {
		err := reg.ValidateWorkflow([]byte(doc))
		require.Error(t, err, doc)
		assert.ErrorIs(t, err, domain.ErrStageConfigInvalid, doc)
	}
}

func TestCheckStages(t *testing.T) {
	two := 2
	neg := -1
	good := []domain.Stage{
		{ID: "s1", Name: "todo", WIPMode: domain.ModeWarning},
		{ID: "s2", Name: "doing", WIPMode: domain.ModeStrict, WIPLimit: &two},
		{ID: "s3", Name: "done", WIPMode: domain.ModeWarning, IsDone: true},
	}
	require.NoError(t, CheckStages(good))

	cases := map[string][]domain.Stage{
		"empty":     nil,
		"no done":   {{ID: "s1", Name: "a", WIPMode: domain.ModeWarning}},
		"two done":  {{ID: "s1", Name: "a", WIPMode: domain.ModeWarning, IsDone: true}, {ID: "s2", Name: "b", WIPMode: domain.ModeWarning, IsDone: true}},
		"duplicate": {{ID: "s1", Name: "a", WIPMode: domain.ModeWarning}, {ID: "s1", Name: "b", WIPMode: domain.ModeWarning, IsDone: true}},
		"negative":  {{ID: "s1", Name: "a", WIPMode: domain.ModeWarning, WIPLimit: &neg, IsDone: true}},
		"bad mode":  {{ID: "s1", Name: "a", WIPMode: "soft", IsDone: true}},
	}
	for name, stages := range cases {
		assert.ErrorIs(t, CheckStages(stages), domain.ErrStageConfigInvalid, name)
	}
}
