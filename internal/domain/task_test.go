package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestRemoveRequirement(t *testing.T) {
	task := NewTask(uuid.New(), "x")
	task.Requires = datatypes.JSONSlice[string]{"a", "b"}
	task.RequiresLeft = datatypes.JSONSlice[string]{"a", "b"}

	assert.True(t, task.RemoveRequirement("a"))
	assert.Equal(t, datatypes.JSONSlice[string]{"b"}, task.RequiresLeft)
	assert.Equal(t, datatypes.JSONSlice[string]{"a", "b"}, task.Requires, "requires must stay untouched")

	assert.False(t, task.RemoveRequirement("a"), "second removal is a no-op")
	assert.False(t, task.Ready())

	assert.True(t, task.RemoveRequirement("b"))
	assert.True(t, task.Ready())
}

func TestAddDependents(t *testing.T) {
	task := NewTask(uuid.New(), "a")
	task.Dependents = datatypes.JSONSlice[string]{"b"}

	added := task.AddDependents("b", "c", "c", "d")
	assert.Equal(t, []string{"c", "d"}, added)
	assert.Equal(t, datatypes.JSONSlice[string]{"b", "c", "d"}, task.Dependents)

	assert.Empty(t, task.AddDependents("b", "d"))
	assert.Len(t, task.Dependents, 3)
}

func TestRerun(t *testing.T) {
	task := NewTask(uuid.New(), "a")
	task.RerunsAllowed, task.RerunsLeft = 1, 1

	assert.False(t, task.Rerun(), "unresolved tasks have nothing to rerun")

	task.Resolution = &Resolution{Success: false, Reason: "boom"}
	assert.False(t, task.FailedTerminally())
	require.True(t, task.Rerun())
	assert.Nil(t, task.Resolution)
	assert.Equal(t, 0, task.RerunsLeft)

	task.Resolution = &Resolution{Success: false}
	assert.False(t, task.Rerun())
	assert.True(t, task.FailedTerminally())

	task.Resolution = &Resolution{Success: true}
	assert.False(t, task.Rerun())
	assert.True(t, task.Succeeded())
}

func TestCloneIsIndependent(t *testing.T) {
	task := NewTask(uuid.New(), "a")
	task.RequiresLeft = datatypes.JSONSlice[string]{"x"}
	task.Resolution = &Resolution{Success: true, Output: []byte(`{}`)}

	c := task.Clone()
	c.RemoveRequirement("x")
	c.Resolution.Success = false
	c.AddDependents("y")

	assert.Equal(t, datatypes.JSONSlice[string]{"x"}, task.RequiresLeft)
	assert.True(t, task.Resolution.Success)
	assert.Empty(t, task.Dependents)
}

func TestParseTaskRef(t *testing.T) {
	ref := TaskRef{GraphID: uuid.New(), TaskID: "build-1"}

	parsed, err := ParseTaskRef(ref.String())
	require.NoError(t, err)
	assert.Equal(t, ref, parsed)

	for _, bad := range []string{"", "no-slash", uuid.NewString() + "/", "not-a-uuid/x"} {
		_, err := ParseTaskRef(bad)
		assert.Error(t, err, bad)
	}
}
