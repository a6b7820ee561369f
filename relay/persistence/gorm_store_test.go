package persistence

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/taskrelay/taskrelay/relay"
	"github.com/taskrelay/taskrelay/types"
)

func openTestStore(t *testing.T) *GormStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	store := NewGormStore(db, zap.NewNop())
	require.NoError(t, store.AutoMigrate())
	return store
}

// seedChain creates ranked collaborators alice(1), bob(2), carol(3) plus an
// unranked dave and an admin root.
func seedChain(t *testing.T, store Backend) {
	t.Helper()
	ctx := context.Background()

	for i, id := range []string{"alice", "bob", "carol"} {
		seq := i + 1
		require.NoError(t, store.CreateCollaborator(ctx, &relay.Collaborator{
			ID:          id,
			DisplayName: id,
			Role:        types.RoleCollaborator,
			Sequence:    &seq,
		}))
	}
	require.NoError(t, store.CreateCollaborator(ctx, &relay.Collaborator{
		ID:          "dave",
		DisplayName: "dave",
		Role:        types.RoleCollaborator,
	}))
	require.NoError(t, store.CreateCollaborator(ctx, &relay.Collaborator{
		ID:          "root",
		DisplayName: "root",
		Role:        types.RoleAdmin,
	}))
}

func chainIDs(t *testing.T, store Backend) []string {
	t.Helper()
	chain, err := store.Chain(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(chain))
	for _, c := range chain {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestGormStoreRankQueries(t *testing.T) {
	store := openTestStore(t)
	seedChain(t, store)
	ctx := context.Background()

	rank, err := store.RankOf(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, rank)

	_, err = store.RankOf(ctx, "ghost")
	assert.ErrorIs(t, err, relay.ErrUnknownCollaborator)

	_, err = store.RankOf(ctx, "root")
	assert.ErrorIs(t, err, relay.ErrUnranked)

	_, err = store.RankOf(ctx, "dave")
	assert.ErrorIs(t, err, relay.ErrUnranked)

	next, err := store.NextAfter(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "bob", next)

	_, err = store.NextAfter(ctx, 3)
	assert.ErrorIs(t, err, relay.ErrEndOfChain)

	assert.Equal(t, []string{"alice", "bob", "carol"}, chainIDs(t, store))
}

func TestGormStoreReorder(t *testing.T) {
	store := openTestStore(t)
	seedChain(t, store)
	ctx := context.Background()

	require.NoError(t, store.Reorder(ctx, []string{"carol", "alice", "bob"}))
	assert.Equal(t, []string{"carol", "alice", "bob"}, chainIDs(t, store))

	rank, err := store.RankOf(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, 1, rank)
}

func TestGormStoreReorderRejectsBadSets(t *testing.T) {
	store := openTestStore(t)
	seedChain(t, store)
	ctx := context.Background()

	cases := map[string][]string{
		"missing member":   {"alice", "bob"},
		"unknown member":   {"alice", "bob", "ghost"},
		"unranked member":  {"alice", "bob", "dave"},
		"duplicate member": {"alice", "alice", "bob"},
		"extra member":     {"alice", "bob", "carol", "dave"},
	}
	for name, ids := range cases {
		t.Run(name, func(t *testing.T) {
			err := store.Reorder(ctx, ids)
			assert.ErrorIs(t, err, relay.ErrInvalidReorder)
			assert.Equal(t, []string{"alice", "bob", "carol"}, chainIDs(t, store))
		})
	}
}

func TestGormStoreInsert(t *testing.T) {
	store := openTestStore(t)
	seedChain(t, store)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, "dave", 2))
	assert.Equal(t, []string{"alice", "dave", "bob", "carol"}, chainIDs(t, store))

	rank, err := store.RankOf(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, 4, rank)
}

func TestGormStoreInsertClampsPosition(t *testing.T) {
	store := openTestStore(t)
	seedChain(t, store)
	ctx := context.Background()

	// Far past the end lands at the tail.
	require.NoError(t, store.Insert(ctx, "dave", 99))
	assert.Equal(t, []string{"alice", "bob", "carol", "dave"}, chainIDs(t, store))
}

func TestGormStoreInsertRejectsRanked(t *testing.T) {
	store := openTestStore(t)
	seedChain(t, store)
	ctx := context.Background()

	err := store.Insert(ctx, "bob", 1)
	assert.ErrorIs(t, err, relay.ErrDuplicateInsert)

	err = store.Insert(ctx, "ghost", 1)
	assert.ErrorIs(t, err, relay.ErrUnknownCollaborator)

	err = store.Insert(ctx, "root", 1)
	assert.ErrorIs(t, err, relay.ErrUnranked)

	assert.Equal(t, []string{"alice", "bob", "carol"}, chainIDs(t, store))
}

func TestGormStoreDeleteCollaboratorCompactsRanks(t *testing.T) {
	store := openTestStore(t)
	seedChain(t, store)
	ctx := context.Background()

	require.NoError(t, store.DeleteCollaborator(ctx, "bob"))
	assert.Equal(t, []string{"alice", "carol"}, chainIDs(t, store))

	rank, err := store.RankOf(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, 2, rank)

	err = store.DeleteCollaborator(ctx, "bob")
	assert.ErrorIs(t, err, relay.ErrUnknownCollaborator)
}

func TestGormStoreTaskLifecycle(t *testing.T) {
	store := openTestStore(t)
	seedChain(t, store)
	ctx := context.Background()

	task := &relay.Task{
		Title:    "wire the staging rack",
		HolderID: "alice",
		Checklist: []relay.ChecklistItem{
			{Text: "label cables"},
			{Text: "test uplinks"},
		},
	}
	require.NoError(t, store.CreateTask(ctx, task))
	require.NotEmpty(t, task.ID)
	assert.Equal(t, relay.TaskStatusPending, task.Status)
	assert.Equal(t, int64(1), task.Version)

	loaded, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "wire the staging rack", loaded.Title)
	require.Len(t, loaded.Checklist, 2)
	assert.Equal(t, "label cables", loaded.Checklist[0].Text)

	loaded, err = store.UpdateTaskDetails(ctx, task.ID, "wire rack 7", "moved racks")
	require.NoError(t, err)
	assert.Equal(t, "wire rack 7", loaded.Title)
	assert.Equal(t, "moved racks", loaded.Description)

	loaded, err = store.AddChecklistItem(ctx, task.ID, "update inventory")
	require.NoError(t, err)
	require.Len(t, loaded.Checklist, 3)
	assert.Equal(t, "update inventory", loaded.Checklist[2].Text)

	loaded, err = store.SetChecklistItemDone(ctx, task.ID, loaded.Checklist[0].ID, true)
	require.NoError(t, err)
	assert.True(t, loaded.Checklist[0].Completed)

	loaded, err = store.CompleteTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, relay.TaskStatusCompleted, loaded.Status)
	assert.Equal(t, int64(2), loaded.Version)

	require.NoError(t, store.DeleteTask(ctx, task.ID))
	_, err = store.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, relay.ErrTaskNotFound)
}

func TestGormStoreListTasksFilters(t *testing.T) {
	store := openTestStore(t)
	seedChain(t, store)
	ctx := context.Background()

	for _, spec := range []struct {
		holder string
		status relay.TaskStatus
	}{
		{"alice", relay.TaskStatusPending},
		{"alice", relay.TaskStatusInProgress},
		{"bob", relay.TaskStatusPending},
	} {
		require.NoError(t, store.CreateTask(ctx, &relay.Task{
			Title:    "t",
			HolderID: spec.holder,
			Status:   spec.status,
		}))
	}

	tasks, err := store.ListTasks(ctx, TaskFilter{HolderID: "alice"})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tasks, err = store.ListTasks(ctx, TaskFilter{Status: relay.TaskStatusPending})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tasks, err = store.ListTasks(ctx, TaskFilter{HolderID: "bob", Status: relay.TaskStatusInProgress})
	require.NoError(t, err)
	assert.Empty(t, tasks)

	tasks, err = store.ListTasks(ctx, TaskFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestGormStoreUpdateTaskHolderVersionConflict(t *testing.T) {
	store := openTestStore(t)
	seedChain(t, store)
	ctx := context.Background()

	task := &relay.Task{Title: "t", HolderID: "alice"}
	require.NoError(t, store.CreateTask(ctx, task))

	updated, err := store.UpdateTaskHolder(ctx, task.ID, 1, "bob", relay.TaskStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, "bob", updated.HolderID)
	assert.Equal(t, int64(2), updated.Version)

	// Stale version loses.
	_, err = store.UpdateTaskHolder(ctx, task.ID, 1, "carol", relay.TaskStatusInProgress)
	assert.ErrorIs(t, err, relay.ErrVersionConflict)

	current, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", current.HolderID)
}

func TestGormStoreTransactRollsBack(t *testing.T) {
	store := openTestStore(t)
	seedChain(t, store)
	ctx := context.Background()

	task := &relay.Task{Title: "t", HolderID: "alice"}
	require.NoError(t, store.CreateTask(ctx, task))

	boom := assert.AnError
	err := store.Transact(ctx, func(view relay.TransferView) error {
		if _, err := view.UpdateTaskHolder(ctx, task.ID, 1, "bob", relay.TaskStatusInProgress); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	current, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", current.HolderID)
	assert.Equal(t, int64(1), current.Version)
}

func TestGormStoreActivityLog(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, relay.ActivityEntry{
		TaskID: "t1", FromHolder: "alice", ToHolder: "bob", ActorID: "alice",
	}))
	require.NoError(t, store.Append(ctx, relay.ActivityEntry{
		TaskID: "t1", FromHolder: "bob", ToHolder: "carol", ActorID: "bob",
	}))
	require.NoError(t, store.Append(ctx, relay.ActivityEntry{
		TaskID: "t2", FromHolder: "alice", ToHolder: "bob", ActorID: "root",
	}))

	entries, err := store.ListByTask(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "bob", entries[0].ToHolder)
	assert.Equal(t, "carol", entries[1].ToHolder)
}
