// Package storetest holds behaviour checks shared by every emissary.Store
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/spider-emissaries/internal/emissary"
)

// Factory returns a fresh, empty store. It is called once per subtest.
type Factory func(t *testing.T) emissary.Store

// Run exercises the model, user, and chat contracts against newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	t.Run("Models", func(t *testing.T) { testModels(t, newStore(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("RandomUser", func(t *testing.T) { testRandomUser(t, newStore(t)) })
	t.Run("Chat", func(t *testing.T) { testChat(t, newStore(t)) })
}

func testModels(t *testing.T, store emissary.Store) {
	ctx := context.Background()

	_, err := store.GetModel(ctx, "abc")
	require.ErrorIs(t, err, emissary.ErrNotFound)
	ok, err := store.HasModel(ctx, "abc")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.PutModel(ctx, "abc", []byte(`{"state_size":2}`)))
	data, err := store.GetModel(ctx, "abc")
	require.NoError(t, err)
	require.JSONEq(t, `{"state_size":2}`, string(data))
	ok, err = store.HasModel(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)

	err = store.PutModel(ctx, "abc", []byte(`{"state_size":3}`))
	require.ErrorIs(t, err, emissary.ErrModelExists)
	data, err = store.GetModel(ctx, "abc")
	require.NoError(t, err)
	require.JSONEq(t, `{"state_size":2}`, string(data), "stored models are immutable")
}

func testUsers(t *testing.T, store emissary.Store) {
	ctx := context.Background()
	require.NoError(t, store.PutModel(ctx, "m1", []byte("{}")))
	require.NoError(t, store.PutModel(ctx, "m2", []byte("{}")))

	alice, err := store.CreateUser(ctx, "alice", nil)
	require.NoError(t, err)
	require.NotZero(t, alice.ID)
	require.False(t, alice.HasModel())

	_, err = store.CreateUser(ctx, "alice", nil)
	require.ErrorIs(t, err, emissary.ErrUserExists)

	missing := "nope"
	_, err = store.CreateUser(ctx, "bob", &missing)
	require.ErrorIs(t, err, emissary.ErrNotFound)

	m1 := "m1"
	bob, err := store.CreateUser(ctx, "bob", &m1)
	require.NoError(t, err)
	require.True(t, bob.HasModel())
	require.Equal(t, "m1", *bob.ModelLabel)
	require.Greater(t, bob.ID, alice.ID)

	got, err := store.GetUser(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, bob, got)
	_, err = store.GetUser(ctx, "carol")
	require.ErrorIs(t, err, emissary.ErrNotFound)

	updated, err := store.SetUserModel(ctx, "alice", "m2")
	require.NoError(t, err)
	require.Equal(t, alice.ID, updated.ID)
	require.Equal(t, "m2", *updated.ModelLabel)

	_, err = store.SetUserModel(ctx, "carol", "m1")
	require.ErrorIs(t, err, emissary.ErrNotFound)
	_, err = store.SetUserModel(ctx, "alice", "nope")
	require.ErrorIs(t, err, emissary.ErrNotFound)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, "alice", users[0].Name)
	require.Equal(t, "m2", *users[0].ModelLabel)
	require.Equal(t, "bob", users[1].Name)
}

func testRandomUser(t *testing.T, store emissary.Store) {
	ctx := context.Background()

	_, err := store.RandomUser(ctx)
	require.ErrorIs(t, err, emissary.ErrNotFound)

	names := map[string]bool{"alice": true, "bob": true, "carol": true}
	for name := range names {
		_, err := store.CreateUser(ctx, name, nil)
		require.NoError(t, err)
	}
	for range 10 {
		user, err := store.RandomUser(ctx)
		require.NoError(t, err)
		require.True(t, names[user.Name], "unexpected user %q", user.Name)
	}
}

func testChat(t *testing.T, store emissary.Store) {
	ctx := context.Background()
	require.NoError(t, store.PutModel(ctx, "m1", []byte("{}")))
	m1 := "m1"
	user, err := store.CreateUser(ctx, "alice", &m1)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	_, err = store.AppendChat(ctx, emissary.ChatMessage{Time: now, UserID: user.ID + 100, ModelLabel: "m1", Message: "x"})
	require.ErrorIs(t, err, emissary.ErrNotFound)
	_, err = store.AppendChat(ctx, emissary.ChatMessage{Time: now, UserID: user.ID, ModelLabel: "nope", Message: "x"})
	require.ErrorIs(t, err, emissary.ErrNotFound)

	var ids []int64
	for i, text := range []string{"first", "second", "third"} {
		msg, err := store.AppendChat(ctx, emissary.ChatMessage{
			Time:       now.Add(time.Duration(i) * time.Second),
			UserID:     user.ID,
			ModelLabel: "m1",
			Message:    text,
		})
		require.NoError(t, err)
		if len(ids) > 0 {
			require.Greater(t, msg.ID, ids[len(ids)-1])
		}
		ids = append(ids, msg.ID)
	}

	all, err := store.ListChat(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "first", all[0].Message)
	require.Equal(t, "alice", all[0].UserName)
	require.True(t, now.Equal(all[0].Time), "time %v", all[0].Time)
	require.Equal(t, "third", all[2].Message)

	after, err := store.ListChat(ctx, ids[0], 10)
	require.NoError(t, err)
	require.Len(t, after, 2)
	require.Equal(t, ids[1], after[0].ID)

	limited, err := store.ListChat(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, ids[0], limited[0].ID)

	none, err := store.ListChat(ctx, ids[2], 10)
	require.NoError(t, err)
	require.Empty(t, none)
}
