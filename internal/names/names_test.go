package names

import (
	"context"
	"errors"
	"math/rand/v2"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/spider-emissaries/internal/emissary"
)

var namePattern = regexp.MustCompile(`^[A-Z][a-z]+[A-Z][a-z]+\d{1,2}$`)

type lookupFunc func(ctx context.Context, name string) (emissary.User, error)

func (f lookupFunc) GetUser(ctx context.Context, name string) (emissary.User, error) {
	return f(ctx, name)
}

func TestNextIsDeterministicWithSeed(t *testing.T) {
	t.Parallel()

	a := New(rand.New(rand.NewPCG(1, 2)))
	b := New(rand.New(rand.NewPCG(1, 2)))
	for range 10 {
		name := a.Next()
		require.Regexp(t, namePattern, name)
		require.Equal(t, name, b.Next())
	}
}

func TestUnusedSkipsTakenNames(t *testing.T) {
	t.Parallel()

	seen := 0
	lookup := lookupFunc(func(_ context.Context, name string) (emissary.User, error) {
		seen++
		if seen < 3 {
			return emissary.User{Name: name}, nil
		}
		return emissary.User{}, emissary.ErrNotFound
	})

	name, err := New(nil).Unused(context.Background(), lookup)
	require.NoError(t, err)
	require.Regexp(t, namePattern, name)
	require.Equal(t, 3, seen)
}

func TestUnusedErrors(t *testing.T) {
	t.Parallel()

	taken := lookupFunc(func(_ context.Context, name string) (emissary.User, error) {
		return emissary.User{Name: name}, nil
	})
	_, err := New(nil).Unused(context.Background(), taken)
	require.ErrorIs(t, err, ErrExhausted)

	boom := errors.New("db down")
	broken := lookupFunc(func(context.Context, string) (emissary.User, error) {
		return emissary.User{}, boom
	})
	_, err = New(nil).Unused(context.Background(), broken)
	require.ErrorIs(t, err, boom)
}
