// Package names generates display names for simulated chat users.
package names

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/JakeFAU/spider-emissaries/internal/emissary"
)

const defaultAttempts = 25

// ErrExhausted is returned when every attempt produced a taken name.
var ErrExhausted = errors.New("no unused name found")

var adjectives = []string{
	"Amber", "Brisk", "Clever", "Dusty", "Eager", "Fuzzy", "Gentle", "Hollow",
	"Idle", "Jolly", "Keen", "Lucky", "Misty", "Nimble", "Odd", "Plucky",
	"Quiet", "Rusty", "Silent", "Tangled", "Untold", "Velvet", "Wily", "Zesty",
}

var nouns = []string{
	"Spider", "Emissary", "Weaver", "Thread", "Lantern", "Courier", "Harbor",
	"Moth", "Raven", "Comet", "Pilgrim", "Marble", "Signal", "Archive",
	"Wanderer", "Sparrow", "Beacon", "Herald", "Mirror", "Cipher",
}

// UserLookup is the part of emissary.UserStore a Generator needs.
type UserLookup interface {
	GetUser(ctx context.Context, name string) (emissary.User, error)
}

// Generator builds names like "QuietSpider42".
type Generator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	attempts int
}

// New returns a Generator. A nil rng uses a randomly seeded source.
func New(rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Generator{rng: rng, attempts: defaultAttempts}
}

// Next returns a random name without checking whether it is taken.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	adj := adjectives[g.rng.IntN(len(adjectives))]
	noun := nouns[g.rng.IntN(len(nouns))]
	return fmt.Sprintf("%s%s%d", adj, noun, g.rng.IntN(100))
}

// Unused returns a name no existing user has.
func (g *Generator) Unused(ctx context.Context, users UserLookup) (string, error) {
	for range g.attempts {
		name := g.Next()
		_, err := users.GetUser(ctx, name)
		switch {
		case errors.Is(err, emissary.ErrNotFound):
			return name, nil
		case err != nil:
			return "", fmt.Errorf("check name %q: %w", name, err)
		}
	}
	return "", ErrExhausted
}
