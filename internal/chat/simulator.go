// Package chat runs the background loop that makes simulated users talk.
package chat

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/spider-emissaries/internal/emissary"
	"github.com/JakeFAU/spider-emissaries/internal/metrics"
)

// Outcome describes what one simulator step did.
type Outcome string

const (
	// OutcomeNoUsers means nobody is enrolled yet.
	OutcomeNoUsers Outcome = "no_users"
	// OutcomeNoModel means the picked user has no usable model.
	OutcomeNoModel Outcome = "no_model"
	// OutcomeEmpty means the model produced no sentence.
	OutcomeEmpty Outcome = "empty"
	// OutcomePosted means a message was appended to the chat.
	OutcomePosted Outcome = "posted"
	// OutcomeFailed means a store or model call returned an error.
	OutcomeFailed Outcome = "error"
)

// DefaultTopic is the event name attached to published chat messages.
const DefaultTopic = "chat.message"

// Store is the part of emissary.Store the simulator uses.
type Store interface {
	RandomUser(ctx context.Context) (emissary.User, error)
	AppendChat(ctx context.Context, msg emissary.ChatMessage) (emissary.ChatMessage, error)
}

// SentenceGenerator produces a sentence from a stored model.
type SentenceGenerator interface {
	GenerateSentence(ctx context.Context, label string) (string, error)
}

// Config controls the delay between steps.
type Config struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	Topic    string
}

// Deps bundles the simulator collaborators. Publisher, Logger and Rand are
// optional.
type Deps struct {
	Store     Store
	Models    SentenceGenerator
	Clock     emissary.Clock
	Sleeper   emissary.Sleeper
	Publisher emissary.Publisher
	Logger    *zap.Logger
	Rand      *rand.Rand
}

// Simulator picks a random user on every tick and posts a sentence from
// that user's model.
type Simulator struct {
	cfg       Config
	store     Store
	models    SentenceGenerator
	clock     emissary.Clock
	sleeper   emissary.Sleeper
	publisher emissary.Publisher
	logger    *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New validates deps and builds a Simulator.
func New(cfg Config, deps Deps) (*Simulator, error) {
	if deps.Store == nil || deps.Models == nil {
		return nil, fmt.Errorf("store and sentence generator are required")
	}
	if deps.Clock == nil || deps.Sleeper == nil {
		return nil, fmt.Errorf("clock and sleeper are required")
	}
	if cfg.MinDelay <= 0 {
		return nil, fmt.Errorf("min delay must be > 0")
	}
	if cfg.MaxDelay < cfg.MinDelay {
		return nil, fmt.Errorf("max delay must be >= min delay")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Simulator{
		cfg:       cfg,
		store:     deps.Store,
		models:    deps.Models,
		clock:     deps.Clock,
		sleeper:   deps.Sleeper,
		publisher: deps.Publisher,
		logger:    logger,
		rng:       rng,
	}, nil
}

// Run steps until ctx is canceled. The first step happens after MinDelay,
// later ones after NextDelay.
func (s *Simulator) Run(ctx context.Context) error {
	delay := s.cfg.MinDelay
	for {
		if err := s.sleeper.Sleep(ctx, delay); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("chat sleep: %w", err)
		}
		if _, err := s.Step(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("chat step failed", zap.Error(err))
		}
		delay = s.NextDelay()
	}
}

// NextDelay returns a uniform random duration in [MinDelay, MaxDelay].
func (s *Simulator) NextDelay() time.Duration {
	span := s.cfg.MaxDelay - s.cfg.MinDelay
	if span <= 0 {
		return s.cfg.MinDelay
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.MinDelay + time.Duration(s.rng.Int64N(int64(span)+1))
}

// Step runs one round: pick a user, generate a sentence, append it to the
// chat log, and publish it.
func (s *Simulator) Step(ctx context.Context) (outcome Outcome, err error) {
	defer func() {
		metrics.ObserveChatStep(string(outcome))
	}()

	user, err := s.store.RandomUser(ctx)
	if errors.Is(err, emissary.ErrNotFound) {
		return OutcomeNoUsers, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("pick user: %w", err)
	}
	if !user.HasModel() {
		return OutcomeNoModel, nil
	}
	label := *user.ModelLabel

	sentence, err := s.models.GenerateSentence(ctx, label)
	if errors.Is(err, emissary.ErrNotFound) {
		return OutcomeNoModel, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("generate sentence for %s: %w", user.Name, err)
	}
	if sentence == "" {
		s.logger.Debug("no sentence produced", zap.String("user", user.Name), zap.String("model_label", label))
		return OutcomeEmpty, nil
	}

	msg, err := s.store.AppendChat(ctx, emissary.ChatMessage{
		Time:       s.clock.Now(),
		UserID:     user.ID,
		ModelLabel: label,
		Message:    sentence,
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("append chat: %w", err)
	}
	if msg.UserName == "" {
		msg.UserName = user.Name
	}
	s.logger.Info("chat message posted",
		zap.Int64("id", msg.ID),
		zap.String("user", user.Name),
		zap.Int64("user_id", user.ID),
		zap.String("model_label", label),
	)

	if s.publisher != nil {
		if _, err := s.publisher.Publish(ctx, s.cfg.Topic, msg); err != nil {
			s.logger.Warn("publish chat message failed", zap.Int64("id", msg.ID), zap.Error(err))
		}
	}
	return OutcomePosted, nil
}
