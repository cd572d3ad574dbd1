// Package markov implements a word-level Markov text model that can be
// trained from a corpus, combined with other models, and sampled for
// sentences that do not simply repeat the training text.
package markov

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
)

const (
	// DefaultStateSize is the number of preceding words each state tracks.
	DefaultStateSize = 2
	// DefaultTries bounds sampling attempts in MakeSentence.
	DefaultTries = 10

	maxOverlapRatio = 0.7
	maxOverlapTotal = 15
)

var (
	// ErrEmptyCorpus is returned when no sentence survives input filtering.
	ErrEmptyCorpus = errors.New("corpus has no usable sentences")
	// ErrStateSizeMismatch is returned when combining models of different state sizes.
	ErrStateSizeMismatch = errors.New("models have different state sizes")
)

// Text is a trained model plus the sentences it was trained from. The
// sentences back the originality check in MakeSentence.
type Text struct {
	chain     *chain
	sentences [][]string
	rejoined  string
	rng       *rand.Rand
}

// New trains a model on corpus.
func New(corpus string, stateSize int) (*Text, error) {
	if stateSize <= 0 {
		return nil, fmt.Errorf("state size must be > 0, got %d", stateSize)
	}
	var sentences [][]string
	for _, s := range splitSentences(corpus) {
		if !acceptInput(s) {
			continue
		}
		words := strings.Fields(s)
		if len(words) == 0 {
			continue
		}
		sentences = append(sentences, words)
	}
	if len(sentences) == 0 {
		return nil, ErrEmptyCorpus
	}
	c := newChain(stateSize)
	for _, words := range sentences {
		c.train(words)
	}
	return build(c, sentences), nil
}

// Combine merges models into one. A nil weights slice weighs every model
// equally; otherwise it must have one entry per model.
func Combine(models []*Text, weights []float64) (*Text, error) {
	if len(models) == 0 {
		return nil, errors.New("combine requires at least one model")
	}
	if weights != nil && len(weights) != len(models) {
		return nil, fmt.Errorf("got %d weights for %d models", len(weights), len(models))
	}
	stateSize := models[0].StateSize()
	c := newChain(stateSize)
	var sentences [][]string
	for i, m := range models {
		if m == nil {
			return nil, fmt.Errorf("model %d is nil", i)
		}
		if m.StateSize() != stateSize {
			return nil, ErrStateSizeMismatch
		}
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		c.merge(m.chain, w)
		sentences = append(sentences, m.sentences...)
	}
	return build(c, sentences), nil
}

func build(c *chain, sentences [][]string) *Text {
	joined := make([]string, len(sentences))
	for i, words := range sentences {
		joined[i] = strings.Join(words, " ")
	}
	return &Text{
		chain:     c,
		sentences: sentences,
		rejoined:  strings.Join(joined, " "),
	}
}

// WithRand fixes the random source used for sampling. The source is not
// safe for concurrent use, so this is meant for tests and single-goroutine
// callers.
func (t *Text) WithRand(rng *rand.Rand) *Text {
	t.rng = rng
	return t
}

// StateSize reports the number of words per chain state.
func (t *Text) StateSize() int {
	return t.chain.stateSize
}

// SentenceCount reports how many training sentences back the model.
func (t *Text) SentenceCount() int {
	return len(t.sentences)
}

// MakeSentence samples up to tries sentences and returns the first one that
// does not overlap the training text too closely.
func (t *Text) MakeSentence(tries int) (string, bool) {
	if tries <= 0 {
		tries = DefaultTries
	}
	for range tries {
		words := t.chain.walk(t.rng)
		if len(words) == 0 {
			continue
		}
		if t.original(words) {
			return strings.Join(words, " "), true
		}
	}
	return "", false
}

// original rejects output that copies a run of more than
// min(15, round(0.7*len)) consecutive words from the training text.
func (t *Text) original(words []string) bool {
	overlapMax := int(math.RoundToEven(maxOverlapRatio * float64(len(words))))
	if overlapMax > maxOverlapTotal {
		overlapMax = maxOverlapTotal
	}
	window := overlapMax + 1
	grams := max(len(words)-overlapMax, 1)
	for i := range grams {
		stop := min(i+window, len(words))
		if strings.Contains(t.rejoined, strings.Join(words[i:stop], " ")) {
			return false
		}
	}
	return true
}

type modelJSON struct {
	StateSize int              `json:"state_size"`
	Chain     []transitionJSON `json:"chain"`
	Sentences [][]string       `json:"sentences"`
}

type transitionJSON struct {
	State   []string  `json:"state"`
	Words   []string  `json:"words"`
	Weights []float64 `json:"weights"`
}

// MarshalJSON encodes the model with states in sorted order.
func (t *Text) MarshalJSON() ([]byte, error) {
	out := modelJSON{
		StateSize: t.chain.stateSize,
		Chain:     make([]transitionJSON, 0, len(t.chain.transitions)),
		Sentences: t.sentences,
	}
	for _, key := range t.chain.sortedKeys() {
		succ := t.chain.transitions[key]
		out.Chain = append(out.Chain, transitionJSON{
			State:   strings.Split(key, " "),
			Words:   succ.words,
			Weights: succ.weights,
		})
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a model written by MarshalJSON.
func (t *Text) UnmarshalJSON(data []byte) error {
	var in modelJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.StateSize <= 0 {
		return fmt.Errorf("invalid state size %d", in.StateSize)
	}
	c := newChain(in.StateSize)
	for _, tr := range in.Chain {
		if len(tr.State) != in.StateSize {
			return fmt.Errorf("state %v does not have %d words", tr.State, in.StateSize)
		}
		if len(tr.Words) != len(tr.Weights) {
			return fmt.Errorf("state %v has %d words and %d weights", tr.State, len(tr.Words), len(tr.Weights))
		}
		key := stateKey(tr.State)
		for i, word := range tr.Words {
			c.addTransition(key, word, tr.Weights[i])
		}
	}
	*t = *build(c, in.Sentences)
	return nil
}

// FromJSON decodes a serialized model.
func FromJSON(data []byte) (*Text, error) {
	var t Text
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	return &t, nil
}
