package markov

import (
	"math/rand/v2"
	"sort"
	"strings"
)

const (
	begin = "___BEGIN__"
	end   = "___END__"
)

// successors keeps the next-word weights for one state in insertion order so
// that walks are reproducible under a seeded source.
type successors struct {
	words   []string
	weights []float64
	index   map[string]int
}

func newSuccessors() *successors {
	return &successors{index: make(map[string]int)}
}

func (s *successors) add(word string, weight float64) {
	if i, ok := s.index[word]; ok {
		s.weights[i] += weight
		return
	}
	s.index[word] = len(s.words)
	s.words = append(s.words, word)
	s.weights = append(s.weights, weight)
}

func (s *successors) choose(float func() float64) string {
	total := 0.0
	for _, w := range s.weights {
		total += w
	}
	r := float() * total
	for i, w := range s.weights {
		r -= w
		if r < 0 {
			return s.words[i]
		}
	}
	return s.words[len(s.words)-1]
}

// chain is a word-level Markov chain. States are the previous stateSize words
// joined by a single space; words never contain whitespace.
type chain struct {
	stateSize   int
	transitions map[string]*successors
}

func newChain(stateSize int) *chain {
	return &chain{
		stateSize:   stateSize,
		transitions: make(map[string]*successors),
	}
}

func (c *chain) beginState() []string {
	state := make([]string, c.stateSize)
	for i := range state {
		state[i] = begin
	}
	return state
}

func stateKey(state []string) string {
	return strings.Join(state, " ")
}

func (c *chain) addTransition(key, word string, weight float64) {
	succ, ok := c.transitions[key]
	if !ok {
		succ = newSuccessors()
		c.transitions[key] = succ
	}
	succ.add(word, weight)
}

// train adds one sentence with unit weight.
func (c *chain) train(words []string) {
	items := make([]string, 0, c.stateSize+len(words)+1)
	items = append(items, c.beginState()...)
	items = append(items, words...)
	items = append(items, end)
	for i := 0; i+c.stateSize < len(items); i++ {
		c.addTransition(stateKey(items[i:i+c.stateSize]), items[i+c.stateSize], 1)
	}
}

// merge folds other into c with counts scaled by weight.
func (c *chain) merge(other *chain, weight float64) {
	for _, key := range other.sortedKeys() {
		succ := other.transitions[key]
		for i, word := range succ.words {
			c.addTransition(key, word, succ.weights[i]*weight)
		}
	}
}

func (c *chain) sortedKeys() []string {
	keys := make([]string, 0, len(c.transitions))
	for k := range c.transitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// walk generates one sentence worth of words from the begin state.
func (c *chain) walk(rng *rand.Rand) []string {
	float := rand.Float64
	if rng != nil {
		float = rng.Float64
	}
	state := c.beginState()
	var words []string
	for {
		succ, ok := c.transitions[stateKey(state)]
		if !ok || len(succ.words) == 0 {
			return words
		}
		next := succ.choose(float)
		if next == end {
			return words
		}
		words = append(words, next)
		state = append(state[1:], next)
	}
}
