package services

import (
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"emojiparty/models"
)

// SelectOptions narrows the phrase catalog for one selection. Empty slices
// mean no filter.
type SelectOptions struct {
	Categories   []string
	Difficulties []models.Difficulty
}

// PhraseSelector picks balanced, non-repeating phrases for a session.
type PhraseSelector struct {
	mu           sync.RWMutex
	catalog      []models.Phrase
	allowRepeats bool

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewPhraseSelector copies catalog. A nil rng seeds one from the clock.
func NewPhraseSelector(catalog []models.Phrase, allowRepeats bool, rng *rand.Rand) *PhraseSelector {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &PhraseSelector{
		catalog:      slices.Clone(catalog),
		allowRepeats: allowRepeats,
		rng:          rng,
	}
}

// Reload swaps the catalog.
func (s *PhraseSelector) Reload(catalog []models.Phrase) {
	s.mu.Lock()
	s.catalog = slices.Clone(catalog)
	s.mu.Unlock()
}

func (s *PhraseSelector) Catalog() []models.Phrase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.catalog)
}

// SelectRandomPhrase returns a phrase matching opts that the tracker has not
// seen, preferring the least used category or difficulty. It returns nil
// when nothing matches.
func (s *PhraseSelector) SelectRandomPhrase(tracker *models.SessionPhraseTracker, opts SelectOptions) *models.Phrase {
	s.mu.RLock()
	var filtered []models.Phrase
	for _, p := range s.catalog {
		if len(opts.Categories) > 0 && !slices.Contains(opts.Categories, p.Category) {
			continue
		}
		if len(opts.Difficulties) > 0 && !slices.Contains(opts.Difficulties, p.Difficulty) {
			continue
		}
		if !s.allowRepeats && tracker.UsedIDs[p.ID] {
			continue
		}
		filtered = append(filtered, p)
	}
	s.mu.RUnlock()

	if len(filtered) == 0 {
		return nil
	}

	candidates := balance(filtered, tracker)
	if len(candidates) == 0 {
		candidates = filtered
	}

	s.rngMu.Lock()
	picked := candidates[s.rng.IntN(len(candidates))]
	s.rngMu.Unlock()
	return &picked
}

// balance keeps the phrases whose category or difficulty is among the least
// used so far.
func balance(phrases []models.Phrase, tracker *models.SessionPhraseTracker) []models.Phrase {
	minCategory, minDifficulty := -1, -1
	for _, p := range phrases {
		if c := tracker.CategoryCounts[p.Category]; minCategory < 0 || c < minCategory {
			minCategory = c
		}
		if d := tracker.DifficultyCounts[p.Difficulty]; minDifficulty < 0 || d < minDifficulty {
			minDifficulty = d
		}
	}

	var balanced []models.Phrase
	for _, p := range phrases {
		if tracker.CategoryCounts[p.Category] == minCategory || tracker.DifficultyCounts[p.Difficulty] == minDifficulty {
			balanced = append(balanced, p)
		}
	}
	return balanced
}

// MarkUsed records one selection in the tracker.
func (s *PhraseSelector) MarkUsed(tracker *models.SessionPhraseTracker, phraseID, category string, difficulty models.Difficulty) {
	if tracker.UsedIDs == nil {
		tracker.UsedIDs = make(map[string]bool)
	}
	if tracker.CategoryCounts == nil {
		tracker.CategoryCounts = make(map[string]int)
	}
	if tracker.DifficultyCounts == nil {
		tracker.DifficultyCounts = make(map[models.Difficulty]int)
	}
	tracker.UsedIDs[phraseID] = true
	tracker.CategoryCounts[category]++
	tracker.DifficultyCounts[difficulty]++
}

func (s *PhraseSelector) Reset(tracker *models.SessionPhraseTracker) {
	*tracker = *models.NewSessionPhraseTracker()
}

// DefaultPhrases is the catalog used when no database is configured.
func DefaultPhrases() []models.Phrase {
	return []models.Phrase{
		{ID: "food-apple-pie", Text: "apple pie", Category: "food", Difficulty: models.DifficultyEasy, Hints: []string{"dessert", "fruit"}},
		{ID: "food-hot-dog", Text: "hot dog", Category: "food", Difficulty: models.DifficultyEasy, Hints: []string{"street food"}},
		{ID: "food-ice-cream", Text: "ice cream", Category: "food", Difficulty: models.DifficultyEasy, Hints: []string{"cold", "sweet"}},
		{ID: "food-fish-and-chips", Text: "fish and chips", Category: "food", Difficulty: models.DifficultyMedium, Hints: []string{"british"}},
		{ID: "food-birthday-cake", Text: "birthday cake", Category: "food", Difficulty: models.DifficultyMedium, Hints: []string{"candles"}},
		{ID: "movie-star-wars", Text: "star wars", Category: "movies", Difficulty: models.DifficultyEasy, Hints: []string{"space", "saga"}},
		{ID: "movie-jurassic-park", Text: "jurassic park", Category: "movies", Difficulty: models.DifficultyMedium, Hints: []string{"dinosaurs"}},
		{ID: "movie-finding-nemo", Text: "finding nemo", Category: "movies", Difficulty: models.DifficultyMedium, Hints: []string{"fish", "animated"}},
		{ID: "movie-the-lion-king", Text: "the lion king", Category: "movies", Difficulty: models.DifficultyMedium, Hints: []string{"africa"}},
		{ID: "movie-back-to-the-future", Text: "back to the future", Category: "movies", Difficulty: models.DifficultyHard, Hints: []string{"time travel"}},
		{ID: "phrase-rain-check", Text: "rain check", Category: "phrases", Difficulty: models.DifficultyMedium, Hints: []string{"later"}},
		{ID: "phrase-break-the-ice", Text: "break the ice", Category: "phrases", Difficulty: models.DifficultyMedium, Hints: []string{"start talking"}},
		{ID: "phrase-piece-of-cake", Text: "piece of cake", Category: "phrases", Difficulty: models.DifficultyEasy, Hints: []string{"easy"}},
		{ID: "phrase-once-in-a-blue-moon", Text: "once in a blue moon", Category: "phrases", Difficulty: models.DifficultyHard, Hints: []string{"rarely"}},
		{ID: "phrase-raining-cats-and-dogs", Text: "raining cats and dogs", Category: "phrases", Difficulty: models.DifficultyHard, Hints: []string{"weather"}},
		{ID: "place-eiffel-tower", Text: "eiffel tower", Category: "places", Difficulty: models.DifficultyEasy, Hints: []string{"paris"}},
		{ID: "place-north-pole", Text: "north pole", Category: "places", Difficulty: models.DifficultyEasy, Hints: []string{"santa"}},
		{ID: "place-great-wall-of-china", Text: "great wall of china", Category: "places", Difficulty: models.DifficultyHard, Hints: []string{"asia"}},
		{ID: "activity-road-trip", Text: "road trip", Category: "activities", Difficulty: models.DifficultyEasy, Hints: []string{"car"}},
		{ID: "activity-beach-party", Text: "beach party", Category: "activities", Difficulty: models.DifficultyMedium, Hints: []string{"summer"}},
	}
}
