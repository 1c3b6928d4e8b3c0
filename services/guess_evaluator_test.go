package services

import (
	"context"
	"encoding/json"
	"testing"

	"emojiparty/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplePieScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := PlayerID("alice"), PlayerID("bob")
	gameID, round := h.activeRound(t, "alice", "bob")
	require.Equal(t, alice, round.PresenterID)

	outcome, err := h.guesses.SubmitGuess(ctx, gameID, round.ID, "apple pie", bob, "bob")
	require.NoError(t, err)
	assert.True(t, outcome.Guess.IsCorrect)
	assert.Equal(t, 1.0, outcome.Guess.Similarity)
	require.True(t, outcome.Won)
	require.NotNil(t, outcome.Result)

	result := outcome.Result
	assert.Equal(t, models.EndReasonCorrectGuess, result.EndReason)
	assert.Equal(t, bob, result.WinnerID)
	assert.Equal(t, "bob", result.WinnerUsername)
	assert.Equal(t, "apple pie", result.CorrectAnswer)
	assert.Equal(t, 1, result.TotalGuesses)
	assert.Equal(t, 10, result.Scores[bob])
	assert.Equal(t, 5, result.Scores[alice])

	stored, err := h.repo.GetRound(ctx, gameID, round.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsEnded())
	assert.Equal(t, bob, stored.WinnerID)

	top := h.ledger.Top(ctx, DefaultCommunity, 10)
	require.Len(t, top, 2)
	assert.Equal(t, "bob", top[0].Username)
	assert.Equal(t, int64(10), top[0].Score)
	assert.Equal(t, "alice", top[1].Username)
	assert.Equal(t, int64(5), top[1].Score)

	_, err = h.guesses.SubmitGuess(ctx, gameID, round.ID, "apple pie", PlayerID("bob"), "bob")
	assert.True(t, IsKind(err, KindRoundNotActive), "%v", err)
}

func TestIncorrectGuessKeepsRoundActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID, round := h.activeRound(t, "alice", "bob")

	outcome, err := h.guesses.SubmitGuess(ctx, gameID, round.ID, "banana bread", PlayerID("bob"), "bob")
	require.NoError(t, err)
	assert.False(t, outcome.Guess.IsCorrect)
	assert.False(t, outcome.Won)
	assert.Nil(t, outcome.Result)

	stored, err := h.repo.GetRound(ctx, gameID, round.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive())

	events := h.eventsOfType(t, gameID, models.EventGuessSubmitted)
	require.Len(t, events, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Data, &payload))
	assert.Equal(t, "banana bread", payload["text"])
}

func TestCorrectGuessTextIsNotBroadcast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID, round := h.activeRound(t, "alice", "bob")

	_, err := h.guesses.SubmitGuess(ctx, gameID, round.ID, "aple pie", PlayerID("bob"), "bob")
	require.NoError(t, err)

	events := h.eventsOfType(t, gameID, models.EventGuessSubmitted)
	require.Len(t, events, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Data, &payload))
	assert.NotContains(t, payload, "text")
	assert.Equal(t, true, payload["is_correct"])
}

func TestDuplicateGuessesAreRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bob := PlayerID("bob")
	gameID, round := h.activeRound(t, "alice", "bob", "carol")

	_, err := h.guesses.SubmitGuess(ctx, gameID, round.ID, "Banana Bread", bob, "bob")
	require.NoError(t, err)

	for _, again := range []string{"banana bread", " banana  bread ", "BANANA BREAD"} {
		_, err := h.guesses.SubmitGuess(ctx, gameID, round.ID, again, bob, "bob")
		assert.True(t, IsKind(err, KindDuplicateGuess), "%q: %v", again, err)
	}

	_, err = h.guesses.SubmitGuess(ctx, gameID, round.ID, "banana bread", PlayerID("carol"), "carol")
	assert.NoError(t, err)

	n, err := h.repo.CountGuesses(ctx, gameID, round.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFailedGuessCanBeRetried(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bob := PlayerID("bob")
	gameID, round := h.activeRound(t, "alice", "bob")

	guessesKey := "game:" + gameID + ":round:" + round.ID + ":guesses"
	require.NoError(t, h.mr.Set(guessesKey, "not a list"))
	_, err := h.guesses.SubmitGuess(ctx, gameID, round.ID, "banana bread", bob, "bob")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindServer), "%v", err)

	h.mr.Del(guessesKey)
	outcome, err := h.guesses.SubmitGuess(ctx, gameID, round.ID, "banana bread", bob, "bob")
	require.NoError(t, err)
	assert.False(t, outcome.Guess.IsCorrect)

	n, err := h.repo.CountGuesses(ctx, gameID, round.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGuessRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID, round := h.activeRound(t, "alice", "bob")

	_, err := h.guesses.SubmitGuess(ctx, gameID, round.ID, "apple pie", PlayerID("alice"), "alice")
	assert.True(t, IsKind(err, KindPresenterCannotGuess), "%v", err)

	_, err = h.guesses.SubmitGuess(ctx, gameID, round.ID, "apple pie", PlayerID("mallory"), "mallory")
	assert.True(t, IsKind(err, KindPlayerNotInGame), "%v", err)

	_, err = h.guesses.SubmitGuess(ctx, gameID, round.ID, "   ", PlayerID("bob"), "bob")
	assert.True(t, IsKind(err, KindValidation), "%v", err)

	_, err = h.guesses.SubmitGuess(ctx, gameID, "missing", "apple pie", PlayerID("bob"), "bob")
	assert.True(t, IsKind(err, KindRoundNotFound), "%v", err)

	stored, err := h.repo.GetRound(ctx, gameID, round.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive())
}

func TestGuessAfterMarkerExpiredIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID, round := h.activeRound(t, "alice", "bob")

	require.NoError(t, h.repo.DeleteTimerMarker(ctx, gameID, round.ID))

	_, err := h.guesses.SubmitGuess(ctx, gameID, round.ID, "apple pie", PlayerID("bob"), "bob")
	assert.True(t, IsKind(err, KindRoundExpired), "%v", err)
}

func TestGuessOnWaitingRoundIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.lobbyGame(t, "alice", "bob")
	round, err := h.games.StartGame(ctx, gameID, PlayerID("alice"))
	require.NoError(t, err)

	_, err = h.guesses.SubmitGuess(ctx, gameID, round.ID, "apple pie", PlayerID("bob"), "bob")
	assert.True(t, IsKind(err, KindRoundNotActive), "%v", err)
}
