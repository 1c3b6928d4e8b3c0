package services

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable reason carried by a GameError.
type ErrorKind string

const (
	// validation
	KindValidation ErrorKind = "VALIDATION_ERROR"

	// state
	KindGameNotFound      ErrorKind = "GAME_NOT_FOUND"
	KindRoundNotFound     ErrorKind = "ROUND_NOT_FOUND"
	KindPhraseNotFound    ErrorKind = "PHRASE_NOT_FOUND"
	KindPlayerNotFound    ErrorKind = "PLAYER_NOT_FOUND"
	KindGameNotActive     ErrorKind = "GAME_NOT_ACTIVE"
	KindGameNotInLobby    ErrorKind = "GAME_ALREADY_STARTED"
	KindGameFull          ErrorKind = "GAME_FULL"
	KindNotEnoughPlayers  ErrorKind = "NOT_ENOUGH_PLAYERS"
	KindNoActivePlayers   ErrorKind = "NO_ACTIVE_PLAYERS"
	KindRoundInProgress   ErrorKind = "ROUND_IN_PROGRESS"
	KindRoundNotWaiting   ErrorKind = "ROUND_NOT_WAITING"
	KindRoundNotActive    ErrorKind = "ROUND_NOT_ACTIVE"
	KindRoundAlreadyEnded ErrorKind = "ROUND_ALREADY_ENDED"
	KindPlayerNotInGame   ErrorKind = "PLAYER_NOT_IN_GAME"
	KindPhraseExists      ErrorKind = "PHRASE_EXISTS"
	KindCatalogReadOnly   ErrorKind = "CATALOG_READ_ONLY"

	// authorization
	KindNotModerator         ErrorKind = "NOT_MODERATOR"
	KindNotPresenter         ErrorKind = "NOT_PRESENTER"
	KindPresenterCannotGuess ErrorKind = "PRESENTER_CANNOT_GUESS"
	KindUnauthorized         ErrorKind = "UNAUTHORIZED"
	KindForbidden            ErrorKind = "FORBIDDEN"

	// timing
	KindRoundExpired   ErrorKind = "ROUND_EXPIRED"
	KindDuplicateGuess ErrorKind = "DUPLICATE_GUESS"

	// infrastructure
	KindNoPhraseAvailable ErrorKind = "NO_PHRASE_AVAILABLE"
	KindServer            ErrorKind = "SERVER_ERROR"
)

// GameError is the single error type returned for rejected operations.
type GameError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *GameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GameError) Unwrap() error { return e.Err }

func newError(kind ErrorKind, format string, args ...any) *GameError {
	return &GameError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func serverError(message string, err error) *GameError {
	return &GameError{Kind: KindServer, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindServer for anything that is not a
// GameError.
func KindOf(err error) ErrorKind {
	var ge *GameError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindServer
}

// IsKind reports whether err is a GameError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ge *GameError
	return errors.As(err, &ge) && ge.Kind == kind
}
