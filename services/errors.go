package services

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ErrorKind is the closed taxonomy of failures the core can surface.
// Handlers map kinds to HTTP statuses; the reason string is short and
// safe to forward into a notification payload.
type ErrorKind string

const (
	KindNotFound           ErrorKind = "not_found"
	KindPermissionDenied   ErrorKind = "permission_denied"
	KindInvalidState       ErrorKind = "invalid_state"
	KindRosterFull         ErrorKind = "roster_full"
	KindListsLocked        ErrorKind = "lists_locked"
	KindAlreadySubmitted   ErrorKind = "already_submitted"
	KindRitualTimeout      ErrorKind = "ritual_timeout"
	KindNoEligiblePlayers  ErrorKind = "no_eligible_players"
	KindFormatUnsupported  ErrorKind = "format_unsupported"
	KindDuplicateTeamName  ErrorKind = "duplicate_team_name"
	KindBelowMinimumRoster ErrorKind = "below_minimum_roster"
	KindRoundIncomplete    ErrorKind = "round_incomplete"
	KindIllegalAdjustment  ErrorKind = "illegal_adjustment"
	KindStoreConflict      ErrorKind = "store_conflict"
)

// Error carries a stable kind plus a human-readable reason. InvalidState
// additionally records the expected and observed states.
type Error struct {
	Kind   ErrorKind
	Reason string
	Want   string
	Have   string
}

func (e *Error) Error() string {
	if e.Kind == KindInvalidState && e.Want != "" {
		return fmt.Sprintf("%s: %s (want %s, have %s)", e.Kind, e.Reason, e.Want, e.Have)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// ErrInvalidState builds the one kind that carries structured context.
func ErrInvalidState(want, have, format string, args ...interface{}) *Error {
	return &Error{
		Kind:   KindInvalidState,
		Reason: fmt.Sprintf(format, args...),
		Want:   want,
		Have:   have,
	}
}

// IsKind reports whether err is a core Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == kind
}

var statusByKind = map[ErrorKind]int{
	KindNotFound:           fiber.StatusNotFound,
	KindPermissionDenied:   fiber.StatusForbidden,
	KindInvalidState:       fiber.StatusConflict,
	KindRosterFull:         fiber.StatusConflict,
	KindListsLocked:        fiber.StatusConflict,
	KindAlreadySubmitted:   fiber.StatusConflict,
	KindRitualTimeout:      fiber.StatusGatewayTimeout,
	KindNoEligiblePlayers:  fiber.StatusBadRequest,
	KindFormatUnsupported:  fiber.StatusBadRequest,
	KindDuplicateTeamName:  fiber.StatusConflict,
	KindBelowMinimumRoster: fiber.StatusConflict,
	KindRoundIncomplete:    fiber.StatusConflict,
	KindIllegalAdjustment:  fiber.StatusBadRequest,
	KindStoreConflict:      fiber.StatusConflict,
}

// Reply writes err as a JSON response. Core errors map to their status;
// anything else is a bare 500 — stack traces never leave the service.
func Reply(c *fiber.Ctx, err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		status, ok := statusByKind[ce.Kind]
		if !ok {
			status = fiber.StatusInternalServerError
		}
		body := fiber.Map{"error": ce.Reason, "kind": string(ce.Kind)}
		if ce.Kind == KindInvalidState && ce.Want != "" {
			body["want"] = ce.Want
			body["have"] = ce.Have
		}
		return c.Status(status).JSON(body)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}
