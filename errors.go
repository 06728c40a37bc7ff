package secretariat

import (
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidToken        = "INVALID_LOGIN_TOKEN"
	TextCodeTokenExpired        = "LOGIN_TOKEN_EXPIRED"
	TextCodeSessionExpired      = "SESSION_EXPIRED"
	TextCodeSessionMalformed    = "SESSION_MALFORMED"
	TextCodeSessionNotFound     = "SESSION_NOT_FOUND"
	TextCodeForbidden           = "FORBIDDEN"
	TextCodeInvalidInput        = "INVALID_INPUT"
	TextCodeCollaboratorFailure = "COLLABORATOR_FAILURE"
	TextCodeRecordNotFound      = "RECORD_NOT_FOUND"
)

// ErrInvalidToken is returned for unknown or already redeemed login tokens
var ErrInvalidToken = errors.New("invalid or already used login token", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeInvalidToken)

// ErrExpiredToken is returned when a login token is past its expiration
var ErrExpiredToken = errors.New("login token has expired", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeTokenExpired)

// ErrSessionExpired session cookie holds an expired JWT
var ErrSessionExpired = errors.New("session has expired", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeSessionExpired)

// ErrSessionMalformed session cookie could not be decoded
var ErrSessionMalformed = errors.New("session is malformed", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeSessionMalformed)

// ErrUnableToFindSession is the error when our request has no session
var ErrUnableToFindSession = errors.New("unable to find session", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeSessionNotFound)

// ErrRecordNotFound the member has no directory record
var ErrRecordNotFound = errors.New("directory record not found", errors.CategoryNotFound).
	WithCode(errors.CodeNotFound).
	WithTextCode(TextCodeRecordNotFound)

// NewForbidden builds an authorization denial carrying a readable reason
func NewForbidden(reason string) *errors.Error {
	return errors.New(reason, errors.CategoryAuthz).
		WithCode(errors.CodeForbidden).
		WithTextCode(TextCodeForbidden)
}

// NewInvalidInput reports one or more payload validation failures
func NewInvalidInput(messages ...string) *errors.Error {
	return errors.New(strings.Join(messages, "; "), errors.CategoryValidation).
		WithCode(errors.CodeBadRequest).
		WithTextCode(TextCodeInvalidInput).
		WithMetadata(map[string]any{
			"errors": messages,
		})
}

// WrapCollaborator wraps a downstream failure with the step that failed
func WrapCollaborator(err error, step, message string) *errors.Error {
	return errors.Wrap(err, errors.CategoryInternal, message).
		WithCode(errors.CodeInternal).
		WithTextCode(TextCodeCollaboratorFailure).
		WithMetadata(map[string]any{
			"step": step,
		})
}

// IsInvalidToken reports whether err is ErrInvalidToken
func IsInvalidToken(err error) bool {
	return hasTextCode(err, TextCodeInvalidToken)
}

// IsExpiredToken reports whether err is ErrExpiredToken
func IsExpiredToken(err error) bool {
	return hasTextCode(err, TextCodeTokenExpired)
}

// IsForbidden reports an authorization denial
func IsForbidden(err error) bool {
	return hasTextCode(err, TextCodeForbidden)
}

// IsInvalidInput reports a payload validation failure
func IsInvalidInput(err error) bool {
	return hasTextCode(err, TextCodeInvalidInput)
}

// IsCollaboratorFailure reports a failed downstream call
func IsCollaboratorFailure(err error) bool {
	return hasTextCode(err, TextCodeCollaboratorFailure)
}

// IsRecordNotFound reports a missing directory record
func IsRecordNotFound(err error) bool {
	return hasTextCode(err, TextCodeRecordNotFound)
}

// ValidationMessages returns the accumulated messages of an invalid input error
func ValidationMessages(err error) []string {
	var richErr *errors.Error
	if !errors.As(err, &richErr) || richErr.TextCode != TextCodeInvalidInput {
		return nil
	}
	messages, _ := richErr.Metadata["errors"].([]string)
	return messages
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}
