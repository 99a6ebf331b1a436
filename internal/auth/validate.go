package auth

import (
	"strings"

	"github.com/fpang/fc-registrar/internal/metrics"
	"github.com/fpang/fc-registrar/internal/registration"
	"github.com/rs/zerolog/log"
)

// ValidationError represents a specific kind of credential failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
	Err     error
}

// ValidationErrorType categorizes credential failures.
type ValidationErrorType int

const (
	// ErrTypeNoCredentials indicates no source produced a login.
	ErrTypeNoCredentials ValidationErrorType = iota
	// ErrTypeMalformed indicates the stored login is not "id:password".
	ErrTypeMalformed
	// ErrTypeCancelled indicates the operator dismissed the login dialog.
	ErrTypeCancelled
	// ErrTypeUnknown indicates an unknown error occurred.
	ErrTypeUnknown
)

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// parseCredentials splits a decrypted "id:password" line. The password may
// itself contain colons.
func parseCredentials(plain string) (registration.Credentials, error) {
	id, pw, ok := strings.Cut(strings.TrimSpace(plain), ":")
	creds := registration.Credentials{LoginID: strings.TrimSpace(id), Password: pw}
	if !ok {
		return registration.Credentials{}, &ValidationError{
			Type:    ErrTypeMalformed,
			Message: "credentials file must contain id:password",
		}
	}
	if err := ValidateCredentials(creds); err != nil {
		return registration.Credentials{}, err
	}
	return creds, nil
}

// ValidateCredentials checks that both halves of the login are present and
// single-line.
func ValidateCredentials(c registration.Credentials) error {
	switch {
	case c.LoginID == "" || c.Password == "":
		log.Error().Msg("Credentials are missing a login id or password")
		return &ValidationError{
			Type:    ErrTypeMalformed,
			Message: "login id and password are both required",
		}
	case strings.ContainsAny(c.LoginID, "\r\n") || strings.ContainsAny(c.Password, "\r\n"):
		return &ValidationError{
			Type:    ErrTypeMalformed,
			Message: "login id and password must be single-line",
		}
	}
	return nil
}

func recordSource(source string) {
	metrics.New("FcRegistrar").
		Dimension("Source", source).
		Count("CredentialSource").
		Flush()
}
