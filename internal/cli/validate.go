package cli

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/fpang/fc-registrar/internal/auth"
	"github.com/fpang/fc-registrar/internal/registration"
	"github.com/rs/zerolog/log"
)

// Exit codes for a registration run.
const (
	ExitOK        = 0
	ExitFailed    = 1
	ExitInput     = 2
	ExitCancelled = 130
)

// ValidateAndResolveDirectory checks that the path exists and is a directory,
// then returns the absolute path. Exits fatally on failure.
func ValidateAndResolveDirectory(dirPath string) string {
	info, err := os.Stat(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Fatal().Str("path", dirPath).Msg("Directory not found")
		}
		log.Fatal().Err(err).Str("path", dirPath).Msg("Failed to access directory")
	}
	if !info.IsDir() {
		log.Fatal().Str("path", dirPath).Msg("Path is not a directory")
	}

	absPath, err := filepath.Abs(dirPath)
	if err == nil {
		dirPath = absPath
	}
	return dirPath
}

// HandleValidationError processes auth.ValidationError and exits with appropriate messaging.
func HandleValidationError(err error) {
	var validationErr *auth.ValidationError
	if errors.As(err, &validationErr) {
		switch validationErr.Type {
		case auth.ErrTypeNoCredentials:
			log.Fatal().Msg("No site credentials configured. Set FC_LOGIN_ID and FC_PASSWORD or create ~/.fc-registrar/credentials.gpg")
		case auth.ErrTypeMalformed:
			log.Fatal().Err(err).Msg("Stored credentials are malformed. Expected id:password")
		case auth.ErrTypeCancelled:
			log.Fatal().Msg("Login cancelled")
		default:
			log.Fatal().Err(err).Msg("Failed to resolve site credentials")
		}
	} else {
		log.Fatal().Err(err).Msg("unexpected error while resolving credentials")
	}
	os.Exit(ExitInput)
}

// HandleRunError logs an actionable message for a failed run and returns
// the process exit code.
func HandleRunError(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, registration.ErrAlreadyRun) {
		log.Error().Err(err).Msg("Workflow reused; each registration needs a fresh workflow")
		return ExitFailed
	}

	var re *registration.Error
	if !errors.As(err, &re) {
		log.Error().Err(err).Msg("Registration failed")
		return ExitFailed
	}

	ev := log.Error().Err(err).Str("step", re.Step).Str("kind", re.Kind.Slug())
	switch re.Kind {
	case registration.KindInvalidInput:
		ev.Msg("Record or batch is invalid. Fix the input and retry")
		return ExitInput
	case registration.KindCancelled:
		ev.Msg("Registration cancelled")
		return ExitCancelled
	case registration.KindElementNotFound:
		ev.Str("target", re.Target).Msg("Page element missing. The site layout may have changed; check the locator overrides")
	case registration.KindUnexpectedAlert:
		ev.Msg("The site rejected the input. Check the address and field values")
	case registration.KindUploadIncomplete:
		ev.Msg("Image uploads did not finish in time. Check the network and file sizes")
	case registration.KindSaveNotConfirmed:
		ev.Msg("Save was not confirmed. Check the site before retrying to avoid a duplicate entry")
	case registration.KindTimeout:
		ev.Str("target", re.Target).Msg("Timed out waiting for the page")
	case registration.KindSession:
		ev.Msg("Browser session failed. Check the Chrome installation")
	default:
		ev.Msg("Registration failed")
	}
	return ExitFailed
}
