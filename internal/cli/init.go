package cli

import (
	"github.com/fpang/fc-registrar/internal/auth"
	"github.com/fpang/fc-registrar/internal/registration"
	"github.com/rs/zerolog/log"
)

// InitCredentials resolves the site login, prompting when interactive.
// Exits fatally when no source produces one.
func InitCredentials(interactive bool) registration.Credentials {
	creds, err := auth.GetCredentials(interactive)
	if err != nil {
		HandleValidationError(err)
	}
	log.Info().Str("loginId", creds.LoginID).Msg("Site credentials resolved")
	return creds
}
