package auth

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fpang/fc-registrar/internal/registration"
	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
)

const (
	credentialDir  = ".fc-registrar"
	credentialFile = "credentials.gpg"
)

// promptCredentials asks the operator for the login. Replaced in tests.
var promptCredentials = func() (string, string, error) {
	return zenity.Password(
		zenity.Title("fc.jl-db.jp login"),
		zenity.Username(),
	)
}

// GetCredentials retrieves the site login from available sources.
// Priority order:
//  1. FC_LOGIN_ID and FC_PASSWORD environment variables
//  2. GPG-encrypted "id:password" file at ~/.fc-registrar/credentials.gpg
//  3. a password dialog, when interactive is true
func GetCredentials(interactive bool) (registration.Credentials, error) {
	id, pw := os.Getenv("FC_LOGIN_ID"), os.Getenv("FC_PASSWORD")
	if id != "" && pw != "" {
		log.Debug().Msg("Using credentials from environment variables")
		recordSource("env")
		return registration.Credentials{LoginID: id, Password: pw}, nil
	}

	plain, gpgErr := getFromGPG()
	if gpgErr == nil && plain != "" {
		creds, err := parseCredentials(plain)
		if err != nil {
			return registration.Credentials{}, err
		}
		log.Debug().Msg("Using credentials from GPG encrypted file")
		recordSource("gpg")
		return creds, nil
	}

	if interactive {
		id, pw, err := promptCredentials()
		if errors.Is(err, zenity.ErrCanceled) {
			return registration.Credentials{}, &ValidationError{
				Type:    ErrTypeCancelled,
				Message: "login dialog was cancelled",
			}
		}
		if err != nil {
			return registration.Credentials{}, &ValidationError{
				Type:    ErrTypeUnknown,
				Message: "login dialog failed",
				Err:     err,
			}
		}
		creds := registration.Credentials{LoginID: strings.TrimSpace(id), Password: pw}
		if err := ValidateCredentials(creds); err != nil {
			return registration.Credentials{}, err
		}
		recordSource("prompt")
		return creds, nil
	}

	log.Debug().Err(gpgErr).Msg("No credential source available")
	return registration.Credentials{}, &ValidationError{
		Type:    ErrTypeNoCredentials,
		Message: "site credentials not found. Set FC_LOGIN_ID and FC_PASSWORD or create " + filepath.Join("~", credentialDir, credentialFile),
		Err:     gpgErr,
	}
}

// getFromGPG decrypts the credentials file.
func getFromGPG() (string, error) {
	credPath, err := getCredentialPath()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(credPath); os.IsNotExist(err) {
		return "", fmt.Errorf("GPG credentials file not found at %s", credPath)
	}

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")

	args := []string{"--decrypt", "--quiet"}

	passphrasePath, err := getPassphrasePath()
	if err == nil {
		fi, statErr := os.Stat(passphrasePath)
		if statErr == nil {
			// Passphrase file must be owner-only.
			mode := fi.Mode().Perm()
			if mode&0077 != 0 {
				log.Warn().
					Str("passphrase_file", passphrasePath).
					Str("permissions", fmt.Sprintf("%04o", mode)).
					Msg("Passphrase file has insecure permissions (should be 0600); skipping")
			} else {
				log.Debug().Str("passphrase_file", passphrasePath).Msg("Using passphrase file for GPG decryption")
				args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", passphrasePath)
			}
		}
	}

	args = append(args, credPath)
	cmd := exec.Command("gpg", args...)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("GPG decryption failed: %s", string(exitErr.Stderr))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// getCredentialPath returns the full path to the credentials file.
func getCredentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}

// getPassphrasePath looks for .gpg-passphrase next to the executable, then
// in the working directory.
func getPassphrasePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}

	passphrasePath := filepath.Join(filepath.Dir(exe), ".gpg-passphrase")
	if _, err := os.Stat(passphrasePath); err == nil {
		return passphrasePath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return filepath.Join(cwd, ".gpg-passphrase"), nil
}
