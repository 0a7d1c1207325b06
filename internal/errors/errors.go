package errors

import "errors"

var (
	ErrInvalidVersion        = errors.New("version must be greater than 0")
	ErrInvalidArguments      = errors.New("invalid arguments")
	ErrCredentialMissing     = errors.New("credential is not configured")
	ErrConnectionString      = errors.New("malformed connection string")
	ErrUpload                = errors.New("firmware upload failed")
	ErrPublish               = errors.New("configuration publish failed")
	ErrConfigurationExists   = errors.New("configuration already exists")
	ErrConfigurationNotFound = errors.New("configuration not found")
	ErrPublishLocked         = errors.New("another deploy of this configuration is in progress")
	ErrReleaseNotFound       = errors.New("release not found")
)

// Exit codes returned by the ota binary.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitCredentials = 3
	ExitUpload      = 4
	ExitPublish     = 5
	ExitConflict    = 6
)

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInvalidVersion), errors.Is(err, ErrInvalidArguments):
		return ExitUsage
	case errors.Is(err, ErrCredentialMissing), errors.Is(err, ErrConnectionString):
		return ExitCredentials
	case errors.Is(err, ErrConfigurationExists), errors.Is(err, ErrPublishLocked):
		return ExitConflict
	case errors.Is(err, ErrUpload):
		return ExitUpload
	case errors.Is(err, ErrPublish):
		return ExitPublish
	default:
		return ExitFailure
	}
}
