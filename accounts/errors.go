package accounts

import (
	"errors"
	"fmt"
)

// ErrUnknownAccount is returned for any operation on an address the registry
// does not hold.
var ErrUnknownAccount = errors.New("unknown account")

// ErrDuplicateAccount is returned by Create if a record for the address is
// already persisted.
var ErrDuplicateAccount = errors.New("account already exists")

// ErrAccountLocked is returned by Sign while no signing capability is held
// for the account.
var ErrAccountLocked = NewAuthNeededError("password or unlock")

// ErrInvalidPassword is returned when a keystore does not decrypt with the
// supplied password.
var ErrInvalidPassword = errors.New("invalid password")

// ErrDecryption is returned for keystores that are malformed or use an
// unsupported format.
var ErrDecryption = errors.New("could not decrypt keystore")

var ErrInvalidNickname = errors.New("invalid nickname")

var ErrInvalidMethod = errors.New("invalid creation method")

// ErrAddressMismatch signals that a keystore or signing capability belongs to
// a different address than the account it was presented for.
var ErrAddressMismatch = errors.New("keystore address mismatch")

// AuthNeededError is returned by backends for signing requests where the user
// is required to provide further authentication before signing can succeed.
type AuthNeededError struct {
	Needed string
}

func NewAuthNeededError(needed string) error {
	return &AuthNeededError{
		Needed: needed,
	}
}

func (err *AuthNeededError) Error() string {
	return fmt.Sprintf("authentication needed: %s", err.Needed)
}
