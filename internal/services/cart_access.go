package services

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/cartledger/api/internal/repositories"
)

// HashToken derives the stored form of an anonymous cart access token. The
// plaintext token is never persisted or compared directly.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// buildCartSelector turns the caller's identity into a storage selector. An
// authenticated account takes precedence over a token. A caller with neither
// cannot address an anonymous cart, which is reported as not found so the two
// failure paths stay indistinguishable.
func buildCartSelector(cartID string, owner CartOwner) (repositories.CartSelector, error) {
	id := strings.TrimSpace(cartID)
	if id == "" {
		return repositories.CartSelector{}, ErrCartInvalidParam
	}

	if accountID := strings.TrimSpace(owner.AccountID); accountID != "" {
		return repositories.CartSelector{CartID: id, AccountID: accountID}, nil
	}
	if token := strings.TrimSpace(owner.CartToken); token != "" {
		return repositories.CartSelector{CartID: id, TokenHash: HashToken(token)}, nil
	}
	return repositories.CartSelector{}, ErrCartNotFound
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
		return ErrCartUnavailable
	}
	return ErrCartUnavailable
}
