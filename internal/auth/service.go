package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iliyamo/account-service/internal/model"
	"github.com/iliyamo/account-service/internal/repository"
)

// Notifier delivers rendered emails. Implementations are best-effort
// at-least-once channels; the orchestrator only ever calls Send after
// a transaction has committed, from a goroutine, and logs failures
// without surfacing them.
type Notifier interface {
	Send(to, subject, htmlBody string) error
}

// Config carries the read-only runtime parameters of the lifecycle
// engine. All fields are set once at startup.
type Config struct {
	AccessTTL time.Duration // lifetime of session tokens
	ResetTTL  time.Duration // lifetime of password-reset tokens
	BaseURL   string        // public base URL used in email links
}

// Service is the lifecycle orchestrator. Each operation runs its
// read-check-write sequence inside one storage transaction; the row
// lock taken by FindByIDForUpdate serializes concurrent mutations of
// the same identity, and the unique keys on username/email close the
// race between an existence check and an insert.
type Service struct {
	store  repository.Store
	hasher *Hasher
	tokens *TokenService
	notify Notifier
	cfg    Config
}

func NewService(store repository.Store, hasher *Hasher, tokens *TokenService, notify Notifier, cfg Config) *Service {
	return &Service{store: store, hasher: hasher, tokens: tokens, notify: notify, cfg: cfg}
}

// Register creates an UNVERIFIED identity with a hashed password,
// issues a session token and, after commit, enqueues the verification
// mail. The username+email pair must not already be registered.
func (s *Service) Register(ctx context.Context, username, email, phone, password string) (*model.Identity, string, error) {
	var (
		ident *model.Identity
		token string
	)
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.FindByUsernameAndEmail(ctx, username, email); err == nil {
			return ErrIdentityExists
		} else if !errors.Is(err, repository.ErrNotFound) {
			return StorageError(err)
		}

		hash, err := s.hasher.Hash(password)
		if err != nil {
			return err
		}
		ident = &model.Identity{
			Username:     username,
			Email:        email,
			Phone:        phone,
			PasswordHash: hash,
			Role:         model.RoleMember,
			Verification: model.Unverified,
		}
		if err := tx.Create(ctx, ident); err != nil {
			return s.mapStoreErr(err, ErrIdentityExists)
		}
		token, err = s.tokens.Issue(ident.ID, ident.Role, UseAccess, s.cfg.AccessTTL)
		return err
	})
	if err != nil {
		return nil, "", s.classify(err)
	}
	s.dispatchVerification(ident.Email, token)
	return ident, token, nil
}

// Login checks the password and the verification gate and issues a
// fresh session token. Unverified identities cannot log in.
func (s *Service) Login(ctx context.Context, username, password string) (*model.Identity, string, error) {
	var (
		ident *model.Identity
		token string
	)
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		ident, err = tx.FindByUsername(ctx, username)
		if err != nil {
			return s.mapStoreErr(err, ErrIdentityNotFound)
		}
		ok, err := s.hasher.Compare(password, ident.PasswordHash)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidCredentials
		}
		if !CanLogin(ident.Verification) {
			return ErrAccountUnverified
		}
		token, err = s.tokens.Issue(ident.ID, ident.Role, UseAccess, s.cfg.AccessTTL)
		return err
	})
	if err != nil {
		return nil, "", s.classify(err)
	}
	return ident, token, nil
}

// VerifyAccount consumes a session token from a verification link and
// promotes the identity to VERIFIED. The claims must still resolve to
// a live identity.
func (s *Service) VerifyAccount(ctx context.Context, token string) error {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return err
	}
	if claims.Use != UseAccess {
		return ErrTokenInvalid
	}
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.FindByIDForUpdate(ctx, claims.IdentityID); err != nil {
			return s.mapStoreErr(err, ErrIdentityNotFound)
		}
		verified := model.Verified
		return s.mapStoreErr(tx.UpdateFields(ctx, claims.IdentityID, repository.FieldPatch{
			Verification: &verified,
		}), ErrIdentityNotFound)
	})
	return s.classifyNil(err)
}

// KeepSession resolves already-verified claims back to the live
// identity, enforcing that the subject still exists and is not
// soft-deleted.
func (s *Service) KeepSession(ctx context.Context, claims *Claims) (*model.Identity, error) {
	var ident *model.Identity
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		ident, err = tx.FindByID(ctx, claims.IdentityID)
		return s.mapStoreErr(err, ErrIdentityNotFound)
	})
	if err != nil {
		return nil, s.classify(err)
	}
	return ident, nil
}

// ChangeUsername renames the identity, demotes it to UNVERIFIED and
// reissues the session token. The caller must own currentUsername and
// newUsername must be free.
func (s *Service) ChangeUsername(ctx context.Context, claims *Claims, currentUsername, newUsername string) (*model.Identity, string, error) {
	var (
		ident *model.Identity
		token string
	)
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		ident, err = tx.FindByIDForUpdate(ctx, claims.IdentityID)
		if err != nil {
			return s.mapStoreErr(err, ErrIdentityNotFound)
		}
		if ident.Username != currentUsername {
			return ErrIdentityNotFound
		}
		if _, err := tx.FindByUsername(ctx, newUsername); err == nil {
			return ErrIdentityExists
		} else if !errors.Is(err, repository.ErrNotFound) {
			return StorageError(err)
		}

		next := CredentialUsername.NextState(ident.Verification)
		if err := tx.UpdateFields(ctx, ident.ID, repository.FieldPatch{
			Username:     &newUsername,
			Verification: &next,
		}); err != nil {
			return s.mapStoreErr(err, ErrIdentityNotFound)
		}
		ident.Username = newUsername
		ident.Verification = next
		token, err = s.tokens.Issue(ident.ID, ident.Role, UseAccess, s.cfg.AccessTTL)
		return err
	})
	if err != nil {
		return nil, "", s.classify(err)
	}
	s.dispatchVerification(ident.Email, token)
	return ident, token, nil
}

// ChangeEmail moves the identity to a new contact address, demotes it
// to UNVERIFIED and reissues the session token. The verification mail
// goes to the new address, which must prove control of it.
func (s *Service) ChangeEmail(ctx context.Context, claims *Claims, currentEmail, newEmail string) (*model.Identity, string, error) {
	var (
		ident *model.Identity
		token string
	)
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		ident, err = tx.FindByIDForUpdate(ctx, claims.IdentityID)
		if err != nil {
			return s.mapStoreErr(err, ErrIdentityNotFound)
		}
		if ident.Email != currentEmail {
			return ErrEmailNotFound
		}
		if _, err := tx.FindByEmail(ctx, newEmail); err == nil {
			return ErrEmailExists
		} else if !errors.Is(err, repository.ErrNotFound) {
			return StorageError(err)
		}

		next := CredentialEmail.NextState(ident.Verification)
		if err := tx.UpdateFields(ctx, ident.ID, repository.FieldPatch{
			Email:        &newEmail,
			Verification: &next,
		}); err != nil {
			return s.mapStoreErr(err, ErrEmailExists)
		}
		ident.Email = newEmail
		ident.Verification = next
		token, err = s.tokens.Issue(ident.ID, ident.Role, UseAccess, s.cfg.AccessTTL)
		return err
	})
	if err != nil {
		return nil, "", s.classify(err)
	}
	s.dispatchVerification(ident.Email, token)
	return ident, token, nil
}

// ChangePhone updates the contact number. Phone is not a verification
// channel, so the verification state is untouched and no mail is sent.
func (s *Service) ChangePhone(ctx context.Context, claims *Claims, newPhone string) (*model.Identity, error) {
	var ident *model.Identity
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		ident, err = tx.FindByIDForUpdate(ctx, claims.IdentityID)
		if err != nil {
			return s.mapStoreErr(err, ErrIdentityNotFound)
		}
		next := CredentialPhone.NextState(ident.Verification)
		if err := tx.UpdateFields(ctx, ident.ID, repository.FieldPatch{
			Phone:        &newPhone,
			Verification: &next,
		}); err != nil {
			return s.mapStoreErr(err, ErrIdentityNotFound)
		}
		ident.Phone = newPhone
		return nil
	})
	if err != nil {
		return nil, s.classify(err)
	}
	return ident, nil
}

// ChangePassword rotates the password after checking the current one,
// demotes the identity to UNVERIFIED and reissues the session token.
func (s *Service) ChangePassword(ctx context.Context, claims *Claims, currentPassword, newPassword string) (*model.Identity, string, error) {
	var (
		ident *model.Identity
		token string
	)
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		ident, err = tx.FindByIDForUpdate(ctx, claims.IdentityID)
		if err != nil {
			return s.mapStoreErr(err, ErrIdentityNotFound)
		}
		ok, err := s.hasher.Compare(currentPassword, ident.PasswordHash)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidCredentials
		}
		hash, err := s.hasher.Hash(newPassword)
		if err != nil {
			return err
		}
		next := CredentialPassword.NextState(ident.Verification)
		if err := tx.UpdateFields(ctx, ident.ID, repository.FieldPatch{
			PasswordHash: &hash,
			Verification: &next,
		}); err != nil {
			return s.mapStoreErr(err, ErrIdentityNotFound)
		}
		ident.PasswordHash = hash
		ident.Verification = next
		token, err = s.tokens.Issue(ident.ID, ident.Role, UseAccess, s.cfg.AccessTTL)
		return err
	})
	if err != nil {
		return nil, "", s.classify(err)
	}
	s.dispatchVerification(ident.Email, token)
	return ident, token, nil
}

// ForgotPassword issues a short-lived reset token for the identity
// registered under email and, after the lookup transaction completes,
// enqueues the reset mail.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	var (
		ident *model.Identity
		token string
	)
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		ident, err = tx.FindByEmail(ctx, email)
		if err != nil {
			return s.mapStoreErr(err, ErrEmailNotFound)
		}
		token, err = s.tokens.Issue(ident.ID, ident.Role, UseReset, s.cfg.ResetTTL)
		return err
	})
	if err != nil {
		return "", s.classify(err)
	}
	s.dispatch(ident.Email, "Reset Password", fmt.Sprintf(
		`<h1>Click <a href="%s/v1/auth/reset-password/%s">here</a> to reset your password</h1>`,
		s.cfg.BaseURL, token))
	return token, nil
}

// ResetPassword consumes a reset token and installs the new password.
// Consuming the token proves control of the registered email, so the
// identity is promoted to VERIFIED rather than demoted.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	claims, err := s.tokens.Verify(resetToken)
	if err != nil {
		return err
	}
	if claims.Use != UseReset {
		return ErrTokenInvalid
	}
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.FindByIDForUpdate(ctx, claims.IdentityID); err != nil {
			return s.mapStoreErr(err, ErrIdentityNotFound)
		}
		hash, err := s.hasher.Hash(newPassword)
		if err != nil {
			return err
		}
		verified := model.Verified
		return s.mapStoreErr(tx.UpdateFields(ctx, claims.IdentityID, repository.FieldPatch{
			PasswordHash: &hash,
			Verification: &verified,
		}), ErrIdentityNotFound)
	})
	return s.classifyNil(err)
}

// dispatchVerification enqueues the account-verification mail carrying
// a link that embeds the freshly issued token.
func (s *Service) dispatchVerification(email, token string) {
	s.dispatch(email, "Verification Account", fmt.Sprintf(
		`<h1>Click <a href="%s/v1/auth/verify/%s">here</a> to verify your account</h1>`,
		s.cfg.BaseURL, token))
}

// dispatch hands a mail to the notifier without blocking the caller.
// It runs strictly after the surrounding transaction has committed; a
// delivery failure is logged and never rolls anything back.
func (s *Service) dispatch(to, subject, htmlBody string) {
	go func() {
		if err := s.notify.Send(to, subject, htmlBody); err != nil {
			log.Printf("auth: email dispatch to %s failed: %v", to, err)
		}
	}()
}

// mapStoreErr translates repository sentinels into the domain error
// the current operation should surface, and wraps anything unexpected
// as a storage fault.
func (s *Service) mapStoreErr(err error, notFound *Error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return notFound
	case errors.Is(err, repository.ErrDuplicateUsername):
		return ErrIdentityExists
	case errors.Is(err, repository.ErrDuplicateEmail):
		return ErrEmailExists
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return StorageError(err)
}

// classify guarantees every error leaving the orchestrator is an
// engine *Error; raw Begin/Commit failures become storage faults.
func (s *Service) classify(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return StorageError(err)
}

func (s *Service) classifyNil(err error) error {
	if err == nil {
		return nil
	}
	return s.classify(err)
}
