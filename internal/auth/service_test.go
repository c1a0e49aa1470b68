package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/account-service/internal/auth"
	"github.com/iliyamo/account-service/internal/model"
	"github.com/iliyamo/account-service/internal/repository"
)

// memStore is an in-memory repository.Store with transaction
// semantics: mutations run against a staged copy that replaces the
// committed rows only when the transaction function succeeds.
type memStore struct {
	mu        sync.Mutex
	rows      map[uint64]model.Identity
	nextID    uint64
	failPatch error // when set, UpdateFields fails with it
}

func newMemStore() *memStore {
	return &memStore{rows: map[uint64]model.Identity{}, nextID: 1}
}

func (s *memStore) InTx(_ context.Context, fn func(repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stage := make(map[uint64]model.Identity, len(s.rows))
	for k, v := range s.rows {
		stage[k] = v
	}
	tx := &memTx{store: s, rows: stage}
	if err := fn(tx); err != nil {
		return err // staged writes discarded
	}
	s.rows = stage
	return nil
}

// get returns the committed row, bypassing transactions, for
// assertions on persisted state.
func (s *memStore) get(id uint64) (model.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	return row, ok
}

func (s *memStore) markDeleted(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.rows[id]
	row.Deleted = true
	s.rows[id] = row
}

type memTx struct {
	store *memStore
	rows  map[uint64]model.Identity
}

func (t *memTx) find(match func(model.Identity) bool) (*model.Identity, error) {
	for _, row := range t.rows {
		if !row.Deleted && match(row) {
			cp := row
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (t *memTx) FindByID(_ context.Context, id uint64) (*model.Identity, error) {
	return t.find(func(r model.Identity) bool { return r.ID == id })
}

func (t *memTx) FindByIDForUpdate(ctx context.Context, id uint64) (*model.Identity, error) {
	return t.FindByID(ctx, id)
}

func (t *memTx) FindByUsername(_ context.Context, username string) (*model.Identity, error) {
	return t.find(func(r model.Identity) bool { return r.Username == username })
}

func (t *memTx) FindByEmail(_ context.Context, email string) (*model.Identity, error) {
	return t.find(func(r model.Identity) bool { return r.Email == email })
}

func (t *memTx) FindByUsernameAndEmail(_ context.Context, username, email string) (*model.Identity, error) {
	return t.find(func(r model.Identity) bool { return r.Username == username && r.Email == email })
}

func (t *memTx) Create(_ context.Context, ident *model.Identity) error {
	for _, row := range t.rows {
		if row.Username == ident.Username {
			return repository.ErrDuplicateUsername
		}
		if row.Email == ident.Email {
			return repository.ErrDuplicateEmail
		}
	}
	ident.ID = t.store.nextID
	t.store.nextID++
	now := time.Now().UTC()
	ident.CreatedAt = now
	ident.UpdatedAt = now
	t.rows[ident.ID] = *ident
	return nil
}

func (t *memTx) UpdateFields(_ context.Context, id uint64, patch repository.FieldPatch) error {
	if t.store.failPatch != nil {
		return t.store.failPatch
	}
	row, ok := t.rows[id]
	if !ok || row.Deleted {
		return repository.ErrNotFound
	}
	for otherID, other := range t.rows {
		if otherID == id {
			continue
		}
		if patch.Username != nil && other.Username == *patch.Username {
			return repository.ErrDuplicateUsername
		}
		if patch.Email != nil && other.Email == *patch.Email {
			return repository.ErrDuplicateEmail
		}
	}
	if patch.Username != nil {
		row.Username = *patch.Username
	}
	if patch.Email != nil {
		row.Email = *patch.Email
	}
	if patch.Phone != nil {
		row.Phone = *patch.Phone
	}
	if patch.PasswordHash != nil {
		row.PasswordHash = *patch.PasswordHash
	}
	if patch.Verification != nil {
		row.Verification = *patch.Verification
	}
	if patch.Deleted != nil {
		row.Deleted = *patch.Deleted
	}
	row.UpdatedAt = time.Now().UTC()
	t.rows[id] = row
	return nil
}

type sentMail struct {
	to      string
	subject string
	body    string
}

// mailRecorder captures notifier calls on a channel so tests can wait
// for the post-commit dispatch goroutine.
type mailRecorder struct{ ch chan sentMail }

func newMailRecorder() *mailRecorder {
	return &mailRecorder{ch: make(chan sentMail, 16)}
}

func (m *mailRecorder) Send(to, subject, htmlBody string) error {
	m.ch <- sentMail{to: to, subject: subject, body: htmlBody}
	return nil
}

func (m *mailRecorder) wait(t *testing.T) sentMail {
	t.Helper()
	select {
	case mail := <-m.ch:
		return mail
	case <-time.After(2 * time.Second):
		t.Fatal("expected an email dispatch")
		return sentMail{}
	}
}

func (m *mailRecorder) assertNone(t *testing.T) {
	t.Helper()
	select {
	case mail := <-m.ch:
		t.Fatalf("unexpected email dispatch to %s", mail.to)
	case <-time.After(100 * time.Millisecond):
	}
}

func newTestService(t *testing.T) (*auth.Service, *memStore, *mailRecorder, *auth.TokenService) {
	t.Helper()
	store := newMemStore()
	mails := newMailRecorder()
	tokens := auth.NewTokenService("test-secret")
	svc := auth.NewService(store, auth.NewHasher(4), tokens, mails, auth.Config{
		AccessTTL: time.Minute,
		ResetTTL:  15 * time.Minute,
		BaseURL:   "http://localhost:8080",
	})
	return svc, store, mails, tokens
}

func register(t *testing.T, svc *auth.Service) (*model.Identity, string) {
	t.Helper()
	ident, token, err := svc.Register(context.Background(), "alice", "a@x.com", "555-1111", "Secret1")
	assert.NoError(t, err)
	return ident, token
}

func TestRegisterCreatesUnverifiedIdentity(t *testing.T) {
	svc, store, mails, tokens := newTestService(t)

	ident, token := register(t, svc)
	assert.Equal(t, "alice", ident.Username)
	assert.Equal(t, model.RoleMember, ident.Role)
	assert.Equal(t, model.Unverified, ident.Verification)
	assert.NotEqual(t, "Secret1", ident.PasswordHash)

	// Persisted state matches.
	row, ok := store.get(ident.ID)
	assert.True(t, ok)
	assert.Equal(t, model.Unverified, row.Verification)

	// The returned token carries the identity's claims.
	claims, err := tokens.Verify(token)
	assert.NoError(t, err)
	assert.Equal(t, ident.ID, claims.IdentityID)
	assert.Equal(t, model.RoleMember, claims.Role)
	assert.Equal(t, auth.UseAccess, claims.Use)

	// The verification mail goes out post-commit with the token link.
	mail := mails.wait(t)
	assert.Equal(t, "a@x.com", mail.to)
	assert.Equal(t, "Verification Account", mail.subject)
	assert.Contains(t, mail.body, "/v1/auth/verify/"+token)
}

func TestRegisterDuplicatePair(t *testing.T) {
	svc, _, mails, _ := newTestService(t)

	register(t, svc)
	mails.wait(t)

	_, _, err := svc.Register(context.Background(), "alice", "a@x.com", "555-2222", "Other12")
	assert.ErrorIs(t, err, auth.ErrIdentityExists)
	mails.assertNone(t) // no mail for a failed registration
}

func TestLoginBeforeVerification(t *testing.T) {
	svc, _, mails, _ := newTestService(t)

	register(t, svc)
	mails.wait(t)

	_, _, err := svc.Login(context.Background(), "alice", "Secret1")
	assert.ErrorIs(t, err, auth.ErrAccountUnverified)
}

func TestLoginFailures(t *testing.T) {
	svc, _, mails, _ := newTestService(t)

	register(t, svc)
	mails.wait(t)

	_, _, err := svc.Login(context.Background(), "nobody", "Secret1")
	assert.ErrorIs(t, err, auth.ErrIdentityNotFound)

	_, _, err = svc.Login(context.Background(), "alice", "wrong-pw")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestVerifyAccountThenLogin(t *testing.T) {
	svc, store, mails, _ := newTestService(t)

	ident, token := register(t, svc)
	mails.wait(t)

	assert.NoError(t, svc.VerifyAccount(context.Background(), token))
	row, _ := store.get(ident.ID)
	assert.Equal(t, model.Verified, row.Verification)

	logged, fresh, err := svc.Login(context.Background(), "alice", "Secret1")
	assert.NoError(t, err)
	assert.Equal(t, ident.ID, logged.ID)
	assert.NotEmpty(t, fresh)
	assert.NotEqual(t, token, fresh)
}

func TestVerifyAccountRejectsResetToken(t *testing.T) {
	svc, _, mails, tokens := newTestService(t)

	ident, _ := register(t, svc)
	mails.wait(t)

	reset, err := tokens.Issue(ident.ID, ident.Role, auth.UseReset, time.Minute)
	assert.NoError(t, err)
	assert.ErrorIs(t, svc.VerifyAccount(context.Background(), reset), auth.ErrTokenInvalid)
}

func TestKeepSession(t *testing.T) {
	svc, _, mails, tokens := newTestService(t)

	ident, token := register(t, svc)
	mails.wait(t)
	claims, err := tokens.Verify(token)
	assert.NoError(t, err)

	got, err := svc.KeepSession(context.Background(), claims)
	assert.NoError(t, err)
	assert.Equal(t, ident.ID, got.ID)
	assert.Equal(t, "alice", got.Username)
}

func TestKeepSessionSoftDeletedIdentity(t *testing.T) {
	svc, store, mails, tokens := newTestService(t)

	ident, token := register(t, svc)
	mails.wait(t)
	claims, err := tokens.Verify(token)
	assert.NoError(t, err)

	store.markDeleted(ident.ID)

	// A structurally valid token must not resurrect a deleted identity.
	_, err = svc.KeepSession(context.Background(), claims)
	assert.ErrorIs(t, err, auth.ErrIdentityNotFound)

	_, _, err = svc.Login(context.Background(), "alice", "Secret1")
	assert.ErrorIs(t, err, auth.ErrIdentityNotFound)
}

func verifiedIdentity(t *testing.T, svc *auth.Service, mails *mailRecorder, tokens *auth.TokenService) (*model.Identity, *auth.Claims) {
	t.Helper()
	ident, token := register(t, svc)
	mails.wait(t)
	assert.NoError(t, svc.VerifyAccount(context.Background(), token))
	_, fresh, err := svc.Login(context.Background(), "alice", "Secret1")
	assert.NoError(t, err)
	claims, err := tokens.Verify(fresh)
	assert.NoError(t, err)
	return ident, claims
}

func TestChangeUsernameDemotesAndNotifies(t *testing.T) {
	svc, store, mails, tokens := newTestService(t)
	ident, claims := verifiedIdentity(t, svc, mails, tokens)

	updated, fresh, err := svc.ChangeUsername(context.Background(), claims, "alice", "alice2")
	assert.NoError(t, err)
	assert.Equal(t, "alice2", updated.Username)
	assert.Equal(t, model.Unverified, updated.Verification)
	assert.NotEmpty(t, fresh)

	row, _ := store.get(ident.ID)
	assert.Equal(t, "alice2", row.Username)
	assert.Equal(t, model.Unverified, row.Verification)

	mail := mails.wait(t)
	assert.Equal(t, "a@x.com", mail.to)
	assert.Contains(t, mail.body, "/v1/auth/verify/"+fresh)

	// Re-verification required before the next login.
	_, _, err = svc.Login(context.Background(), "alice2", "Secret1")
	assert.ErrorIs(t, err, auth.ErrAccountUnverified)
}

func TestChangeUsernameRejections(t *testing.T) {
	svc, _, mails, tokens := newTestService(t)
	_, claims := verifiedIdentity(t, svc, mails, tokens)

	// Second identity occupying the target username.
	_, _, err := svc.Register(context.Background(), "bob", "b@x.com", "555-3333", "Secret1")
	assert.NoError(t, err)
	mails.wait(t)

	_, _, err = svc.ChangeUsername(context.Background(), claims, "alice", "bob")
	assert.ErrorIs(t, err, auth.ErrIdentityExists)

	_, _, err = svc.ChangeUsername(context.Background(), claims, "not-alice", "carol")
	assert.ErrorIs(t, err, auth.ErrIdentityNotFound)
	mails.assertNone(t)
}

func TestChangeUsernameRollsBackOnFailure(t *testing.T) {
	svc, store, mails, tokens := newTestService(t)
	ident, claims := verifiedIdentity(t, svc, mails, tokens)

	store.failPatch = errors.New("disk full")
	_, _, err := svc.ChangeUsername(context.Background(), claims, "alice", "alice2")
	assert.Error(t, err)
	assert.Equal(t, auth.KindStorage, auth.KindOf(err))

	// Full rollback: the persisted username and state are untouched.
	row, _ := store.get(ident.ID)
	assert.Equal(t, "alice", row.Username)
	assert.Equal(t, model.Verified, row.Verification)
	mails.assertNone(t)
}

func TestChangeEmailDemotesAndMailsNewAddress(t *testing.T) {
	svc, store, mails, tokens := newTestService(t)
	ident, claims := verifiedIdentity(t, svc, mails, tokens)

	updated, fresh, err := svc.ChangeEmail(context.Background(), claims, "a@x.com", "new@x.com")
	assert.NoError(t, err)
	assert.Equal(t, "new@x.com", updated.Email)
	assert.Equal(t, model.Unverified, updated.Verification)

	row, _ := store.get(ident.ID)
	assert.Equal(t, "new@x.com", row.Email)

	// The link must land in the new mailbox: that address now has to
	// prove control.
	mail := mails.wait(t)
	assert.Equal(t, "new@x.com", mail.to)
	assert.Contains(t, mail.body, "/v1/auth/verify/"+fresh)
}

func TestChangeEmailRejections(t *testing.T) {
	svc, _, mails, tokens := newTestService(t)
	_, claims := verifiedIdentity(t, svc, mails, tokens)

	_, _, err := svc.Register(context.Background(), "bob", "b@x.com", "555-3333", "Secret1")
	assert.NoError(t, err)
	mails.wait(t)

	_, _, err = svc.ChangeEmail(context.Background(), claims, "a@x.com", "b@x.com")
	assert.ErrorIs(t, err, auth.ErrEmailExists)

	_, _, err = svc.ChangeEmail(context.Background(), claims, "wrong@x.com", "new@x.com")
	assert.ErrorIs(t, err, auth.ErrEmailNotFound)
}

func TestChangePhoneKeepsVerification(t *testing.T) {
	svc, store, mails, tokens := newTestService(t)
	ident, claims := verifiedIdentity(t, svc, mails, tokens)

	updated, err := svc.ChangePhone(context.Background(), claims, "555-9999")
	assert.NoError(t, err)
	assert.Equal(t, "555-9999", updated.Phone)
	assert.Equal(t, model.Verified, updated.Verification)

	row, _ := store.get(ident.ID)
	assert.Equal(t, model.Verified, row.Verification)
	mails.assertNone(t) // phone is not a verification channel
}

func TestChangePassword(t *testing.T) {
	svc, store, mails, tokens := newTestService(t)
	ident, claims := verifiedIdentity(t, svc, mails, tokens)

	_, _, err := svc.ChangePassword(context.Background(), claims, "wrong", "Secret2")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, fresh, err := svc.ChangePassword(context.Background(), claims, "Secret1", "Secret2")
	assert.NoError(t, err)
	assert.NotEmpty(t, fresh)
	mails.wait(t)

	row, _ := store.get(ident.ID)
	assert.Equal(t, model.Unverified, row.Verification)

	// Old password out, new password gated on re-verification.
	_, _, err = svc.Login(context.Background(), "alice", "Secret1")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, _, err = svc.Login(context.Background(), "alice", "Secret2")
	assert.ErrorIs(t, err, auth.ErrAccountUnverified)
}

func TestForgotAndResetPassword(t *testing.T) {
	svc, store, mails, tokens := newTestService(t)

	ident, token := register(t, svc)
	mails.wait(t)
	assert.NoError(t, svc.VerifyAccount(context.Background(), token))

	resetToken, err := svc.ForgotPassword(context.Background(), "a@x.com")
	assert.NoError(t, err)

	mail := mails.wait(t)
	assert.Equal(t, "a@x.com", mail.to)
	assert.Equal(t, "Reset Password", mail.subject)
	assert.Contains(t, mail.body, resetToken)

	claims, err := tokens.Verify(resetToken)
	assert.NoError(t, err)
	assert.Equal(t, auth.UseReset, claims.Use)

	assert.NoError(t, svc.ResetPassword(context.Background(), resetToken, "NewPass9"))

	// Reset proves control of the email, so the identity is VERIFIED
	// and can log in with the new password immediately.
	row, _ := store.get(ident.ID)
	assert.Equal(t, model.Verified, row.Verification)

	_, _, err = svc.Login(context.Background(), "alice", "Secret1")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, _, err = svc.Login(context.Background(), "alice", "NewPass9")
	assert.NoError(t, err)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	svc, _, mails, _ := newTestService(t)

	_, err := svc.ForgotPassword(context.Background(), "ghost@x.com")
	assert.ErrorIs(t, err, auth.ErrEmailNotFound)
	mails.assertNone(t)
}

func TestResetPasswordRejectsAccessToken(t *testing.T) {
	svc, _, mails, _ := newTestService(t)

	_, token := register(t, svc)
	mails.wait(t)

	err := svc.ResetPassword(context.Background(), token, "NewPass9")
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestConcurrentRegisterSamePair(t *testing.T) {
	svc, _, mails, _ := newTestService(t)

	const attempts = 2
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Register(context.Background(), "alice", "a@x.com", "555-1111", "Secret1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, auth.ErrIdentityExists):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)
	mails.wait(t) // exactly one registration mail
	mails.assertNone(t)
}
