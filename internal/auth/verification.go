package auth

import "github.com/iliyamo/account-service/internal/model"

// Credential identifies which identity attribute a self-service
// mutation touches. The verification state machine keys its demotion
// rule off this.
type Credential int

const (
	CredentialUsername Credential = iota
	CredentialEmail
	CredentialPhone
	CredentialPassword
)

// Demotes reports whether changing the credential forces the identity
// back to UNVERIFIED. Username, email and password are all proof of
// control over the account or its contact channel, so changing any of
// them requires re-verification. Phone is not a verification channel
// and never demotes.
func (c Credential) Demotes() bool {
	return c != CredentialPhone
}

// NextState returns the verification state after a self-service change
// of credential c, given the current state.
func (c Credential) NextState(current model.VerificationState) model.VerificationState {
	if c.Demotes() {
		return model.Unverified
	}
	return current
}

// CanLogin reports whether an identity in the given state may open a
// session. Unverified identities are barred from login but may still
// request verification or a password reset.
func CanLogin(s model.VerificationState) bool {
	return s == model.Verified
}
