package model

import "time"

// Role is the privilege level stored on an identity. Roles are small
// integers in the database; MEMBER is the default for self-service
// registration and no self-service path may change it.
type Role uint8

const (
	RoleAdmin  Role = 1 // identities.role = 1
	RoleMember Role = 2 // identities.role = 2
)

// VerificationState records whether an identity has proven control of
// its registered contact channel. Every new identity starts out
// UNVERIFIED and is promoted exactly once per proof; sensitive
// credential changes demote it back.
type VerificationState uint8

const (
	Unverified VerificationState = 0 // identities.is_verified = 0
	Verified   VerificationState = 1 // identities.is_verified = 1
)

// String returns the state name used in logs and tests.
func (s VerificationState) String() string {
	if s == Verified {
		return "VERIFIED"
	}
	return "UNVERIFIED"
}

// Identity mirrors the `identities` table. The password hash is
// excluded from JSON so the struct can never leak the secret even if
// it is serialized directly; handlers still prefer dedicated response
// types.
//
// Fields:
//  ID           – primary key, assigned by the database, immutable.
//  Username     – unique login name.
//  Email        – unique contact address; the verification channel.
//  Phone        – contact number, no uniqueness requirement.
//  PasswordHash – bcrypt digest of the password.
//  Role         – privilege level, defaults to MEMBER.
//  Verification – UNVERIFIED or VERIFIED.
//  Deleted      – soft-delete flag; deleted rows are invisible to
//                 every lookup.
//  CreatedAt    – timestamp of creation (UTC).
//  UpdatedAt    – timestamp of last update (UTC).
type Identity struct {
	ID           uint64            `json:"id"`
	Username     string            `json:"username"`
	Email        string            `json:"email"`
	Phone        string            `json:"phone"`
	PasswordHash string            `json:"-"`
	Role         Role              `json:"role"`
	Verification VerificationState `json:"is_verified"`
	Deleted      bool              `json:"-"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
