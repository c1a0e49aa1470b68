package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/account-service/internal/model"
)

// Tx is the set of identity operations available inside one storage
// transaction. The orchestrator never touches the database outside of
// a Tx; every read-check-write sequence shares a single handle so the
// uniqueness check and the mutation cannot be split across
// transactions.
type Tx interface {
	FindByID(ctx context.Context, id uint64) (*model.Identity, error)
	// FindByIDForUpdate locks the identity row until the transaction
	// ends, serializing concurrent mutations of the same identity.
	FindByIDForUpdate(ctx context.Context, id uint64) (*model.Identity, error)
	FindByUsername(ctx context.Context, username string) (*model.Identity, error)
	FindByEmail(ctx context.Context, email string) (*model.Identity, error)
	FindByUsernameAndEmail(ctx context.Context, username, email string) (*model.Identity, error)
	Create(ctx context.Context, id *model.Identity) error
	UpdateFields(ctx context.Context, id uint64, patch FieldPatch) error
}

// Store opens transactions over the identity table. fn runs inside one
// transaction: if it returns an error every write is rolled back,
// otherwise the transaction commits.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
}

// FieldPatch selects which columns UpdateFields writes. Nil fields are
// left untouched.
type FieldPatch struct {
	Username     *string
	Email        *string
	Phone        *string
	PasswordHash *string
	Verification *model.VerificationState
	Deleted      *bool
}

// IdentityRepo is the MySQL-backed Store.
type IdentityRepo struct{ DB *sql.DB }

func NewIdentityRepo(db *sql.DB) *IdentityRepo { return &IdentityRepo{DB: db} }

// InTx runs fn inside a single transaction with the connection's
// default (read-committed or stronger) isolation.
func (r *IdentityRepo) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(identityTx{tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type identityTx struct{ tx *sql.Tx }

const identityColumns = "id,username,email,phone,password_hash,role,is_verified,is_deleted,created_at,updated_at"

func scanIdentity(row *sql.Row) (*model.Identity, error) {
	var ident model.Identity
	err := row.Scan(&ident.ID, &ident.Username, &ident.Email, &ident.Phone,
		&ident.PasswordHash, &ident.Role, &ident.Verification, &ident.Deleted,
		&ident.CreatedAt, &ident.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

func (t identityTx) FindByID(ctx context.Context, id uint64) (*model.Identity, error) {
	return scanIdentity(t.tx.QueryRowContext(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE id=? AND is_deleted=0 LIMIT 1", id))
}

func (t identityTx) FindByIDForUpdate(ctx context.Context, id uint64) (*model.Identity, error) {
	return scanIdentity(t.tx.QueryRowContext(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE id=? AND is_deleted=0 LIMIT 1 FOR UPDATE", id))
}

func (t identityTx) FindByUsername(ctx context.Context, username string) (*model.Identity, error) {
	return scanIdentity(t.tx.QueryRowContext(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE username=? AND is_deleted=0 LIMIT 1", username))
}

func (t identityTx) FindByEmail(ctx context.Context, email string) (*model.Identity, error) {
	return scanIdentity(t.tx.QueryRowContext(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE email=? AND is_deleted=0 LIMIT 1",
		strings.ToLower(strings.TrimSpace(email))))
}

func (t identityTx) FindByUsernameAndEmail(ctx context.Context, username, email string) (*model.Identity, error) {
	return scanIdentity(t.tx.QueryRowContext(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE username=? AND email=? AND is_deleted=0 LIMIT 1",
		username, strings.ToLower(strings.TrimSpace(email))))
}

// Create inserts the identity and fills in its generated ID and
// timestamps. Unique-key violations surface as the duplicate
// sentinels.
func (t identityTx) Create(ctx context.Context, ident *model.Identity) error {
	ident.Email = strings.ToLower(strings.TrimSpace(ident.Email))
	res, err := t.tx.ExecContext(ctx,
		"INSERT INTO identities (username, email, phone, password_hash, role, is_verified) VALUES (?,?,?,?,?,?)",
		ident.Username, ident.Email, ident.Phone, ident.PasswordHash, ident.Role, ident.Verification)
	if err != nil {
		return mapDuplicate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ident.ID = uint64(id)
	// Query back to populate database-assigned timestamps.
	row := t.tx.QueryRowContext(ctx,
		"SELECT created_at, updated_at FROM identities WHERE id=?", ident.ID)
	return row.Scan(&ident.CreatedAt, &ident.UpdatedAt)
}

func (t identityTx) UpdateFields(ctx context.Context, id uint64, patch FieldPatch) error {
	assigns, args := patch.assignments()
	if len(assigns) == 0 {
		return nil
	}
	query := "UPDATE identities SET " + strings.Join(assigns, ", ") + ", updated_at=UTC_TIMESTAMP() WHERE id=? AND is_deleted=0"
	args = append(args, id)
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return mapDuplicate(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// The row may exist with identical values; treat only a
		// missing row as not found.
		row := t.tx.QueryRowContext(ctx, "SELECT 1 FROM identities WHERE id=? AND is_deleted=0", id)
		var one int
		if scanErr := row.Scan(&one); scanErr == sql.ErrNoRows {
			return ErrNotFound
		}
	}
	return err
}

// assignments builds the SET clause for a patch. Deterministic column
// order keeps the statement stable for logging and tests.
func (p FieldPatch) assignments() ([]string, []interface{}) {
	var assigns []string
	var args []interface{}
	if p.Username != nil {
		assigns = append(assigns, "username=?")
		args = append(args, *p.Username)
	}
	if p.Email != nil {
		assigns = append(assigns, "email=?")
		args = append(args, strings.ToLower(strings.TrimSpace(*p.Email)))
	}
	if p.Phone != nil {
		assigns = append(assigns, "phone=?")
		args = append(args, *p.Phone)
	}
	if p.PasswordHash != nil {
		assigns = append(assigns, "password_hash=?")
		args = append(args, *p.PasswordHash)
	}
	if p.Verification != nil {
		assigns = append(assigns, "is_verified=?")
		args = append(args, *p.Verification)
	}
	if p.Deleted != nil {
		assigns = append(assigns, "is_deleted=?")
		args = append(args, *p.Deleted)
	}
	return assigns, args
}

// mapDuplicate converts MySQL duplicate-key errors (1062) to the
// matching sentinel based on the violated key name.
func mapDuplicate(err error) error {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "1062") {
		return err
	}
	if strings.Contains(msg, "uq_identities_email") {
		return ErrDuplicateEmail
	}
	return ErrDuplicateUsername
}
