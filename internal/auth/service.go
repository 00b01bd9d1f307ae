package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/epirec/internal/credential"
	"github.com/mesh-intelligence/epirec/internal/logging"
	"github.com/mesh-intelligence/epirec/internal/sqlite"
	"github.com/mesh-intelligence/epirec/pkg/types"
)

// Distinguishable login failures, used only when generic errors are off.
var (
	errUnknownUser   = fmt.Errorf("%w: user not found or inactive", types.ErrAuthenticationFailed)
	errWrongPassword = fmt.Errorf("%w: invalid password", types.ErrAuthenticationFailed)
)

// Service authenticates users.
type Service struct {
	pool   *sqlite.Pool
	hasher *credential.Hasher
	users  sqlite.UsersTable
	audit  sqlite.AuditTable
	cfg    types.AuthConfig
	log    logging.Logger
	now    func() time.Time

	// dummyHash is verified against for unknown or inactive logins.
	dummyHash string
}

// NewService returns an authentication service over pool. It hashes a
// throwaway password up front so the first failed login is not slower than
// later ones.
func NewService(pool *sqlite.Pool, hasher *credential.Hasher, cfg types.AuthConfig, log logging.Logger) *Service {
	s := &Service{
		pool:   pool,
		hasher: hasher,
		users:  sqlite.NewUsersTable(),
		audit:  sqlite.NewAuditTable(),
		cfg:    cfg,
		log:    logging.OrNop(log),
		now:    time.Now,
	}
	h, err := hasher.Hash("epirec-unknown-user", credential.DefaultScheme)
	if err != nil {
		s.log.Warn(context.Background(), "preparing dummy password hash", "error", err)
	}
	s.dummyHash = h
	return s
}

type loginPayload struct {
	Login string `json:"login"`
}

// Login verifies login and password in one unit of work and returns a new
// session. Unknown, inactive, and wrong-password attempts all fail with an
// error matching types.ErrAuthenticationFailed. A successful login is
// audited; a stored hash under a legacy scheme or weaker parameters is
// replaced in the same unit of work.
func (s *Service) Login(ctx context.Context, login, password string) (*types.SessionContext, error) {
	var sess *types.SessionContext
	err := s.pool.WithTx(ctx, func(ctx context.Context, tx sqlite.DBTX) error {
		u, err := s.users.GetByLogin(ctx, tx, login)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return err
		}
		if u == nil || !u.IsActive {
			s.burnVerify(password)
			return s.reject(ctx, tx, login, "", errUnknownUser)
		}

		ok, err := s.hasher.Verify(password, u.PasswordHash)
		if err != nil {
			s.log.Error(ctx, "stored password hash unreadable", "user_id", u.ID, "error", err)
			return fmt.Errorf("verifying password of user %d: %w", u.ID, err)
		}
		if !ok {
			return s.reject(ctx, tx, login, strconv.FormatInt(u.ID, 10), errWrongPassword)
		}

		if s.hasher.NeedsRehash(u.PasswordHash) {
			s.rehash(ctx, tx, u.ID, password)
		}

		id := u.ID
		if _, err := s.audit.Append(ctx, tx, &id, types.EntityUser, strconv.FormatInt(u.ID, 10), types.ActionLogin, loginPayload{Login: u.Login}); err != nil {
			return err
		}

		sid, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generating session id: %w", err)
		}
		sess = &types.SessionContext{
			SessionID: sid.String(),
			UserID:    u.ID,
			Login:     u.Login,
			Role:      u.Role,
			IssuedAt:  s.now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "login", "user_id", sess.UserID, "session_id", sess.SessionID)
	return sess, nil
}

// reject turns a failed attempt into the caller-facing error, auditing it
// when failed-login auditing is on.
func (s *Service) reject(ctx context.Context, tx sqlite.DBTX, login, entityID string, detail error) error {
	s.log.Info(ctx, "login failed", "login", login, "reason", detail)

	out := detail
	if s.cfg.GenericErrors {
		out = types.ErrAuthenticationFailed
	}
	if !s.cfg.AuditFailedLogins {
		return out
	}
	if _, err := s.audit.Append(ctx, tx, nil, types.EntityUser, entityID, types.ActionLoginFailed, loginPayload{Login: login}); err != nil {
		return err
	}
	return sqlite.CommitAndFail(out)
}

// burnVerify spends roughly one verification on a throwaway hash so an
// unknown login costs about as much as a wrong password.
func (s *Service) burnVerify(password string) {
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(password, s.dummyHash)
	}
}

// rehash upgrades a stored hash. Failure is logged and does not fail the
// login.
func (s *Service) rehash(ctx context.Context, tx sqlite.DBTX, userID int64, password string) {
	h, err := s.hasher.Hash(password, credential.DefaultScheme)
	if err == nil {
		err = s.users.UpdatePassword(ctx, tx, userID, h)
	}
	if err != nil {
		s.log.Warn(ctx, "password rehash skipped", "user_id", userID, "error", err)
		return
	}
	s.log.Debug(ctx, "password rehashed", "user_id", userID, "scheme", credential.DefaultScheme)
}
