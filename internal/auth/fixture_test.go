package auth

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/epirec/internal/credential"
	"github.com/mesh-intelligence/epirec/internal/sqlite"
	"github.com/mesh-intelligence/epirec/pkg/types"
)

// cheapHash keeps argon2id and bcrypt fast in tests.
var cheapHash = types.HashConfig{
	Argon2:     types.Argon2Config{MemoryKiB: 1024, Iterations: 1, Parallelism: 1},
	BcryptCost: 4,
}

type fixture struct {
	pool    *sqlite.Pool
	hasher  *credential.Hasher
	svc     *Service
	admin   *Admin
	adminID int64
}

// newFixture opens a migrated database seeded with admin/admin1234.
func newFixture(t *testing.T, cfg types.AuthConfig) *fixture {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "app.db")

	_, err := sqlite.Migrate(ctx, path)
	require.NoError(t, err)
	pool, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	h := credential.New(cheapHash)
	f := &fixture{
		pool:   pool,
		hasher: h,
		svc:    NewService(pool, h, cfg, nil),
		admin:  NewAdmin(pool, h, nil),
	}
	f.adminID, err = f.admin.Bootstrap(ctx, "admin", "admin1234")
	require.NoError(t, err)
	return f
}

func (f *fixture) createOperator(t *testing.T, login string) int64 {
	t.Helper()
	id, err := f.admin.CreateUser(context.Background(), login, "operator-pass", types.RoleOperator, f.adminID)
	require.NoError(t, err)
	return id
}

func (f *fixture) events(t *testing.T, action string) []types.AuditEntry {
	t.Helper()
	var out []types.AuditEntry
	err := f.pool.WithTx(context.Background(), func(ctx context.Context, tx sqlite.DBTX) error {
		var err error
		out, err = sqlite.NewAuditTable().List(ctx, tx, types.AuditQuery{Action: action, Limit: 1000})
		return err
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) user(t *testing.T, id int64) *types.User {
	t.Helper()
	var u *types.User
	err := f.pool.WithTx(context.Background(), func(ctx context.Context, tx sqlite.DBTX) error {
		var err error
		u, err = sqlite.NewUsersTable().GetByID(ctx, tx, id)
		return err
	})
	require.NoError(t, err)
	return u
}
