package auth

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/epirec/internal/sqlite"
	"github.com/mesh-intelligence/epirec/pkg/types"
)

// ErrAlreadyBootstrapped is returned when bootstrap finds existing users.
var ErrAlreadyBootstrapped = fmt.Errorf("users already exist: %w", types.ErrConflict)

// Bootstrap creates the sole initial admin. It succeeds only while the user
// store is empty and is audited as a system action.
func (a *Admin) Bootstrap(ctx context.Context, login, password string) (int64, error) {
	ids, err := a.bootstrap(ctx, []SeedUser{{Login: login, Password: password, Role: types.RoleAdmin}})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// SeedUser is one entry of a users file.
type SeedUser struct {
	Login    string     `yaml:"login"`
	Password string     `yaml:"password"`
	Role     types.Role `yaml:"role"`
}

type usersFile struct {
	Users []SeedUser `yaml:"users"`
}

// LoadUsersFile reads a yaml users file of the form
//
//	users:
//	  - login: admin
//	    password: admin1234
//	    role: admin
func LoadUsersFile(path string) ([]SeedUser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading users file: %w", err)
	}
	var uf usersFile
	if err := yaml.Unmarshal(data, &uf); err != nil {
		return nil, fmt.Errorf("%w: parsing users file: %w", types.ErrInvalidInput, err)
	}
	return uf.Users, nil
}

// BootstrapFromFile seeds an empty user store from a users file. The first
// entry becomes the initial admin and must have the admin role; the rest are
// created as if by that admin.
func (a *Admin) BootstrapFromFile(ctx context.Context, path string) ([]int64, error) {
	seed, err := LoadUsersFile(path)
	if err != nil {
		return nil, err
	}
	return a.bootstrap(ctx, seed)
}

type bootstrapPayload struct {
	Login string `json:"login"`
}

func (a *Admin) bootstrap(ctx context.Context, seed []SeedUser) ([]int64, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("%w: no users to seed", types.ErrInvalidInput)
	}
	if seed[0].Role != types.RoleAdmin {
		return nil, fmt.Errorf("%w: first seeded user must be an admin", types.ErrInvalidInput)
	}

	ids := make([]int64, 0, len(seed))
	err := a.pool.WithTx(ctx, func(ctx context.Context, tx sqlite.DBTX) error {
		n, err := a.users.Count(ctx, tx)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyBootstrapped
		}

		var adminID int64
		for i, s := range seed {
			if !s.Role.Valid() {
				return fmt.Errorf("%w: user %q has unknown role %q", types.ErrInvalidInput, s.Login, s.Role)
			}
			u, err := a.insertUser(ctx, tx, s.Login, s.Password, s.Role)
			if err != nil {
				return fmt.Errorf("seeding user %q: %w", s.Login, err)
			}
			entityID := strconv.FormatInt(u.ID, 10)

			if i == 0 {
				adminID = u.ID
				_, err = a.audit.Append(ctx, tx, nil, types.EntityUser, entityID, types.ActionBootstrapAdmin, bootstrapPayload{Login: u.Login})
			} else {
				_, err = a.audit.Append(ctx, tx, &adminID, types.EntityUser, entityID, types.ActionCreateUser, createUserPayload{Login: u.Login, Role: u.Role})
			}
			if err != nil {
				return err
			}
			ids = append(ids, u.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.log.Info(ctx, "user store bootstrapped", "admin_login", seed[0].Login, "users", len(ids))
	return ids, nil
}
