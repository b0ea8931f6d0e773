package config

import (
	"context"
	"log/slog"
)

// AdminBootstrapper creates the first admin account if it is missing.
type AdminBootstrapper interface {
	Bootstrap(ctx context.Context, username, password, email string) (bool, error)
}

// SeedAdmin bootstraps the default admin account on first initialization.
func SeedAdmin(ctx context.Context, b AdminBootstrapper, c *Config) error {
	created, err := b.Bootstrap(ctx, c.AdminUsername, c.AdminPassword, c.AdminEmail)
	if err != nil {
		return err
	}
	if !created {
		slog.Debug("admin account already present", "username", c.AdminUsername)
	}
	return nil
}
