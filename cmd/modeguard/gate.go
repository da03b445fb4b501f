package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/modeguard/modeguard/internal/gatecfg"
	"github.com/modeguard/modeguard/internal/identity"
	"github.com/modeguard/modeguard/internal/policy"
	"github.com/modeguard/modeguard/internal/settings"
)

// gate bundles the stores every management command needs.
type gate struct {
	env   *gatecfg.Env
	store *policy.Store
	mut   *settings.Mutator
}

func newGate() (*gate, error) {
	env, err := gatecfg.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return &gate{
		env:   env,
		store: policy.NewStore(env.StatusDir()),
		mut:   settings.NewMutator(env.SettingsPath, env.BackupDir(), env.BackupKeep),
	}, nil
}

// resolveIdentity derives the project identity from the --project-path flag
// or, when absent, the working directory.
func resolveIdentity(pathFlag string) (identity.ProjectIdentity, error) {
	path := pathFlag
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return identity.ProjectIdentity{}, fmt.Errorf("resolve working directory: %w", err)
		}
		path = wd
	}
	id, err := identity.FromPath(path)
	if err != nil {
		return identity.ProjectIdentity{}, fmt.Errorf("project path %q: %w", path, err)
	}
	return id, nil
}

// parseModeDuration accepts the usual h/m/s forms plus a day suffix
// ("2d" = 48h). Empty means no expiry.
func parseModeDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}

func modeTypeFromFlag(userScoped bool) policy.ModeType {
	if userScoped {
		return policy.ModeUser
	}
	return policy.ModeProject
}
