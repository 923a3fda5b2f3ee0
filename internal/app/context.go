package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"helioflow/internal/config"
	"helioflow/internal/domain"
	"helioflow/internal/repo"
)

// ResolveFirmAndConfig picks the active firm and ensures a firm + config
// exist in DB, seeding defaults if missing. It prefers overrides, then
// single-firm DB. If the firm does not exist, it is created on the fly.
func ResolveFirmAndConfig(ctx context.Context, firmOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	firmID := firmOverride
	if firmID == "" {
		if f, err := r.SingleFirm(ctx); err == nil {
			firmID = f.ID
		} else {
			return "", nil, fmt.Errorf("firm not specified; use --firm")
		}
	}
	seedCfg := config.Default(firmID)

	if _, err := r.GetFirm(ctx, firmID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createFirm(ctx, r, firmID, seedCfg, actorID); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetFirmConfig(ctx, firmID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertFirmConfig(ctx, firmID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed firm config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Firm.ID = firmID
	return firmID, cfg, nil
}

func createFirm(ctx context.Context, r repo.Repo, firmID string, seedCfg *config.Config, actorID string) error {
	if seedCfg == nil {
		seedCfg = config.Default(firmID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	f := domain.Firm{
		ID:           firmID,
		Name:         firmID,
		StatusSchema: seedCfg.Schema(),
		CreatedAt:    now,
	}
	if err := r.InsertFirm(ctx, tx, f); err != nil {
		return fmt.Errorf("insert firm: %w", err)
	}
	if err := r.UpsertFirmConfigTx(ctx, tx, firmID, seedCfg); err != nil {
		return fmt.Errorf("insert firm config: %w", err)
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if err := r.EnsureActor(ctx, tx, actorID, now); err != nil {
		return fmt.Errorf("ensure actor: %w", err)
	}
	return tx.Commit()
}
