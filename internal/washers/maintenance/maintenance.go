// Package maintenance holds the exclusive housekeeping stages.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/washer/internal/logfields"
	"git.home.luguber.info/inful/washer/internal/washer"
)

// CleanType removes the download workspace and applies file retention to
// every stage.
var CleanType = washer.Type{
	Name:        "clean",
	Title:       "Clean",
	Description: "Deletes temporary downloads and expired stored files.",
	Kind:        washer.KindMaintenance,
	Settings:    washer.MaintenanceSettings,
	New: func(b *washer.Base) (washer.Washer, error) {
		return &Clean{Base: b}, nil
	},
}

// UpgradeType refreshes the extraction tool and transcode toolchain.
var UpgradeType = washer.Type{
	Name:        "upgrade",
	Title:       "Upgrade",
	Description: "Installs the latest media extraction tools.",
	Kind:        washer.KindMaintenance,
	Settings:    washer.MaintenanceSettings,
	New: func(b *washer.Base) (washer.Washer, error) {
		return &Upgrade{Base: b}, nil
	},
}

type Clean struct {
	*washer.Base
}

// Run keeps going after a failing stage and returns the joined errors.
func (c *Clean) Run(ctx context.Context) error {
	var errs []error
	if c.Env.Downloads != nil {
		if err := c.Env.Downloads.Clean(); err != nil {
			errs = append(errs, fmt.Errorf("download workspace: %w", err))
		}
	}

	var peers []*washer.Base
	if c.Env.Peers != nil {
		peers = c.Env.Peers()
	}
	now := c.Now()
	removed := 0
	for _, p := range peers {
		if p.Files == nil {
			continue
		}
		n, err := p.Files.CleanRetention(ctx, now, p.RetainFiles())
		if err != nil {
			errs = append(errs, fmt.Errorf("clean files of %s: %w", p.ID, err))
			continue
		}
		removed += n
	}
	c.Logger.Info("Cleaned stored files", slog.Int("removed", removed), slog.Int("stages", len(peers)))
	return errors.Join(errs...)
}

type Upgrade struct {
	*washer.Base
}

func (u *Upgrade) Run(ctx context.Context) error {
	if u.Env.Downloads == nil {
		return errors.New("no download manager configured")
	}
	results, err := u.Env.Downloads.Upgrade(ctx)
	for _, r := range results {
		u.Memory.Set(r.Tool, r.Version)
		if r.Upgraded {
			u.Logger.Info("Upgraded tool", logfields.Tool(r.Tool), logfields.Version(r.Version))
		}
	}
	if err != nil {
		u.Logger.Warn("Tool upgrade incomplete", logfields.Error(err))
		return err
	}
	return nil
}
