package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/CZERTAINLY/burnin/internal/badblocks"
	"github.com/CZERTAINLY/burnin/internal/blockdev"
	"github.com/CZERTAINLY/burnin/internal/command"
	"github.com/CZERTAINLY/burnin/internal/model"
	"github.com/CZERTAINLY/burnin/internal/smart"
	"github.com/CZERTAINLY/burnin/internal/stage"
)

// device joins the self-tests and the surface scan of one disk. The Scanner
// is set once the run log is open, stages call it only while the run runs.
type device struct {
	*smart.Drive
	*badblocks.Scanner
}

// openDevice runs the preflight checks and resolves the profile of path.
// A simulated run needs neither root nor write access.
func openDevice(ctx context.Context, cfg model.Config, path string, mode model.Mode) (*device, model.Profile, error) {
	execute := mode == model.ModeExecute
	if execute {
		if err := blockdev.Root(); err != nil {
			return nil, model.Profile{}, err
		}
	}
	if _, err := blockdev.LookPath(cfg.Smartctl, cfg.Badblocks); err != nil {
		return nil, model.Profile{}, err
	}
	info, err := blockdev.Check(path, execute)
	if err != nil {
		return nil, model.Profile{}, err
	}

	drive := smart.New(path, cfg, command.NewRunner())
	p, err := drive.Resolve(ctx)
	if err != nil {
		return nil, model.Profile{}, fmt.Errorf("resolving %s: %w", path, err)
	}
	if p.CapacityBytes == 0 {
		p.CapacityBytes = info.SizeBytes
	}
	slog.DebugContext(ctx, "device resolved", "profile", p.String(), "capacity", p.CapacityBytes)
	return &device{Drive: drive}, p, nil
}

// buildPlan returns the plan selected by --plan, the default plan otherwise.
func buildPlan(dev stage.Device, p model.Profile, reportPath string, names []string) ([]stage.Stage, error) {
	if len(names) == 0 {
		return stage.DefaultPlan(dev, p, reportPath), nil
	}
	return stage.ParsePlan(names, dev, p, reportPath)
}

// logPath names the log of a run started at t:
// <dir>/burnin-<serial>-<timestamp>.log.
func logPath(dir string, p model.Profile, t time.Time) string {
	id := p.Serial
	if id == "" {
		id = filepath.Base(p.Path)
	}
	name := fmt.Sprintf("burnin-%s-%s.log", safeName(id), t.Format("20060102-150405"))
	return filepath.Join(dir, name)
}

// reportPath places the bad block report next to the log.
func reportPath(logPath string) string {
	return strings.TrimSuffix(logPath, ".log") + ".badblocks.txt"
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}
