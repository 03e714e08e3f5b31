// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package scheduler drives the cadenced background sweepers described
// across spec.md §7: config/whitelist/pattern hot-reload, IP-state
// inactivity sweeps, system sampling, and TOTP setup-session expiry. Each
// sweeper is a named cron entry so failures in one never affect the others.
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Task is one cadenced job: Spec is a standard (seconds-enabled) cron
// expression, Fn is the work to run. Panics inside Fn are recovered by the
// underlying cron.Cron via cron.Recover so one misbehaving task can't take
// down the others.
type Task struct {
	Name string
	Spec string
	Fn   func()
}

// Scheduler wraps a robfig/cron instance, logging each task run at debug
// level and recovering panics per task.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New builds a Scheduler using a seconds-enabled cron parser, since several
// sweepers (spec.md §7) run on sub-minute cadences.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.Second|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)),
			cron.WithChain(cron.Recover(cron.DefaultLogger)),
		),
		logger: logger,
	}
}

// Register adds every task to the schedule. Call before Start.
func (s *Scheduler) Register(tasks ...Task) error {
	for _, t := range tasks {
		task := t
		if _, err := s.cron.AddFunc(task.Spec, func() {
			s.logger.Debug("scheduler: running task", "category", "system", "task", task.Name)
			task.Fn()
		}); err != nil {
			return err
		}
	}
	return nil
}

// Start begins running registered tasks on their cadences.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "category", "system", "jobs", len(s.cron.Entries()))
}

// Stop waits for any in-flight task to finish, then returns.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped", "category", "system")
}
