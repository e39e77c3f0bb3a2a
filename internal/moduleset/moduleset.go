// Package moduleset models the module-repository bootstrap the original
// agent performed by hot-reloading adaptor/runner code at the start of
// every recipe cycle. Hot code-swap has no Go equivalent worth emulating;
// instead ModuleSet is an explicit value the worker reloads between
// cycles, standing in for "pick up a new module-repo revision without
// restarting the agent."
package moduleset

import (
	"fmt"
	"log/slog"
)

// Config is the subset of agent configuration the module loader reads:
// module.root / module.name / module.mod_repo / module.mod_tag.
type Config struct {
	Root    string `yaml:"root"`
	Name    string `yaml:"name"`
	ModRepo string `yaml:"mod_repo"`
	ModTag  string `yaml:"mod_tag"`
}

// ModuleSet is the loaded-modules handle the worker reloads at the start
// of every recipe (status == 0). Load failure must not crash the worker;
// the caller reports a synthetic FAIL state-log and stops instead.
type ModuleSet struct {
	cfg     Config
	tag     string
	log     *slog.Logger
}

// New builds a ModuleSet; call Reload before first use.
func New(cfg Config) *ModuleSet {
	return &ModuleSet{cfg: cfg, log: slog.Default().With("component", "moduleset")}
}

// Reload re-reads the module repository at the configured revision tag.
// A real implementation would sync cfg.ModRepo at cfg.ModTag into cfg.Root;
// this repository's shipped modules are compiled in (internal/executor),
// so Reload only checks that module.root is set when a repo is configured,
// records cfg.ModTag as the current tag, and logs the outcome. It does not
// check that the root directory exists or that it holds the requested tag.
func (m *ModuleSet) Reload() error {
	if m.cfg.ModRepo == "" {
		// No external module repo configured: the compiled-in module set
		// (shell, meta.wait, meta.comment) is always available.
		m.tag = m.cfg.ModTag
		return nil
	}
	if m.cfg.Root == "" {
		return fmt.Errorf("moduleset: module.root not configured for repo %q", m.cfg.ModRepo)
	}
	m.tag = m.cfg.ModTag
	m.log.Info("reloaded module set", "repo", m.cfg.ModRepo, "tag", m.cfg.ModTag, "root", m.cfg.Root)
	return nil
}

// Tag returns the revision tag in effect since the last successful Reload.
func (m *ModuleSet) Tag() string {
	return m.tag
}
