package generator

import (
	"fmt"
	"log/slog"

	"grapelm/config"
	"grapelm/task"
)

const (
	KindCommand = "command"
	KindBuiltin = "builtin"
)

// New returns the generator selected by cfg.Generator.
func New(cfg *config.Config, params ParamsLocator, logger *slog.Logger) (task.Generator, error) {
	switch cfg.Generator {
	case KindCommand:
		return NewCommand(cfg, params, logger)
	case KindBuiltin:
		return NewRecombiner(), nil
	default:
		return nil, fmt.Errorf("unknown generator %q (want %q or %q)", cfg.Generator, KindCommand, KindBuiltin)
	}
}
