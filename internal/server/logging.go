package server

import (
	"fmt"
	"strings"

	"ensemble/internal/logging"
)

// LogStartupFlags records which settings were overridden on the command line,
// with the auth token redacted.
func LogStartupFlags(logger *logging.Logger, cfg Config) {
	if logger == nil || cfg.Sources == nil {
		return
	}
	var flags []string
	if cfg.Sources["port"] == sourceFlag {
		flags = append(flags, fmt.Sprintf("--port %d", cfg.Port))
	}
	if cfg.Sources["token"] == sourceFlag {
		flags = append(flags, "--token <redacted>")
	}
	if cfg.Sources["data-dir"] == sourceFlag {
		flags = append(flags, formatStringFlag("--data-dir", cfg.DataDir))
	}
	if cfg.Sources["roster"] == sourceFlag {
		flags = append(flags, formatStringFlag("--roster", cfg.RosterPath))
	}
	if cfg.Sources["world"] == sourceFlag {
		flags = append(flags, formatStringFlag("--world", cfg.WorldPath))
	}
	if cfg.Sources["catalog-override"] == sourceFlag {
		flags = append(flags, formatStringFlag("--catalog-override", cfg.CatalogOverride))
	}
	if cfg.Sources["tick-interval"] == sourceFlag {
		flags = append(flags, fmt.Sprintf("--tick-interval %s", cfg.TickInterval))
	}
	if cfg.Sources["bpm"] == sourceFlag {
		flags = append(flags, fmt.Sprintf("--bpm %d", cfg.InitialBPM))
	}
	if cfg.Sources["lease-duration"] == sourceFlag {
		flags = append(flags, fmt.Sprintf("--lease-duration %s", cfg.LeaseDuration))
	}
	if cfg.Sources["temporal-host"] == sourceFlag {
		flags = append(flags, formatStringFlag("--temporal-host", cfg.TemporalHost))
	}
	if cfg.Sources["temporal-namespace"] == sourceFlag {
		flags = append(flags, formatStringFlag("--temporal-namespace", cfg.TemporalNamespace))
	}
	if cfg.Sources["temporal-enabled"] == sourceFlag {
		flags = append(flags, formatBoolFlag("--temporal-enabled", cfg.TemporalEnabled))
	}
	if cfg.Sources["temporal-dev-server"] == sourceFlag {
		flags = append(flags, formatBoolFlag("--temporal-dev-server", cfg.TemporalDevServer))
	}
	if cfg.Sources["max-watches"] == sourceFlag {
		flags = append(flags, fmt.Sprintf("--max-watches %d", cfg.MaxWatches))
	}
	if cfg.Sources["verbose"] == sourceFlag {
		flags = append(flags, formatBoolFlag("--verbose", cfg.Verbose))
	}
	if cfg.Sources["quiet"] == sourceFlag {
		flags = append(flags, formatBoolFlag("--quiet", cfg.Quiet))
	}
	if cfg.Sources["dev-mode"] == sourceFlag {
		flags = append(flags, "--dev")
	}

	if len(flags) == 0 {
		return
	}
	logger.Debug("starting with flags", map[string]string{
		"flags": strings.Join(flags, " "),
	})
}

func formatStringFlag(name, value string) string {
	if strings.ContainsAny(value, " \t") {
		return fmt.Sprintf("%s %q", name, value)
	}
	return fmt.Sprintf("%s %s", name, value)
}

func formatBoolFlag(name string, value bool) string {
	return fmt.Sprintf("%s=%t", name, value)
}
