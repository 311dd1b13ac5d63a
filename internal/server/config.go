package server

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port              int
	AuthToken         string
	DataDir           string
	RosterPath        string
	WorldPath         string
	CatalogOverride   string
	TickInterval      time.Duration
	InitialBPM        int
	LeaseDuration     time.Duration
	TemporalHost      string
	TemporalNamespace string
	TemporalEnabled   bool
	TemporalDevServer bool
	TemporalUIPort    int
	MaxWatches        int
	DevMode           bool
	Verbose           bool
	Quiet             bool
	ShowVersion       bool
	Sources           map[string]configSource
}

type configSource string

const (
	sourceDefault configSource = "default"
	sourceEnv     configSource = "env"
	sourceFlag    configSource = "flag"
)

type configDefaults struct {
	Port              int
	DataDir           string
	RosterPath        string
	WorldPath         string
	CatalogOverride   string
	TickInterval      time.Duration
	InitialBPM        int
	LeaseDuration     time.Duration
	TemporalHost      string
	TemporalNamespace string
	TemporalEnabled   bool
	TemporalDevServer bool
	MaxWatches        int
	DevMode           bool
}

type flagValues struct {
	Port              int
	Token             string
	DataDir           string
	RosterPath        string
	WorldPath         string
	CatalogOverride   string
	TickInterval      time.Duration
	InitialBPM        int
	LeaseDuration     time.Duration
	TemporalHost      string
	TemporalNamespace string
	TemporalEnabled   bool
	TemporalDevServer bool
	MaxWatches        int
	DevMode           bool
	Verbose           bool
	Quiet             bool
	Help              bool
	Version           bool
	Set               map[string]bool
}

// MinBPM and MaxBPM bound every tempo the conductor will accept, whether it
// arrives from configuration or from a tempo vote.
const (
	MinBPM = 40
	MaxBPM = 220
)

func LoadConfig(args []string) (Config, error) {
	defaults := defaultConfigValues()
	flags, err := parseFlags(args, defaults)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Sources: make(map[string]configSource),
	}

	port := defaults.Port
	portSource := sourceDefault
	if rawPort := os.Getenv("ENSEMBLE_PORT"); rawPort != "" {
		if parsed, err := strconv.Atoi(rawPort); err == nil && parsed > 0 {
			port = parsed
			portSource = sourceEnv
		}
	}
	if flags.Set["port"] {
		if flags.Port <= 0 {
			return Config{}, fmt.Errorf("invalid --port: must be > 0")
		}
		port = flags.Port
		portSource = sourceFlag
	}
	cfg.Port = port
	cfg.Sources["port"] = portSource

	token := os.Getenv("ENSEMBLE_TOKEN")
	tokenSource := sourceDefault
	if token != "" {
		tokenSource = sourceEnv
	}
	if flags.Set["token"] {
		token = flags.Token
		tokenSource = sourceFlag
	}
	cfg.AuthToken = token
	cfg.Sources["token"] = tokenSource

	dataDir := defaults.DataDir
	dataDirSource := sourceDefault
	if rawDir := strings.TrimSpace(os.Getenv("ENSEMBLE_DATA_DIR")); rawDir != "" {
		dataDir = rawDir
		dataDirSource = sourceEnv
	}
	if flags.Set["data-dir"] {
		trimmed := strings.TrimSpace(flags.DataDir)
		if trimmed == "" {
			return Config{}, fmt.Errorf("invalid --data-dir: value cannot be empty")
		}
		dataDir = trimmed
		dataDirSource = sourceFlag
	}
	cfg.DataDir = dataDir
	cfg.Sources["data-dir"] = dataDirSource

	rosterPath := defaults.RosterPath
	rosterSource := sourceDefault
	if rawPath := strings.TrimSpace(os.Getenv("ENSEMBLE_ROSTER")); rawPath != "" {
		rosterPath = rawPath
		rosterSource = sourceEnv
	}
	if flags.Set["roster"] {
		rosterPath = strings.TrimSpace(flags.RosterPath)
		rosterSource = sourceFlag
	}
	cfg.RosterPath = rosterPath
	cfg.Sources["roster"] = rosterSource

	worldPath := defaults.WorldPath
	worldSource := sourceDefault
	if rawPath := strings.TrimSpace(os.Getenv("ENSEMBLE_WORLD")); rawPath != "" {
		worldPath = rawPath
		worldSource = sourceEnv
	}
	if flags.Set["world"] {
		worldPath = strings.TrimSpace(flags.WorldPath)
		worldSource = sourceFlag
	}
	cfg.WorldPath = worldPath
	cfg.Sources["world"] = worldSource

	catalogOverride := defaults.CatalogOverride
	catalogSource := sourceDefault
	if rawPath := strings.TrimSpace(os.Getenv("ENSEMBLE_CATALOG_OVERRIDE")); rawPath != "" {
		catalogOverride = rawPath
		catalogSource = sourceEnv
	}
	if flags.Set["catalog-override"] {
		catalogOverride = strings.TrimSpace(flags.CatalogOverride)
		catalogSource = sourceFlag
	}
	cfg.CatalogOverride = catalogOverride
	cfg.Sources["catalog-override"] = catalogSource

	tickInterval := defaults.TickInterval
	tickSource := sourceDefault
	if rawTick := strings.TrimSpace(os.Getenv("ENSEMBLE_TICK_INTERVAL")); rawTick != "" {
		if parsed, err := time.ParseDuration(rawTick); err == nil && parsed > 0 {
			tickInterval = parsed
			tickSource = sourceEnv
		}
	}
	if flags.Set["tick-interval"] {
		if flags.TickInterval <= 0 {
			return Config{}, fmt.Errorf("invalid --tick-interval: must be > 0")
		}
		tickInterval = flags.TickInterval
		tickSource = sourceFlag
	}
	cfg.TickInterval = tickInterval
	cfg.Sources["tick-interval"] = tickSource

	initialBPM := defaults.InitialBPM
	bpmSource := sourceDefault
	if rawBPM := strings.TrimSpace(os.Getenv("ENSEMBLE_BPM")); rawBPM != "" {
		if parsed, err := strconv.Atoi(rawBPM); err == nil && parsed > 0 {
			initialBPM = parsed
			bpmSource = sourceEnv
		}
	}
	if flags.Set["bpm"] {
		initialBPM = flags.InitialBPM
		bpmSource = sourceFlag
	}
	if initialBPM < MinBPM || initialBPM > MaxBPM {
		return Config{}, fmt.Errorf("invalid tempo %d: must be between %d and %d BPM", initialBPM, MinBPM, MaxBPM)
	}
	cfg.InitialBPM = initialBPM
	cfg.Sources["bpm"] = bpmSource

	leaseDuration := defaults.LeaseDuration
	leaseSource := sourceDefault
	if rawLease := strings.TrimSpace(os.Getenv("ENSEMBLE_LEASE_DURATION")); rawLease != "" {
		if parsed, err := time.ParseDuration(rawLease); err == nil && parsed > 0 {
			leaseDuration = parsed
			leaseSource = sourceEnv
		}
	}
	if flags.Set["lease-duration"] {
		if flags.LeaseDuration <= 0 {
			return Config{}, fmt.Errorf("invalid --lease-duration: must be > 0")
		}
		leaseDuration = flags.LeaseDuration
		leaseSource = sourceFlag
	}
	cfg.LeaseDuration = leaseDuration
	cfg.Sources["lease-duration"] = leaseSource

	temporalHost := defaults.TemporalHost
	temporalHostSource := sourceDefault
	if rawHost := strings.TrimSpace(os.Getenv("ENSEMBLE_TEMPORAL_HOST")); rawHost != "" {
		temporalHost = rawHost
		temporalHostSource = sourceEnv
	}
	if flags.Set["temporal-host"] {
		trimmed := strings.TrimSpace(flags.TemporalHost)
		if trimmed == "" {
			return Config{}, fmt.Errorf("invalid --temporal-host: value cannot be empty")
		}
		temporalHost = trimmed
		temporalHostSource = sourceFlag
	}
	cfg.TemporalHost = temporalHost
	cfg.Sources["temporal-host"] = temporalHostSource

	temporalNamespace := defaults.TemporalNamespace
	temporalNamespaceSource := sourceDefault
	if rawNamespace := strings.TrimSpace(os.Getenv("ENSEMBLE_TEMPORAL_NAMESPACE")); rawNamespace != "" {
		temporalNamespace = rawNamespace
		temporalNamespaceSource = sourceEnv
	}
	if flags.Set["temporal-namespace"] {
		trimmed := strings.TrimSpace(flags.TemporalNamespace)
		if trimmed == "" {
			return Config{}, fmt.Errorf("invalid --temporal-namespace: value cannot be empty")
		}
		temporalNamespace = trimmed
		temporalNamespaceSource = sourceFlag
	}
	cfg.TemporalNamespace = temporalNamespace
	cfg.Sources["temporal-namespace"] = temporalNamespaceSource

	temporalEnabled := defaults.TemporalEnabled
	temporalEnabledSource := sourceDefault
	if rawEnabled := strings.TrimSpace(os.Getenv("ENSEMBLE_TEMPORAL_ENABLED")); rawEnabled != "" {
		if parsed, err := strconv.ParseBool(rawEnabled); err == nil {
			temporalEnabled = parsed
			temporalEnabledSource = sourceEnv
		}
	}
	if flags.Set["temporal-enabled"] {
		temporalEnabled = flags.TemporalEnabled
		temporalEnabledSource = sourceFlag
	}
	cfg.TemporalEnabled = temporalEnabled
	cfg.Sources["temporal-enabled"] = temporalEnabledSource

	temporalDevServer := defaults.TemporalDevServer
	temporalDevServerSource := sourceDefault
	if rawDevServer := strings.TrimSpace(os.Getenv("ENSEMBLE_TEMPORAL_DEV_SERVER")); rawDevServer != "" {
		if parsed, err := strconv.ParseBool(rawDevServer); err == nil {
			temporalDevServer = parsed
			temporalDevServerSource = sourceEnv
		}
	}
	if flags.Set["temporal-dev-server"] {
		temporalDevServer = flags.TemporalDevServer
		temporalDevServerSource = sourceFlag
	}
	cfg.TemporalDevServer = temporalDevServer
	cfg.Sources["temporal-dev-server"] = temporalDevServerSource

	maxWatches := defaults.MaxWatches
	maxWatchesSource := sourceDefault
	if rawMax := strings.TrimSpace(os.Getenv("ENSEMBLE_MAX_WATCHES")); rawMax != "" {
		if parsed, err := strconv.Atoi(rawMax); err == nil && parsed > 0 {
			maxWatches = parsed
			maxWatchesSource = sourceEnv
		}
	}
	if flags.Set["max-watches"] {
		if flags.MaxWatches <= 0 {
			return Config{}, fmt.Errorf("invalid --max-watches: must be > 0")
		}
		maxWatches = flags.MaxWatches
		maxWatchesSource = sourceFlag
	}
	cfg.MaxWatches = maxWatches
	cfg.Sources["max-watches"] = maxWatchesSource

	devMode := defaults.DevMode
	devModeSource := sourceDefault
	if rawDev := strings.TrimSpace(os.Getenv("ENSEMBLE_DEV_MODE")); rawDev != "" {
		if parsed, err := strconv.ParseBool(rawDev); err == nil {
			devMode = parsed
			devModeSource = sourceEnv
		}
	}
	if flags.Set["dev"] {
		devMode = flags.DevMode
		devModeSource = sourceFlag
	}
	cfg.DevMode = devMode
	cfg.Sources["dev-mode"] = devModeSource

	verboseSource := sourceDefault
	if flags.Set["verbose"] {
		cfg.Verbose = flags.Verbose
		verboseSource = sourceFlag
	}
	cfg.Sources["verbose"] = verboseSource

	quietSource := sourceDefault
	if flags.Set["quiet"] {
		cfg.Quiet = flags.Quiet
		quietSource = sourceFlag
	}
	cfg.Sources["quiet"] = quietSource

	versionSource := sourceDefault
	cfg.ShowVersion = flags.Version
	if flags.Set["version"] {
		versionSource = sourceFlag
	}
	cfg.Sources["version"] = versionSource

	return cfg, nil
}

// BoardDatabasePath returns the location of the bulletin board SQLite file
// under the data directory.
func (cfg Config) BoardDatabasePath() string {
	return filepath.Join(cfg.DataDir, "board.db")
}

func defaultConfigValues() configDefaults {
	return configDefaults{
		Port:              8420,
		DataDir:           ".ensemble",
		RosterPath:        "",
		WorldPath:         "",
		CatalogOverride:   "",
		TickInterval:      5 * time.Second,
		InitialBPM:        120,
		LeaseDuration:     15 * time.Minute,
		TemporalHost:      temporalDefaultHost,
		TemporalNamespace: "default",
		TemporalEnabled:   true,
		TemporalDevServer: true,
		MaxWatches:        100,
		DevMode:           false,
	}
}

func parseFlags(args []string, defaults configDefaults) (flagValues, error) {
	if args == nil {
		args = []string{}
	}
	fs := flag.NewFlagSet("ensemble", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	port := fs.Int("port", defaults.Port, "HTTP port")
	token := fs.String("token", "", "Auth token for REST/WS")
	dataDir := fs.String("data-dir", defaults.DataDir, "Data directory")
	roster := fs.String("roster", defaults.RosterPath, "Character roster YAML path")
	world := fs.String("world", defaults.WorldPath, "MUD world YAML path")
	catalogOverride := fs.String("catalog-override", defaults.CatalogOverride, "Package catalog override YAML path")
	tickInterval := fs.Duration("tick-interval", defaults.TickInterval, "Simulation tick interval")
	bpm := fs.Int("bpm", defaults.InitialBPM, "Initial conductor tempo in BPM")
	leaseDuration := fs.Duration("lease-duration", defaults.LeaseDuration, "Bulletin claim lease duration")
	temporalHost := fs.String("temporal-host", defaults.TemporalHost, "Temporal server host:port")
	temporalNamespace := fs.String("temporal-namespace", defaults.TemporalNamespace, "Temporal namespace")
	temporalEnabled := fs.Bool("temporal-enabled", defaults.TemporalEnabled, "Enable Temporal workflows")
	temporalDevServer := fs.Bool("temporal-dev-server", defaults.TemporalDevServer, "Auto-start Temporal dev server")
	maxWatches := fs.Int("max-watches", defaults.MaxWatches, "Max active file watches")
	devMode := fs.Bool("dev", defaults.DevMode, "Enable developer mode")
	verbose := fs.Bool("verbose", false, "Enable verbose logging")
	quiet := fs.Bool("quiet", false, "Reduce logging to warnings")
	help := fs.Bool("help", false, "Show help")
	version := fs.Bool("version", false, "Print version and exit")
	helpShort := fs.Bool("h", false, "Show help")
	versionShort := fs.Bool("v", false, "Print version and exit")

	fs.Usage = func() {
		printHelp(fs.Output(), defaults)
	}

	if err := fs.Parse(args); err != nil {
		return flagValues{}, err
	}

	set := make(map[string]bool)
	fs.Visit(func(flagValue *flag.Flag) {
		set[flagValue.Name] = true
	})

	flags := flagValues{
		Port:              *port,
		Token:             *token,
		DataDir:           *dataDir,
		RosterPath:        *roster,
		WorldPath:         *world,
		CatalogOverride:   *catalogOverride,
		TickInterval:      *tickInterval,
		InitialBPM:        *bpm,
		LeaseDuration:     *leaseDuration,
		TemporalHost:      *temporalHost,
		TemporalNamespace: *temporalNamespace,
		TemporalEnabled:   *temporalEnabled,
		TemporalDevServer: *temporalDevServer,
		MaxWatches:        *maxWatches,
		DevMode:           *devMode,
		Verbose:           *verbose,
		Quiet:             *quiet,
		Help:              *help || *helpShort,
		Version:           *version || *versionShort,
		Set:               set,
	}

	if flags.Help {
		set["help"] = true
		fs.SetOutput(os.Stdout)
		fs.Usage()
		return flags, flag.ErrHelp
	}

	if flags.Version {
		set["version"] = true
	}

	return flags, nil
}

type helpOption struct {
	Name string
	Desc string
}

func printHelp(out io.Writer, defaults configDefaults) {
	fmt.Fprintln(out, "Usage: ensemble [options]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Ensemble orchestration daemon: conductor, simulation, world, bulletin board and document pipeline")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")

	writeOptionGroup(out, "Server", []helpOption{
		{
			Name: "--port PORT",
			Desc: fmt.Sprintf("HTTP port (env: ENSEMBLE_PORT, default: %d)", defaults.Port),
		},
		{
			Name: "--token TOKEN",
			Desc: "Auth token for REST/WS (env: ENSEMBLE_TOKEN, default: none)",
		},
		{
			Name: "--data-dir DIR",
			Desc: fmt.Sprintf("Data directory (env: ENSEMBLE_DATA_DIR, default: %s)", defaults.DataDir),
		},
	})

	writeOptionGroup(out, "Content", []helpOption{
		{
			Name: "--roster PATH",
			Desc: "Character roster YAML (env: ENSEMBLE_ROSTER, default: built-in roster)",
		},
		{
			Name: "--world PATH",
			Desc: "MUD world YAML (env: ENSEMBLE_WORLD, default: built-in world)",
		},
		{
			Name: "--catalog-override PATH",
			Desc: "Package catalog override YAML (env: ENSEMBLE_CATALOG_OVERRIDE, default: none)",
		},
	})

	writeOptionGroup(out, "Timing", []helpOption{
		{
			Name: "--tick-interval DUR",
			Desc: fmt.Sprintf("Simulation tick interval (env: ENSEMBLE_TICK_INTERVAL, default: %s)", defaults.TickInterval),
		},
		{
			Name: "--bpm N",
			Desc: fmt.Sprintf("Initial conductor tempo (env: ENSEMBLE_BPM, default: %d, range %d-%d)", defaults.InitialBPM, MinBPM, MaxBPM),
		},
		{
			Name: "--lease-duration DUR",
			Desc: fmt.Sprintf("Bulletin claim lease duration (env: ENSEMBLE_LEASE_DURATION, default: %s)", defaults.LeaseDuration),
		},
	})

	writeOptionGroup(out, "Temporal", []helpOption{
		{
			Name: "--temporal-host HOST:PORT",
			Desc: fmt.Sprintf("Temporal server address (env: ENSEMBLE_TEMPORAL_HOST, default: %s)", defaults.TemporalHost),
		},
		{
			Name: "--temporal-namespace NAME",
			Desc: fmt.Sprintf("Temporal namespace (env: ENSEMBLE_TEMPORAL_NAMESPACE, default: %s)", defaults.TemporalNamespace),
		},
		{
			Name: "--temporal-enabled",
			Desc: fmt.Sprintf("Enable Temporal workflows (env: ENSEMBLE_TEMPORAL_ENABLED, default: %t)", defaults.TemporalEnabled),
		},
		{
			Name: "--temporal-dev-server",
			Desc: fmt.Sprintf("Auto-start Temporal dev server (env: ENSEMBLE_TEMPORAL_DEV_SERVER, default: %t)", defaults.TemporalDevServer),
		},
	})

	writeOptionGroup(out, "Common", []helpOption{
		{
			Name: "--max-watches N",
			Desc: fmt.Sprintf("Max active file watches (env: ENSEMBLE_MAX_WATCHES, default: %d)", defaults.MaxWatches),
		},
		{
			Name: "--dev",
			Desc: fmt.Sprintf("Enable developer mode (env: ENSEMBLE_DEV_MODE, default: %t)", defaults.DevMode),
		},
		{
			Name: "--verbose",
			Desc: "Enable verbose logging (default: false)",
		},
		{
			Name: "--quiet",
			Desc: "Reduce logging to warnings (default: false)",
		},
		{
			Name: "--help",
			Desc: "Show this help message",
		},
		{
			Name: "--version",
			Desc: "Print version and exit",
		},
	})

	fmt.Fprintln(out, "Environment variables override defaults; CLI flags override environment variables.")
}

func writeOptionGroup(out io.Writer, title string, options []helpOption) {
	fmt.Fprintf(out, "  %s:\n", title)
	for _, option := range options {
		fmt.Fprintf(out, "    %-30s %s\n", option.Name, option.Desc)
	}
	fmt.Fprintln(out, "")
}
