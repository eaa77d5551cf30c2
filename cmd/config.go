package cmd

import (
	"fmt"
	"time"

	"github.com/khanhnv2901/netlab/internal/probe"
	"github.com/khanhnv2901/netlab/internal/ratelimit"
	consts "github.com/khanhnv2901/netlab/internal/shared/constants"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultServerAddr      = "127.0.0.1:8080"
	defaultShutdownTimeout = 30 * time.Second
	defaultJobTimeout      = 90 * time.Second
	defaultLimiterSweep    = time.Minute
	defaultLogMaxSizeMB    = 50
	defaultLogMaxBackups   = 5
	defaultLogMaxAgeDays   = 28
)

// CLIConfig captures runtime configuration shared across commands.
type CLIConfig struct {
	ResultsDir string
	Telemetry  bool
	Log        LogConfig
	Probe      ProbeConfig
	Server     ServerConfig
	RateLimit  map[probe.Operation]ratelimit.Policy
}

// LogConfig selects the zap encoder, level and optional rotating file.
type LogConfig struct {
	Level      string
	Format     string // console or json
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ProbeConfig holds the tunables handed to probe.Service.
type ProbeConfig struct {
	ConnectTimeout  time.Duration
	ScanConcurrency int
	ScanBudget      time.Duration
	MaxPorts        int
	DNSTimeout      time.Duration
	PingTimeout     time.Duration
	BannerTimeout   time.Duration
	BannerMaxBytes  int
	TLSTimeout      time.Duration
	Denylist        []string
	ExtraForbidden  []string
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Addr            string
	AuthToken       string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
	JobTimeout      time.Duration
	MaxJobs         int
}

var cliConfig = newCLIConfig()

// Test hooks; nil means the system resolver and a plain net.Dialer.
var (
	probeResolver probe.Resolver
	probeDialer   probe.Dialer
)

func newCLIConfig() *CLIConfig {
	return &CLIConfig{
		ResultsDir: "./results",
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
		},
		Probe: ProbeConfig{
			ConnectTimeout:  consts.DefaultConnectTimeout,
			ScanConcurrency: consts.DefaultScanConcurrency,
			ScanBudget:      consts.DefaultScanBudget,
			MaxPorts:        consts.MaxScanPorts,
			DNSTimeout:      consts.DefaultDNSTimeout,
			PingTimeout:     consts.DefaultPingTimeout,
			BannerTimeout:   consts.DefaultBannerTimeout,
			BannerMaxBytes:  consts.DefaultBannerMaxBytes,
			TLSTimeout:      consts.DefaultTLSTimeout,
		},
		Server: ServerConfig{
			Addr:            defaultServerAddr,
			ShutdownTimeout: defaultShutdownTimeout,
			JobTimeout:      defaultJobTimeout,
		},
		RateLimit: ratelimit.DefaultPolicies(),
	}
}

// applyConfigDefaults merges config file and environment values into the
// runtime config when the user did not explicitly override the corresponding flag.
func applyConfigDefaults(cmd *cobra.Command) {
	flags := cmd.Flags()

	if viper.IsSet("results_dir") {
		cliConfig.ResultsDir = viper.GetString("results_dir")
	}
	if viper.IsSet("telemetry") {
		applyBoolDefault(flags, "telemetry", viper.GetBool("telemetry"), func(v bool) { cliConfig.Telemetry = v })
	}

	if viper.IsSet("log.level") {
		setStringFlagIfUnset(flags, "log-level", viper.GetString("log.level"))
		if f := flags.Lookup("log-level"); f == nil {
			cliConfig.Log.Level = viper.GetString("log.level")
		}
	}
	if viper.IsSet("log.format") {
		cliConfig.Log.Format = viper.GetString("log.format")
	}
	if viper.IsSet("log.file") {
		cliConfig.Log.File = viper.GetString("log.file")
	}
	if viper.IsSet("log.max_size_mb") {
		cliConfig.Log.MaxSizeMB = viper.GetInt("log.max_size_mb")
	}
	if viper.IsSet("log.max_backups") {
		cliConfig.Log.MaxBackups = viper.GetInt("log.max_backups")
	}
	if viper.IsSet("log.max_age_days") {
		cliConfig.Log.MaxAgeDays = viper.GetInt("log.max_age_days")
	}

	applyProbeDefaults(flags)
	applyServerDefaults(flags)
	cliConfig.RateLimit = loadRateLimitPolicies(cliConfig.RateLimit)
}

func applyProbeDefaults(flags *pflag.FlagSet) {
	p := &cliConfig.Probe
	if viper.IsSet("probe.connect_timeout") {
		applyDurationDefault(flags, "timeout", viper.GetDuration("probe.connect_timeout"), func(v time.Duration) { p.ConnectTimeout = v })
	}
	if viper.IsSet("probe.scan_concurrency") {
		applyIntDefault(flags, "concurrency", viper.GetInt("probe.scan_concurrency"), func(v int) { p.ScanConcurrency = v })
	}
	if viper.IsSet("probe.scan_budget") {
		applyDurationDefault(flags, "budget", viper.GetDuration("probe.scan_budget"), func(v time.Duration) { p.ScanBudget = v })
	}
	if viper.IsSet("probe.max_ports") {
		p.MaxPorts = viper.GetInt("probe.max_ports")
	}
	if viper.IsSet("probe.dns_timeout") {
		p.DNSTimeout = viper.GetDuration("probe.dns_timeout")
	}
	if viper.IsSet("probe.ping_timeout") {
		p.PingTimeout = viper.GetDuration("probe.ping_timeout")
	}
	if viper.IsSet("probe.banner_timeout") {
		p.BannerTimeout = viper.GetDuration("probe.banner_timeout")
	}
	if viper.IsSet("probe.banner_max_bytes") {
		p.BannerMaxBytes = viper.GetInt("probe.banner_max_bytes")
	}
	if viper.IsSet("probe.tls_timeout") {
		p.TLSTimeout = viper.GetDuration("probe.tls_timeout")
	}
	if viper.IsSet("probe.denylist") {
		p.Denylist = viper.GetStringSlice("probe.denylist")
	}
	if viper.IsSet("probe.forbidden_ranges") {
		p.ExtraForbidden = viper.GetStringSlice("probe.forbidden_ranges")
	}
}

func applyServerDefaults(flags *pflag.FlagSet) {
	s := &cliConfig.Server
	if viper.IsSet("server.addr") {
		setStringFlagIfUnset(flags, "addr", viper.GetString("server.addr"))
		if flags.Lookup("addr") == nil {
			s.Addr = viper.GetString("server.addr")
		}
	}
	if viper.IsSet("server.auth_token") {
		setStringFlagIfUnset(flags, "auth-token", viper.GetString("server.auth_token"))
		if flags.Lookup("auth-token") == nil {
			s.AuthToken = viper.GetString("server.auth_token")
		}
	}
	if viper.IsSet("server.cors_origins") {
		if f := flags.Lookup("cors-origins"); f == nil || !f.Changed {
			s.CORSOrigins = viper.GetStringSlice("server.cors_origins")
		}
	}
	if viper.IsSet("server.shutdown_timeout") {
		applyDurationDefault(flags, "shutdown-timeout", viper.GetDuration("server.shutdown_timeout"), func(v time.Duration) { s.ShutdownTimeout = v })
	}
	if viper.IsSet("server.job_timeout") {
		s.JobTimeout = viper.GetDuration("server.job_timeout")
	}
	if viper.IsSet("server.max_jobs") {
		s.MaxJobs = viper.GetInt("server.max_jobs")
	}
}

// loadRateLimitPolicies overlays ratelimit.<op>.max and ratelimit.<op>.window on base.
// A max of zero disables limiting for that operation.
func loadRateLimitPolicies(base map[probe.Operation]ratelimit.Policy) map[probe.Operation]ratelimit.Policy {
	out := make(map[probe.Operation]ratelimit.Policy, len(probe.Operations))
	for op, p := range base {
		out[op] = p
	}
	for _, op := range probe.Operations {
		p := out[op]
		prefix := "ratelimit." + string(op)
		if viper.IsSet(prefix + ".max") {
			p.Max = viper.GetInt(prefix + ".max")
		}
		if viper.IsSet(prefix + ".window") {
			p.Window = viper.GetDuration(prefix + ".window")
		}
		out[op] = p
	}
	return out
}

// buildProbeService wires the validator, limiter and probe service from cfg.
func buildProbeService(appCtx *AppContext) (*probe.Service, *ratelimit.WindowLimiter, error) {
	cfg := appCtx.Config
	validator, err := probe.NewValidator(probe.ValidatorConfig{
		Resolver:       probeResolver,
		Denylist:       cfg.Probe.Denylist,
		ExtraForbidden: cfg.Probe.ExtraForbidden,
		DNSTimeout:     cfg.Probe.DNSTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("configure target validator: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit)
	svc, err := probe.NewService(probe.ServiceConfig{
		Validator:       validator,
		Connector:       probe.NewConnector(probeDialer),
		Limiter:         limiter,
		Logger:          appCtx.Logger,
		ConnectTimeout:  cfg.Probe.ConnectTimeout,
		ScanConcurrency: cfg.Probe.ScanConcurrency,
		ScanBudget:      cfg.Probe.ScanBudget,
		MaxPorts:        cfg.Probe.MaxPorts,
		PingTimeout:     cfg.Probe.PingTimeout,
		BannerTimeout:   cfg.Probe.BannerTimeout,
		BannerMaxBytes:  cfg.Probe.BannerMaxBytes,
		TLSTimeout:      cfg.Probe.TLSTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return svc, limiter, nil
}

func applyIntDefault(flags *pflag.FlagSet, name string, value int, setter func(int)) {
	if flags == nil || setter == nil {
		return
	}
	flag := flags.Lookup(name)
	if flag != nil && flag.Changed {
		return
	}
	setter(value)
}

func applyBoolDefault(flags *pflag.FlagSet, name string, value bool, setter func(bool)) {
	if flags == nil || setter == nil {
		return
	}
	flag := flags.Lookup(name)
	if flag != nil && flag.Changed {
		return
	}
	setter(value)
}

func applyDurationDefault(flags *pflag.FlagSet, name string, value time.Duration, setter func(time.Duration)) {
	if flags == nil || setter == nil {
		return
	}
	flag := flags.Lookup(name)
	if flag != nil && flag.Changed {
		return
	}
	setter(value)
}

func setStringFlagIfUnset(flags *pflag.FlagSet, name, value string) {
	if flags == nil {
		return
	}
	flag := flags.Lookup(name)
	if flag == nil || flag.Changed {
		return
	}
	_ = flag.Value.Set(value)
}
