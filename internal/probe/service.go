package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	consts "github.com/khanhnv2901/netlab/internal/shared/constants"
	apperrors "github.com/khanhnv2901/netlab/internal/shared/errors"
	"go.uber.org/zap"
)

// Operation names a rate-limited probe kind.
type Operation string

const (
	OpScan   Operation = "scan"
	OpPing   Operation = "ping"
	OpBanner Operation = "banner"
	OpTLS    Operation = "tls"
)

// Operations lists every probe kind in a stable order.
var Operations = []Operation{OpScan, OpPing, OpBanner, OpTLS}

// Limiter decides whether identity may run op now.
type Limiter interface {
	Allow(op Operation, identity string) bool
}

// Default ports used when a request leaves the port unset.
const (
	DefaultPingPort   = 80
	DefaultBannerPort = 80
	DefaultTLSPort    = 443
)

// ServiceConfig wires the collaborators and tunables of a Service.
// Zero durations and counts fall back to the package defaults.
type ServiceConfig struct {
	Validator *Validator
	Connector *Connector
	Limiter   Limiter // nil disables rate limiting
	Logger    *zap.Logger

	ConnectTimeout  time.Duration
	ScanConcurrency int
	ScanBudget      time.Duration
	MaxPorts        int
	PingTimeout     time.Duration
	BannerTimeout   time.Duration
	BannerMaxBytes  int
	TLSTimeout      time.Duration
	Now             func() time.Time
}

// Service is the entry point for every probe. Each call is rate limited, then
// its input and target are validated, and only then is any socket opened.
type Service struct {
	cfg       ServiceConfig
	validator *Validator
	connector *Connector
	logger    *zap.Logger
}

// NewService builds a Service. A missing validator gets the default policy and
// a missing connector dials with net.Dialer.
func NewService(cfg ServiceConfig) (*Service, error) {
	validator := cfg.Validator
	if validator == nil {
		v, err := NewValidator(ValidatorConfig{})
		if err != nil {
			return nil, fmt.Errorf("build validator: %w", err)
		}
		validator = v
	}
	connector := cfg.Connector
	if connector == nil {
		connector = NewConnector(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPorts <= 0 {
		cfg.MaxPorts = consts.MaxScanPorts
	}
	return &Service{
		cfg:       cfg,
		validator: validator,
		connector: connector,
		logger:    logger,
	}, nil
}

// Validator exposes the target policy so the denylist can be swapped at runtime.
func (s *Service) Validator() *Validator { return s.validator }

// ScanRequest selects ports either by spec string ("22,80,8000-8100") or by an
// explicit list. The list wins when both are set.
type ScanRequest struct {
	Host     string
	Ports    string
	PortList []int
	Observer func(ProbeResult)
}

// Scan probes the requested ports of host.
func (s *Service) Scan(ctx context.Context, identity string, req ScanRequest) (*ScanReport, error) {
	if err := s.allow(OpScan, identity); err != nil {
		return nil, err
	}

	var (
		ports     []uint16
		truncated bool
		err       error
	)
	if len(req.PortList) > 0 {
		ports, err = NormalizePorts(req.PortList, s.cfg.MaxPorts)
	} else {
		ports, truncated, err = ExpandPorts(req.Ports, s.cfg.MaxPorts)
	}
	if err != nil {
		return nil, err
	}

	target, err := s.validator.Validate(ctx, req.Host)
	if err != nil {
		return nil, s.failed(OpScan, req.Host, err)
	}

	scheduler := &Scheduler{
		Connector:   s.connector,
		Concurrency: s.cfg.ScanConcurrency,
		Timeout:     s.cfg.ConnectTimeout,
		Budget:      s.cfg.ScanBudget,
		MaxPorts:    s.cfg.MaxPorts,
		Observer:    req.Observer,
		Logger:      s.logger,
	}
	outcome, err := scheduler.ScanPorts(ctx, target, ports)
	if err != nil {
		return nil, s.failed(OpScan, req.Host, err)
	}

	report := &ScanReport{
		Host:           target.Host(),
		ResolvedIP:     target.ResolvedIP(),
		OpenPorts:      make([]OpenPort, 0, len(outcome.Open)),
		ClosedCount:    outcome.ClosedCount,
		TotalElapsedMs: outcome.TotalElapsedMs,
		Truncated:      truncated,
		Unfinished:     outcome.Unfinished,
	}
	for _, r := range outcome.Open {
		var ms float64
		if r.ElapsedMs != nil {
			ms = *r.ElapsedMs
		}
		report.OpenPorts = append(report.OpenPorts, OpenPort{Port: r.Port, Ms: ms})
	}

	s.logger.Info("probe completed",
		zap.String("operation", string(OpScan)),
		zap.String("host", report.Host),
		zap.String("resolved_ip", report.ResolvedIP),
		zap.Int("ports", len(ports)),
		zap.Int("open", len(report.OpenPorts)),
		zap.Float64("elapsed_ms", report.TotalElapsedMs),
	)
	return report, nil
}

// PingRequest asks for Attempts sequential connects to Port.
type PingRequest struct {
	Host     string
	Port     int
	Attempts int
}

// Ping measures TCP connect round trips. When every attempt fails the partial
// report is returned along with the connect error.
func (s *Service) Ping(ctx context.Context, identity string, req PingRequest) (*PingReport, error) {
	if err := s.allow(OpPing, identity); err != nil {
		return nil, err
	}
	port, err := ValidatePort(defaultInt(req.Port, DefaultPingPort))
	if err != nil {
		return nil, err
	}
	attempts := defaultInt(req.Attempts, consts.DefaultPingAttempts)
	if attempts < 1 || attempts > consts.MaxPingAttempts {
		return nil, &ValidationError{Field: "attempts", Reason: fmt.Sprintf("must be between 1 and %d", consts.MaxPingAttempts)}
	}

	target, err := s.validator.Validate(ctx, req.Host)
	if err != nil {
		return nil, s.failed(OpPing, req.Host, err)
	}

	pinger := &Pinger{Connector: s.connector, Timeout: s.cfg.PingTimeout}
	report, err := pinger.Ping(ctx, target, port, attempts)
	if err != nil {
		return report, s.failed(OpPing, req.Host, err)
	}

	s.logger.Info("probe completed",
		zap.String("operation", string(OpPing)),
		zap.String("host", report.Host),
		zap.String("resolved_ip", report.ResolvedIP),
		zap.Uint16("port", port),
		zap.Int("received", report.Received),
		zap.Int("attempts", report.Attempts),
	)
	return report, nil
}

// BannerRequest asks for the greeting of the service on Port. Hint selects a
// protocol probe to send first; MaxBytes zero keeps the configured cap.
type BannerRequest struct {
	Host     string
	Port     int
	Hint     string
	MaxBytes int
}

// Banner captures what the service sends after connecting.
func (s *Service) Banner(ctx context.Context, identity string, req BannerRequest) (*BannerReport, error) {
	if err := s.allow(OpBanner, identity); err != nil {
		return nil, err
	}
	port, err := ValidatePort(defaultInt(req.Port, DefaultBannerPort))
	if err != nil {
		return nil, err
	}
	maxBytes := defaultInt(req.MaxBytes, s.cfg.BannerMaxBytes)
	if maxBytes < 0 || maxBytes > consts.MaxBannerBytes {
		return nil, &ValidationError{Field: "maxBytes", Reason: fmt.Sprintf("must be between 1 and %d", consts.MaxBannerBytes)}
	}

	target, err := s.validator.Validate(ctx, req.Host)
	if err != nil {
		return nil, s.failed(OpBanner, req.Host, err)
	}

	reader := &BannerReader{Connector: s.connector}
	capture, err := reader.Grab(ctx, target, port, req.Hint, BannerOptions{
		Timeout:  s.cfg.BannerTimeout,
		MaxBytes: maxBytes,
	})
	if err != nil {
		return nil, s.failed(OpBanner, req.Host, err)
	}

	report := &BannerReport{
		Host:       target.Host(),
		ResolvedIP: target.ResolvedIP(),
		Port:       port,
		Hint:       strings.TrimSpace(req.Hint),
		Banner:     strings.ToValidUTF8(string(capture.Bytes), "�"),
		Bytes:      capture.ByteCount,
		ElapsedMs:  capture.ElapsedMs,
	}
	s.logger.Info("probe completed",
		zap.String("operation", string(OpBanner)),
		zap.String("host", report.Host),
		zap.String("resolved_ip", report.ResolvedIP),
		zap.Uint16("port", port),
		zap.Int("bytes", report.Bytes),
		zap.Float64("elapsed_ms", report.ElapsedMs),
	)
	return report, nil
}

// TLSRequest asks for a handshake with the service on Port.
type TLSRequest struct {
	Host string
	Port int
}

// TLS inspects the session and leaf certificate offered by host.
func (s *Service) TLS(ctx context.Context, identity string, req TLSRequest) (*TLSReport, error) {
	if err := s.allow(OpTLS, identity); err != nil {
		return nil, err
	}
	port, err := ValidatePort(defaultInt(req.Port, DefaultTLSPort))
	if err != nil {
		return nil, err
	}

	target, err := s.validator.Validate(ctx, req.Host)
	if err != nil {
		return nil, s.failed(OpTLS, req.Host, err)
	}

	inspector := &Inspector{
		Connector: s.connector,
		Timeout:   s.cfg.TLSTimeout,
		Now:       s.cfg.Now,
	}
	start := time.Now()
	summary, err := inspector.Inspect(ctx, target, port)
	if err != nil {
		return nil, s.failed(OpTLS, req.Host, err)
	}

	report := &TLSReport{
		Host:       target.Host(),
		ResolvedIP: target.ResolvedIP(),
		Port:       port,
		TLSSummary: *summary,
		ElapsedMs:  millis(time.Since(start)),
	}
	s.logger.Info("probe completed",
		zap.String("operation", string(OpTLS)),
		zap.String("host", report.Host),
		zap.String("resolved_ip", report.ResolvedIP),
		zap.Uint16("port", port),
		zap.String("protocol", report.Protocol),
		zap.Int("days_remaining", report.Certificate.DaysRemaining),
	)
	return report, nil
}

func (s *Service) allow(op Operation, identity string) error {
	if s.cfg.Limiter == nil || s.cfg.Limiter.Allow(op, identity) {
		return nil
	}
	s.logger.Warn("rate limit exceeded", zap.String("operation", string(op)), zap.String("identity", identity))
	return fmt.Errorf("%s: %w", op, apperrors.ErrRateLimited)
}

// failed logs a probe failure at a level matching who caused it.
func (s *Service) failed(op Operation, host string, err error) error {
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.String("host", host),
		zap.Error(err),
	}
	var forbidden *ForbiddenTargetError
	switch {
	case errors.As(err, &forbidden):
		s.logger.Warn("target rejected", fields...)
	case IsClientError(err):
		s.logger.Info("probe rejected", fields...)
	default:
		s.logger.Warn("probe failed", fields...)
	}
	return err
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
