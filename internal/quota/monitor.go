// Package quota probes metered usage and classifies it against thresholds.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/aretw0/forkline/internal/alert"
	"github.com/aretw0/forkline/internal/config"
	"github.com/aretw0/forkline/internal/logging"
	"github.com/aretw0/forkline/internal/metrics"
	"github.com/aretw0/forkline/pkg/domain"
	"github.com/aretw0/forkline/pkg/ports"
	"github.com/aretw0/forkline/pkg/retry"
)

// Thresholds classify a usage figure, all in hours-equivalent.
type Thresholds struct {
	Warning    float64
	Critical   float64
	Ceiling    float64
	Multiplier float64
	Product    string
	UnitType   string
}

// FromConfig converts the quota configuration section.
func FromConfig(cfg config.Quota) Thresholds {
	return Thresholds{
		Warning:    cfg.WarningHours,
		Critical:   cfg.CriticalHours,
		Ceiling:    cfg.CeilingHours,
		Multiplier: cfg.Multiplier,
		Product:    cfg.Product,
		UnitType:   cfg.UnitType,
	}
}

// DefaultThresholds is the free-tier split: warn at 118h, rotate at 119.5h of 120h.
func DefaultThresholds() Thresholds {
	return FromConfig(config.Default().Quota)
}

// Resolver fills an identity's display name through remote.
type Resolver interface {
	Resolve(ctx context.Context, identity domain.Identity, remote ports.Remote) (domain.Identity, error)
}

// Monitor checks one identity at a time.
type Monitor struct {
	connector  ports.Connector
	thresholds Thresholds
	resolver   Resolver
	logger     *slog.Logger
	metrics    *metrics.Metrics
	notifier   ports.Notifier
	sleep      retry.Sleeper
	pause      time.Duration
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithMetrics records every report.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = mt
	}
}

// WithNotifier alerts on assume-exhausted reports.
func WithNotifier(n ports.Notifier) Option {
	return func(m *Monitor) {
		m.notifier = n
	}
}

// WithResolver caches resolved display names.
func WithResolver(r Resolver) Option {
	return func(m *Monitor) {
		m.resolver = r
	}
}

// WithPause sets the wait between probes in CheckAll.
func WithPause(d time.Duration, sleep retry.Sleeper) Option {
	return func(m *Monitor) {
		m.pause = d
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// NewMonitor creates a Monitor connecting through connector.
func NewMonitor(connector ports.Connector, thresholds Thresholds, opts ...Option) *Monitor {
	m := &Monitor{
		connector:  connector,
		thresholds: thresholds,
		logger:     logging.NewNop(),
		notifier:   ports.NopNotifier{},
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Thresholds returns the configured thresholds.
func (m *Monitor) Thresholds() Thresholds {
	return m.thresholds
}

// Check probes identity through binding (which may be nil). It never
// fails: any probe error yields an assume-exhausted report.
func (m *Monitor) Check(ctx context.Context, identity domain.Identity, binding *domain.ProxyBinding) domain.QuotaReport {
	usage, label, err := m.probe(ctx, identity, binding)
	if err != nil {
		report := m.Assumed(label)
		m.logger.Warn("quota probe failed, assuming exhausted",
			"identity", label,
			"hours", report.HoursEquivalent,
			"err", err,
		)
		m.metrics.ObserveQuota(report)
		alert.Send(ctx, m.notifier, m.logger, fmt.Sprintf("Quota probe failed for %s, assuming exhausted: %v", label, err))
		return report
	}

	report := m.Classify(label, usage)
	m.logger.Debug("quota checked",
		"identity", label,
		"hours", report.HoursEquivalent,
		"remaining", report.RemainingHours,
		"warning", report.IsWarning,
		"exhausted", report.IsExhausted,
	)
	m.metrics.ObserveQuota(report)
	return report
}

func (m *Monitor) probe(ctx context.Context, identity domain.Identity, binding *domain.ProxyBinding) (domain.Usage, string, error) {
	label := identityLabel(identity)

	remote, err := m.connector.Connect(identity, binding)
	if err != nil {
		return domain.Usage{}, label, err
	}

	if identity.Name == "" {
		if m.resolver != nil {
			identity, err = m.resolver.Resolve(ctx, identity, remote)
		} else {
			identity.Name, err = remote.Username(ctx)
		}
		if err != nil {
			return domain.Usage{}, label, err
		}
		label = identityLabel(identity)
	}

	usage, err := remote.Usage(ctx, identity.Name)
	return usage, label, err
}

// Classify turns a usage report into a QuotaReport.
func (m *Monitor) Classify(identity string, usage domain.Usage) domain.QuotaReport {
	t := m.thresholds
	var minutes float64
	for _, item := range usage.Items {
		if item.Product == t.Product && item.UnitType == t.UnitType {
			minutes += item.Quantity
		}
	}
	hours := minutes * t.Multiplier / 60
	return domain.QuotaReport{
		Identity:        identity,
		ConsumedMinutes: minutes,
		HoursEquivalent: hours,
		RemainingHours:  math.Max(0, t.Ceiling-hours),
		CeilingHours:    t.Ceiling,
		IsWarning:       hours >= t.Warning,
		IsExhausted:     hours >= t.Critical,
	}
}

// Assumed is the conservative report used when the probe failed:
// maximal usage, nothing remaining, both flags set.
func (m *Monitor) Assumed(identity string) domain.QuotaReport {
	t := m.thresholds
	minutes := 0.0
	if t.Multiplier > 0 {
		minutes = t.Ceiling * 60 / t.Multiplier
	}
	return domain.QuotaReport{
		Identity:        identity,
		ConsumedMinutes: minutes,
		HoursEquivalent: t.Ceiling,
		RemainingHours:  0,
		CeilingHours:    t.Ceiling,
		IsWarning:       true,
		IsExhausted:     true,
		Assumed:         true,
	}
}

// CheckAll probes every identity sequentially, pausing between probes.
func (m *Monitor) CheckAll(ctx context.Context, identities []domain.Identity, lookup ports.BindingLookup) []domain.QuotaReport {
	if lookup == nil {
		lookup = ports.NoBindings
	}
	reports := make([]domain.QuotaReport, 0, len(identities))
	for i, identity := range identities {
		if i > 0 && m.pause > 0 {
			m.sleep(m.pause)
		}
		reports = append(reports, m.Check(ctx, identity, lookup(identity.Token)))
	}
	return reports
}

func identityLabel(identity domain.Identity) string {
	if identity.Name != "" {
		return identity.Name
	}
	return identity.Redacted()
}
