// Package ops loads the trader's JSON configuration and resolves it into
// the per-component configs with defaults applied. Every threshold the
// strategy tunes empirically lives here, never hard-coded in a loop.
package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BenLeung-moon/tiger-trader/internal/engine"
	"github.com/BenLeung-moon/tiger-trader/internal/ratelimit"
	"github.com/BenLeung-moon/tiger-trader/internal/reconcile"
	"github.com/BenLeung-moon/tiger-trader/internal/review"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Engine    EngineConfig    `json:"engine"`
	Review    ReviewConfig    `json:"review"`
	Reconcile ReconcileConfig `json:"reconcile"`
	RateLimit RateLimitConfig `json:"rateLimit"`
	Database  DatabaseConfig  `json:"database"`
	Cadence   CadenceConfig   `json:"cadence"`

	SnapshotPath  string `json:"snapshotPath"`
	QueueCapacity int    `json:"queueCapacity"`
}

// EngineConfig tunes sizing and order conversion.
type EngineConfig struct {
	RiskFraction         decimal.Decimal `json:"riskFraction"`
	Buffer               decimal.Decimal `json:"buffer"`
	NearCloseBuffer      decimal.Decimal `json:"nearCloseBuffer"`
	NearCloseWindow      time.Duration   `json:"nearCloseWindow"`
	MaxRetries           int             `json:"maxRetries"`
	SubmitTimeout        time.Duration   `json:"submitTimeout"`
	HKRMBCounterFallback bool            `json:"hkRmbCounterFallback"`
}

// ReviewConfig tunes the pending-order policy.
type ReviewConfig struct {
	MaxAge       time.Duration   `json:"maxAge"`
	AdverseDrift decimal.Decimal `json:"adverseDrift"`
	ImproveDrift decimal.Decimal `json:"improveDrift"`
	Buffer       decimal.Decimal `json:"buffer"`
	CallTimeout  time.Duration   `json:"callTimeout"`
}

// ReconcileConfig tunes the authoritative refresh.
type ReconcileConfig struct {
	CallTimeout time.Duration `json:"callTimeout"`
	EquityEvery int           `json:"equityEvery"`
}

// RatePolicy is one endpoint class ceiling.
type RatePolicy struct {
	MaxCalls int           `json:"maxCalls"`
	Window   time.Duration `json:"window"`
}

// RateLimitConfig describes the broker-imposed ceilings.
type RateLimitConfig struct {
	MaxWait time.Duration `json:"maxWait"`
	Quote   RatePolicy    `json:"quote"`
	Order   RatePolicy    `json:"order"`
	Account RatePolicy    `json:"account"`
}

// DatabaseConfig points at the trade-history PostgreSQL instance.
type DatabaseConfig struct {
	Disabled bool   `json:"disabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

// CadenceConfig sets the three loop periods.
type CadenceConfig struct {
	Decision  time.Duration `json:"decision"`
	Review    time.Duration `json:"review"`
	Reconcile time.Duration `json:"reconcile"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Engine    engine.Config
	Review    review.Config
	Reconcile reconcile.Config

	RateMaxWait  time.Duration
	RatePolicies map[ratelimit.Class]ratelimit.Policy

	Database DatabaseConfig
	Cadence  CadenceConfig

	SnapshotPath  string
	QueueCapacity int
}

// Load reads a JSON config file and resolves it. A missing path yields
// pure defaults.
func Load(path string) (Loaded, error) {
	var cfg FileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, err
		}
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	one := decimal.NewFromInt(1)
	if cfg.Engine.RiskFraction.IsNegative() || cfg.Engine.RiskFraction.GreaterThan(one) {
		return Loaded{}, fmt.Errorf("riskFraction must be within (0, 1]: %s", cfg.Engine.RiskFraction)
	}
	if cfg.Engine.Buffer.IsNegative() || cfg.Review.AdverseDrift.IsNegative() || cfg.Review.ImproveDrift.IsNegative() {
		return Loaded{}, fmt.Errorf("price thresholds must be >= 0")
	}

	loaded := Loaded{
		Engine: engine.Config{
			RiskFraction:         cfg.Engine.RiskFraction,
			Buffer:               cfg.Engine.Buffer,
			NearCloseBuffer:      cfg.Engine.NearCloseBuffer,
			NearCloseWindow:      cfg.Engine.NearCloseWindow,
			MaxRetries:           cfg.Engine.MaxRetries,
			SubmitTimeout:        cfg.Engine.SubmitTimeout,
			HKRMBCounterFallback: cfg.Engine.HKRMBCounterFallback,
		},
		Review: review.Config{
			MaxAge:       cfg.Review.MaxAge,
			AdverseDrift: cfg.Review.AdverseDrift,
			ImproveDrift: cfg.Review.ImproveDrift,
			Buffer:       cfg.Review.Buffer,
			CallTimeout:  cfg.Review.CallTimeout,
		},
		Reconcile: reconcile.Config{
			CallTimeout: cfg.Reconcile.CallTimeout,
			EquityEvery: cfg.Reconcile.EquityEvery,
		},
		RateMaxWait:   cfg.RateLimit.MaxWait,
		Database:      cfg.Database,
		Cadence:       cfg.Cadence,
		SnapshotPath:  cfg.SnapshotPath,
		QueueCapacity: cfg.QueueCapacity,
	}

	if loaded.RateMaxWait <= 0 {
		loaded.RateMaxWait = 30 * time.Second
	}
	loaded.RatePolicies = map[ratelimit.Class]ratelimit.Policy{
		ratelimit.ClassQuote:   resolvePolicy(cfg.RateLimit.Quote, 30, time.Minute),
		ratelimit.ClassOrder:   resolvePolicy(cfg.RateLimit.Order, 5, time.Minute),
		ratelimit.ClassAccount: resolvePolicy(cfg.RateLimit.Account, 10, time.Minute),
	}

	if loaded.Cadence.Decision <= 0 {
		loaded.Cadence.Decision = 180 * time.Second
	}
	if loaded.Cadence.Review <= 0 {
		loaded.Cadence.Review = 5 * time.Minute
	}
	if loaded.Cadence.Reconcile <= 0 {
		loaded.Cadence.Reconcile = time.Minute
	}
	if loaded.QueueCapacity <= 0 {
		loaded.QueueCapacity = 16
	}
	if loaded.SnapshotPath == "" {
		loaded.SnapshotPath = "data/ledger.json"
	}
	return loaded, nil
}

func resolvePolicy(p RatePolicy, defaultCalls int, defaultWindow time.Duration) ratelimit.Policy {
	if p.MaxCalls <= 0 {
		p.MaxCalls = defaultCalls
	}
	if p.Window <= 0 {
		p.Window = defaultWindow
	}
	return ratelimit.Policy{MaxCalls: p.MaxCalls, Window: p.Window}
}
