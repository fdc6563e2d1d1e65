package ops

import (
	"os"
	"strings"
	"time"

	"alats/internal/chaos"
	"alats/internal/core"
	"alats/internal/exchange/sim"
	"alats/internal/liquidity"
	"alats/internal/model"
	"alats/internal/og"
	"alats/internal/policy"
	"alats/internal/risk"
	"alats/internal/state"
	"alats/pkg/exception"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets in the file.
const (
	EnvAPIKey     = "ALATS_API_KEY"
	EnvAPISecret  = "ALATS_API_SECRET"
	EnvPGDSN      = "ALATS_PG_DSN"
	EnvWebhookURL = "ALATS_WEBHOOK_URL"
)

const (
	DriverFile     = "file"
	DriverPostgres = "postgres"

	ExchangeSim = "sim"
)

// FileConfig mirrors the YAML config layout.
type FileConfig struct {
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Policy      PolicyConfig      `yaml:"policy"`
	Risk        RiskConfig        `yaml:"risk"`
	Trading     TradingConfig     `yaml:"trading"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Alert       AlertConfig       `yaml:"alert"`
	Profiling   ProfilingConfig   `yaml:"profiling"`
}

// ExchangeConfig selects the venue adapter. Only the simulated venue ships
// with this module; Sandbox false means real money and requires credentials.
type ExchangeConfig struct {
	Name        string        `yaml:"name"`
	Sandbox     bool          `yaml:"sandbox"`
	RateLimit   int64         `yaml:"rate_limit"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	APIKey      string        `yaml:"api_key"`
	APISecret   string        `yaml:"api_secret"`
	Sim         SimConfig     `yaml:"sim"`
}

// SimConfig tunes the simulated venue and its fault injection.
type SimConfig struct {
	Seed         int64              `yaml:"seed"`
	Volatility   float64            `yaml:"volatility"`
	SpreadBps    float64            `yaml:"spread_bps"`
	Depth        float64            `yaml:"depth"`
	Volume       float64            `yaml:"volume"`
	PartialFills bool               `yaml:"partial_fills"`
	Prices       map[string]float64 `yaml:"prices"`
	Chaos        chaos.Config       `yaml:"chaos"`
}

type PolicyConfig struct {
	LearningRate        float64       `yaml:"learning_rate"`
	DiscountFactor      float64       `yaml:"discount_factor"`
	BatchSize           int           `yaml:"batch_size"`
	BufferCapacity      int           `yaml:"buffer_capacity"`
	UpdateFrequency     int           `yaml:"update_frequency"`
	WindowSize          int           `yaml:"window_size"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	OrderNotional       float64       `yaml:"order_notional"`
	InferTimeout        time.Duration `yaml:"infer_timeout"`
	TrainTimeout        time.Duration `yaml:"train_timeout"`
	ModelPath           string        `yaml:"model_path"`
	LibraryPath         string        `yaml:"library_path"`
	SpoolDir            string        `yaml:"spool_dir"`
	SpreadWeight        float64       `yaml:"spread_weight"`
	DepthWeight         float64       `yaml:"depth_weight"`
	VolumeWeight        float64       `yaml:"volume_weight"`
	NormalizeWeights    bool          `yaml:"normalize_weights"`
	NormalizationWindow int           `yaml:"normalization_window"`
}

type RiskConfig struct {
	MaxPositionSize float64       `yaml:"max_position_size"`
	MaxDailyLoss    float64       `yaml:"max_daily_loss"`
	StopLossPct     float64       `yaml:"stop_loss_pct"`
	TakeProfitPct   float64       `yaml:"take_profit_pct"`
	MaxLeverage     float64       `yaml:"max_leverage"`
	CoolingPeriod   time.Duration `yaml:"cooling_period"`
	InitialEquity   float64       `yaml:"initial_equity"`
	AlertThreshold  int           `yaml:"alert_threshold"`
}

type AssetConfig struct {
	Symbol       string  `yaml:"symbol"`
	TickSize     float64 `yaml:"tick_size"`
	MinOrderSize float64 `yaml:"min_order_size"`
}

type TradingConfig struct {
	Assets            []AssetConfig `yaml:"assets"`
	SamplingInterval  time.Duration `yaml:"sampling_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleCeiling      int           `yaml:"stale_ceiling"`
	DrainTimeout      time.Duration `yaml:"drain_timeout"`
}

type ExecutionConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	BackoffMin    time.Duration `yaml:"backoff_min"`
	BackoffMax    time.Duration `yaml:"backoff_max"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	BackoffJitter float64       `yaml:"backoff_jitter"`
}

type PersistenceConfig struct {
	Driver      string `yaml:"driver"`
	Dir         string `yaml:"dir"`
	Retain      int    `yaml:"retain"`
	DSN         string `yaml:"dsn"`
	MaxFailures int    `yaml:"max_failures"`
}

type AlertConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	HubAddr    string        `yaml:"hub_addr"`
	QueueSize  int           `yaml:"queue_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

type ProfilingConfig struct {
	PyroscopeAddr   string `yaml:"pyroscope_addr"`
	ApplicationName string `yaml:"application_name"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	File    FileConfig
	Runtime core.Config
	Sim     sim.Config
	Linear  policy.LinearConfig
	ONNX    policy.ONNXConfig
}

func defaults() FileConfig {
	return FileConfig{
		Exchange: ExchangeConfig{
			Name:        ExchangeSim,
			Sandbox:     true,
			RateLimit:   8,
			CallTimeout: 5 * time.Second,
		},
		Policy: PolicyConfig{
			LearningRate:        1e-3,
			DiscountFactor:      0.99,
			BatchSize:           32,
			BufferCapacity:      10_000,
			UpdateFrequency:     10,
			WindowSize:          60,
			ConfidenceThreshold: 0.6,
			OrderNotional:       100,
			InferTimeout:        500 * time.Millisecond,
			TrainTimeout:        30 * time.Second,
			SpreadWeight:        0.4,
			DepthWeight:         0.4,
			VolumeWeight:        0.2,
			NormalizationWindow: 100,
		},
		Risk: RiskConfig{
			MaxPositionSize: 0.1,
			MaxDailyLoss:    0.02,
			StopLossPct:     0.05,
			TakeProfitPct:   0.1,
			CoolingPeriod:   time.Minute,
			InitialEquity:   10_000,
			AlertThreshold:  5,
		},
		Trading: TradingConfig{
			SamplingInterval:  time.Second,
			HeartbeatInterval: 30 * time.Second,
			StaleCeiling:      5,
			DrainTimeout:      30 * time.Second,
		},
		Execution: ExecutionConfig{
			MaxRetries:    5,
			BackoffMin:    100 * time.Millisecond,
			BackoffMax:    5 * time.Second,
			BackoffFactor: 2,
			BackoffJitter: 0.2,
		},
		Persistence: PersistenceConfig{
			Driver:      DriverFile,
			Dir:         "./data/checkpoints",
			Retain:      16,
			MaxFailures: 3,
		},
		Alert: AlertConfig{
			QueueSize: 256,
			Timeout:   5 * time.Second,
		},
		Profiling: ProfilingConfig{
			ApplicationName: "alats.trader",
		},
	}
}

// LoadEnv reads the given dotenv files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnv(files ...string) error {
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return errors.Wrap(exception.ErrConfig, "load dotenv").With("files", strings.Join(present, ","))
	}
	return nil
}

// Load reads a YAML (or JSON) config file, applies environment overrides,
// validates it and resolves the component configs.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrapf(exception.ErrConfig, "read %s: %v", path, err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (Loaded, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrapf(exception.ErrConfig, "parse yaml: %v", err)
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Loaded{}, err
	}
	return cfg.resolve(), nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv(EnvAPISecret); v != "" {
		cfg.Exchange.APISecret = v
	}
	if v := os.Getenv(EnvPGDSN); v != "" {
		cfg.Persistence.DSN = v
	}
	if v := os.Getenv(EnvWebhookURL); v != "" {
		cfg.Alert.WebhookURL = v
	}
}

func invalid(field string, value any) error {
	return errors.Wrap(exception.ErrConfig, "invalid "+field).With(field, value)
}

func fraction(v float64) bool {
	return v > 0 && v <= 1
}

// Validate rejects configurations the runtime cannot start with.
func (c FileConfig) Validate() error {
	if c.Exchange.Name != ExchangeSim {
		return invalid("exchange.name", c.Exchange.Name)
	}
	if !c.Exchange.Sandbox && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return errors.Wrap(exception.ErrConfig, "live trading requires api credentials")
	}
	if c.Exchange.RateLimit <= 0 {
		return invalid("exchange.rate_limit", c.Exchange.RateLimit)
	}
	if c.Exchange.CallTimeout <= 0 {
		return invalid("exchange.call_timeout", c.Exchange.CallTimeout)
	}
	if err := c.Exchange.Sim.Chaos.Validate(); err != nil {
		return errors.Wrap(exception.ErrConfig, err.Error())
	}

	p := c.Policy
	switch {
	case p.LearningRate <= 0:
		return invalid("policy.learning_rate", p.LearningRate)
	case p.DiscountFactor < 0 || p.DiscountFactor >= 1:
		return invalid("policy.discount_factor", p.DiscountFactor)
	case p.BufferCapacity <= 0:
		return invalid("policy.buffer_capacity", p.BufferCapacity)
	case p.BatchSize <= 0 || p.BatchSize > p.BufferCapacity:
		return invalid("policy.batch_size", p.BatchSize)
	case p.WindowSize <= 0 || p.WindowSize > p.BufferCapacity:
		return invalid("policy.window_size", p.WindowSize)
	case p.UpdateFrequency <= 0:
		return invalid("policy.update_frequency", p.UpdateFrequency)
	case p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1:
		return invalid("policy.confidence_threshold", p.ConfidenceThreshold)
	case p.OrderNotional <= 0:
		return invalid("policy.order_notional", p.OrderNotional)
	case p.InferTimeout <= 0:
		return invalid("policy.infer_timeout", p.InferTimeout)
	case p.TrainTimeout <= 0:
		return invalid("policy.train_timeout", p.TrainTimeout)
	case p.SpreadWeight < 0 || p.DepthWeight < 0 || p.VolumeWeight < 0:
		return errors.Wrap(exception.ErrConfig, "negative liquidity weight")
	case p.SpreadWeight+p.DepthWeight+p.VolumeWeight == 0:
		return errors.Wrap(exception.ErrConfig, "liquidity weights are all zero")
	case p.NormalizationWindow <= 0:
		return invalid("policy.normalization_window", p.NormalizationWindow)
	}

	r := c.Risk
	switch {
	case !fraction(r.MaxPositionSize):
		return invalid("risk.max_position_size", r.MaxPositionSize)
	case !fraction(r.MaxDailyLoss):
		return invalid("risk.max_daily_loss", r.MaxDailyLoss)
	case !fraction(r.StopLossPct):
		return invalid("risk.stop_loss_pct", r.StopLossPct)
	case r.TakeProfitPct <= 0:
		return invalid("risk.take_profit_pct", r.TakeProfitPct)
	case r.MaxLeverage < 0:
		return invalid("risk.max_leverage", r.MaxLeverage)
	case r.CoolingPeriod <= 0:
		return invalid("risk.cooling_period", r.CoolingPeriod)
	case r.InitialEquity <= 0:
		return invalid("risk.initial_equity", r.InitialEquity)
	case r.AlertThreshold <= 0:
		return invalid("risk.alert_threshold", r.AlertThreshold)
	}

	t := c.Trading
	if len(t.Assets) == 0 {
		return errors.Wrap(exception.ErrConfig, "no trading assets")
	}
	seen := make(map[string]struct{}, len(t.Assets))
	for _, a := range t.Assets {
		if a.Symbol == "" {
			return errors.Wrap(exception.ErrConfig, "empty asset symbol")
		}
		if _, dup := seen[a.Symbol]; dup {
			return invalid("trading.assets", a.Symbol)
		}
		seen[a.Symbol] = struct{}{}
		if a.TickSize <= 0 || a.MinOrderSize <= 0 {
			return errors.Wrap(exception.ErrConfig, "asset tick and min order size must be positive").With("symbol", a.Symbol)
		}
	}
	switch {
	case t.SamplingInterval <= 0:
		return invalid("trading.sampling_interval", t.SamplingInterval)
	case t.HeartbeatInterval <= 0:
		return invalid("trading.heartbeat_interval", t.HeartbeatInterval)
	case t.StaleCeiling <= 0:
		return invalid("trading.stale_ceiling", t.StaleCeiling)
	case t.DrainTimeout <= 0:
		return invalid("trading.drain_timeout", t.DrainTimeout)
	}

	e := c.Execution
	switch {
	case e.MaxRetries <= 0:
		return invalid("execution.max_retries", e.MaxRetries)
	case e.BackoffMin <= 0 || e.BackoffMax < e.BackoffMin:
		return invalid("execution.backoff_max", e.BackoffMax)
	case e.BackoffFactor < 1:
		return invalid("execution.backoff_factor", e.BackoffFactor)
	case e.BackoffJitter < 0 || e.BackoffJitter > 1:
		return invalid("execution.backoff_jitter", e.BackoffJitter)
	}

	s := c.Persistence
	switch s.Driver {
	case DriverFile:
		if s.Dir == "" {
			return invalid("persistence.dir", s.Dir)
		}
	case DriverPostgres:
		if s.DSN == "" {
			return errors.Wrap(exception.ErrConfig, "postgres persistence requires a dsn")
		}
	default:
		return invalid("persistence.driver", s.Driver)
	}
	if s.Retain <= 0 {
		return invalid("persistence.retain", s.Retain)
	}
	if s.MaxFailures <= 0 {
		return invalid("persistence.max_failures", s.MaxFailures)
	}

	if c.Alert.QueueSize <= 0 {
		return invalid("alert.queue_size", c.Alert.QueueSize)
	}
	return nil
}

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func (c FileConfig) resolve() Loaded {
	assets := make([]model.Asset, len(c.Trading.Assets))
	for i, a := range c.Trading.Assets {
		assets[i] = model.Asset{
			Symbol:       a.Symbol,
			TickSize:     dec(a.TickSize),
			MinOrderSize: dec(a.MinOrderSize),
		}
	}

	p := c.Policy
	rt := core.Config{
		Assets:            assets,
		SamplingInterval:  c.Trading.SamplingInterval,
		HeartbeatInterval: c.Trading.HeartbeatInterval,
		DrainTimeout:      c.Trading.DrainTimeout,
		InitialEquity:     dec(c.Risk.InitialEquity),
		OrderNotional:     dec(p.OrderNotional),
		BufferCapacity:    p.BufferCapacity,
		AlertThreshold:    c.Risk.AlertThreshold,
		Seed:              c.Exchange.Sim.Seed,
		Liquidity: liquidity.Config{
			Interval: c.Trading.SamplingInterval,
			Weights: liquidity.Weights{
				Spread:    p.SpreadWeight,
				Depth:     p.DepthWeight,
				Volume:    p.VolumeWeight,
				Normalize: p.NormalizeWeights,
			},
			Window:       p.NormalizationWindow,
			StaleCeiling: c.Trading.StaleCeiling,
		},
		Policy: policy.Config{
			WindowSize:          p.WindowSize,
			ConfidenceThreshold: p.ConfidenceThreshold,
			BatchSize:           p.BatchSize,
			UpdateFrequency:     p.UpdateFrequency,
			InferTimeout:        p.InferTimeout,
			TrainTimeout:        p.TrainTimeout,
		},
		Risk: risk.Config{
			MaxPositionSize: dec(c.Risk.MaxPositionSize),
			MaxDailyLoss:    dec(c.Risk.MaxDailyLoss),
			StopLossPct:     dec(c.Risk.StopLossPct),
			TakeProfitPct:   dec(c.Risk.TakeProfitPct),
			MaxLeverage:     dec(c.Risk.MaxLeverage),
			CoolingPeriod:   c.Risk.CoolingPeriod,
		},
		Execution: og.Config{
			MaxRetries: c.Execution.MaxRetries,
			Backoff: og.Backoff{
				Min:    c.Execution.BackoffMin,
				Max:    c.Execution.BackoffMax,
				Factor: c.Execution.BackoffFactor,
				Jitter: c.Execution.BackoffJitter,
			},
			CallTimeout: c.Exchange.CallTimeout,
			RateLimit:   c.Exchange.RateLimit,
		},
		Checkpoint: state.Config{
			MaxFailures: c.Persistence.MaxFailures,
		},
	}

	s := c.Exchange.Sim
	return Loaded{
		File:    c,
		Runtime: rt,
		Sim: sim.Config{
			Seed:         s.Seed,
			Volatility:   s.Volatility,
			SpreadBps:    s.SpreadBps,
			Depth:        s.Depth,
			Volume:       s.Volume,
			PartialFills: s.PartialFills,
			Prices:       s.Prices,
			Chaos:        s.Chaos,
		},
		Linear: policy.LinearConfig{
			WindowSize:    p.WindowSize,
			LearningRate:  p.LearningRate,
			Discount:      p.DiscountFactor,
			OrderNotional: dec(p.OrderNotional),
		},
		ONNX: policy.ONNXConfig{
			ModelPath:     p.ModelPath,
			LibraryPath:   p.LibraryPath,
			WindowSize:    p.WindowSize,
			OrderNotional: dec(p.OrderNotional),
			SpoolDir:      p.SpoolDir,
		},
	}
}
