package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/rotation/internal/domain"
)

// Config es la configuración completa del motor de rotación.
type Config struct {
	Log        LogConfig                 `yaml:"log"`
	Storage    StorageConfig             `yaml:"storage"`
	MarketData MarketDataConfig          `yaml:"marketdata"`
	Rules      RulesConfig               `yaml:"rules"`
	Pool       []PoolEntryConfig         `yaml:"pool"`
	Overrides  map[string]OverrideConfig `yaml:"overrides"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// StorageConfig controla dónde persiste el estado del ciclo.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// MarketDataConfig controla el histórico de precios y su fuente remota.
type MarketDataConfig struct {
	DSN     string `yaml:"dsn"`      // SQLite con la tabla daily_price
	APIBase string `yaml:"api_base"` // base URL del API de barras diarias
}

// RulesConfig son los umbrales del ciclo de breakout.
type RulesConfig struct {
	LookbackHighDays int     `yaml:"lookback_high_days"`
	VolMADays        int     `yaml:"vol_ma_days"`
	VolMultiplier    float64 `yaml:"vol_multiplier"`
	ConfirmDays      int     `yaml:"confirm_days"`
	FailDays         int     `yaml:"fail_days"`
	CooldownDays     int     `yaml:"cooldown_days"`
}

// PoolEntryConfig declara un instrumento seguido.
type PoolEntryConfig struct {
	Symbol    string `yaml:"symbol"`
	Name      string `yaml:"name"`
	GroupCode string `yaml:"group_code"`
	MaxLots   int    `yaml:"max_lots"`
	IsActive  *bool  `yaml:"is_active"` // default: activo
}

// OverrideConfig ajusta una entrada existente del pool sin tocar su identidad.
type OverrideConfig struct {
	MaxLots  *int  `yaml:"max_lots"`
	IsActive *bool `yaml:"is_active"`
}

// Load carga la configuración desde el archivo YAML y el archivo .env si
// existe. Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DomainRules convierte los umbrales al valor inmutable del dominio.
func (c *Config) DomainRules() domain.Rules {
	return domain.Rules{
		LookbackHighDays: c.Rules.LookbackHighDays,
		VolMADays:        c.Rules.VolMADays,
		VolMultiplier:    c.Rules.VolMultiplier,
		ConfirmDays:      c.Rules.ConfirmDays,
		FailDays:         c.Rules.FailDays,
		CooldownDays:     c.Rules.CooldownDays,
	}
}

// BuildPool construye el registro de instrumentos aplicando los overrides.
// Un override sobre un símbolo desconocido es un error de configuración.
func (c *Config) BuildPool() (*domain.Pool, error) {
	entries := make([]domain.PoolEntry, 0, len(c.Pool))
	for _, e := range c.Pool {
		active := true
		if e.IsActive != nil {
			active = *e.IsActive
		}
		entries = append(entries, domain.PoolEntry{
			Symbol:    e.Symbol,
			Name:      e.Name,
			GroupCode: e.GroupCode,
			MaxLots:   e.MaxLots,
			IsActive:  active,
		})
	}

	pool, err := domain.NewPool(entries)
	if err != nil {
		return nil, fmt.Errorf("config.BuildPool: %w", err)
	}

	if len(c.Overrides) == 0 {
		return pool, nil
	}
	overrides := make(map[string]domain.PoolOverride, len(c.Overrides))
	for sym, ov := range c.Overrides {
		overrides[sym] = domain.PoolOverride{MaxLots: ov.MaxLots, IsActive: ov.IsActive}
	}
	pool, err = pool.WithOverrides(overrides)
	if err != nil {
		return nil, fmt.Errorf("config.BuildPool: %w", err)
	}
	return pool, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("ROTATION_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("ROTATION_MARKETDATA_DSN"); v != "" {
		cfg.MarketData.DSN = v
	}
	if v := os.Getenv("ROTATION_API_BASE"); v != "" {
		cfg.MarketData.APIBase = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	def := domain.DefaultRules()
	if cfg.Rules.LookbackHighDays <= 0 {
		cfg.Rules.LookbackHighDays = def.LookbackHighDays
	}
	if cfg.Rules.VolMADays <= 0 {
		cfg.Rules.VolMADays = def.VolMADays
	}
	if cfg.Rules.VolMultiplier <= 0 {
		cfg.Rules.VolMultiplier = def.VolMultiplier
	}
	if cfg.Rules.ConfirmDays <= 0 {
		cfg.Rules.ConfirmDays = def.ConfirmDays
	}
	if cfg.Rules.FailDays <= 0 {
		cfg.Rules.FailDays = def.FailDays
	}
	if cfg.Rules.CooldownDays <= 0 {
		cfg.Rules.CooldownDays = def.CooldownDays
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "rotation.db"
	}
	if cfg.MarketData.DSN == "" {
		cfg.MarketData.DSN = "marketdata.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// validate rechaza configuraciones malformadas antes de arrancar ningún run.
func (c *Config) validate() error {
	if len(c.Pool) == 0 {
		return fmt.Errorf("config: empty pool")
	}
	// BuildPool repite estas comprobaciones, pero validar aquí da el error
	// en el load, antes de abrir ningún recurso.
	if _, err := c.BuildPool(); err != nil {
		return err
	}
	return nil
}
