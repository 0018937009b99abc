package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultDBURL          = "postgres://127.0.0.1:5432/rte"
	defaultAPIURL         = "https://digital.iservices.rte-france.com/open_api/actual_generation/v1/actual_generations_per_unit"
	defaultTokenURL       = "https://digital.iservices.rte-france.com/token/oauth"
	defaultTTL            = 7 * 24 * time.Hour
	defaultHistory        = 24 * time.Hour
	defaultLookback       = 48 * time.Hour
	defaultRequestTimeout = 30 * time.Second
	defaultChunkSize      = 256
	defaultUnitsCSV       = "reactors.csv"
	defaultPlantsCSV      = "plants.csv"
	defaultTopicPrefix    = "rte/generation"
)

// DefaultProductionTypes is the allow-list used when PRODUCTION_TYPE_FILTER is
// unset or empty.
var DefaultProductionTypes = []string{"NUCLEAR"}

// WindowStrategy selects how the fetch window is computed.
type WindowStrategy string

const (
	WindowPaddedDay     WindowStrategy = "padded-day"
	WindowFixedLookback WindowStrategy = "fixed-lookback"
)

// MatchStrategy selects how raw observations are matched to catalog units.
type MatchStrategy string

const (
	MatchExactCode MatchStrategy = "exact-code"
	MatchFuzzyName MatchStrategy = "fuzzy-name"
)

// WatermarkStrategy selects the store aggregation used to read watermarks.
type WatermarkStrategy string

const (
	WatermarkMax    WatermarkStrategy = "max"
	WatermarkLatest WatermarkStrategy = "latest"
)

// InvalidValuePolicy decides what happens to values that are not numbers.
type InvalidValuePolicy string

const (
	InvalidValueDrop InvalidValuePolicy = "drop"
	InvalidValueNull InvalidValuePolicy = "null"
)

// Config holds runtime configuration for the watcher jobs.
type Config struct {
	DBURL              string
	TTL                time.Duration
	History            time.Duration
	WindowStrategy     WindowStrategy
	Lookback           time.Duration
	ProductionTypes    []string
	MatchStrategy      MatchStrategy
	WatermarkStrategy  WatermarkStrategy
	InvalidValuePolicy InvalidValuePolicy
	ChunkSize          int
	DryRun             bool

	RTE     RTEConfig
	Catalog CatalogConfig
	MQTT    MQTTConfig
	Archive ArchiveConfig

	PushgatewayURL string
	LogLevel       string
	LogFormat      string
}

// RTEConfig holds the upstream API settings.
type RTEConfig struct {
	APIURL         string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	RequestTimeout time.Duration
}

// CatalogConfig points at the CSV inputs of the units job.
type CatalogConfig struct {
	UnitsCSV  string
	PlantsCSV string
}

// MQTTConfig holds the optional notification broker settings.
type MQTTConfig struct {
	Broker      string
	TopicPrefix string
	Username    string
	Password    string
}

// Enabled reports whether MQTT notifications are configured.
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

// ArchiveConfig holds the optional S3-compatible raw payload archive settings.
type ArchiveConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Secure    bool
}

// Enabled reports whether raw payload archiving is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Endpoint != "" && a.Bucket != ""
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is ignored.
func LoadFile(envFile string) (Config, error) {
	_ = godotenv.Load(envFile)
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from a lookup function such as os.LookupEnv,
// applying defaults for unset variables.
func FromEnv(lookupEnv func(string) (string, bool)) (Config, error) {
	get := func(key string) string {
		v, _ := lookupEnv(key)
		return strings.TrimSpace(v)
	}

	cfg := Config{
		DBURL:              defaultDBURL,
		TTL:                defaultTTL,
		History:            defaultHistory,
		WindowStrategy:     WindowPaddedDay,
		Lookback:           defaultLookback,
		ProductionTypes:    append([]string(nil), DefaultProductionTypes...),
		MatchStrategy:      MatchExactCode,
		WatermarkStrategy:  WatermarkMax,
		InvalidValuePolicy: InvalidValueDrop,
		ChunkSize:          defaultChunkSize,
		RTE: RTEConfig{
			APIURL:         defaultAPIURL,
			TokenURL:       defaultTokenURL,
			RequestTimeout: defaultRequestTimeout,
		},
		Catalog: CatalogConfig{
			UnitsCSV:  defaultUnitsCSV,
			PlantsCSV: defaultPlantsCSV,
		},
		MQTT: MQTTConfig{
			TopicPrefix: defaultTopicPrefix,
		},
		LogLevel:  "info",
		LogFormat: "json",
	}

	if v := get("DB_URL"); v != "" {
		cfg.DBURL = v
	}

	var err error
	if cfg.TTL, err = seconds(get("TTL"), cfg.TTL); err != nil {
		return cfg, fmt.Errorf("invalid TTL: %w", err)
	}
	if cfg.History, err = seconds(get("HISTORY"), cfg.History); err != nil {
		return cfg, fmt.Errorf("invalid HISTORY: %w", err)
	}

	if v := get("WINDOW_STRATEGY"); v != "" {
		cfg.WindowStrategy = WindowStrategy(strings.ToLower(v))
		if cfg.WindowStrategy != WindowPaddedDay && cfg.WindowStrategy != WindowFixedLookback {
			return cfg, fmt.Errorf("invalid WINDOW_STRATEGY: %s", v)
		}
	}

	if v := get("WINDOW_LOOKBACK"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("invalid WINDOW_LOOKBACK: %s", v)
		}
		cfg.Lookback = d
	}

	if v := get("PRODUCTION_TYPE_FILTER"); v != "" {
		if types := ParseList(v); len(types) > 0 || strings.Contains(v, "*") {
			cfg.ProductionTypes = types
		}
	}

	if v := get("MATCH_STRATEGY"); v != "" {
		cfg.MatchStrategy = MatchStrategy(strings.ToLower(v))
		if cfg.MatchStrategy != MatchExactCode && cfg.MatchStrategy != MatchFuzzyName {
			return cfg, fmt.Errorf("invalid MATCH_STRATEGY: %s", v)
		}
	}

	if v := get("WATERMARK_STRATEGY"); v != "" {
		cfg.WatermarkStrategy = WatermarkStrategy(strings.ToLower(v))
		if cfg.WatermarkStrategy != WatermarkMax && cfg.WatermarkStrategy != WatermarkLatest {
			return cfg, fmt.Errorf("invalid WATERMARK_STRATEGY: %s", v)
		}
	}

	if v := get("INVALID_VALUE_POLICY"); v != "" {
		cfg.InvalidValuePolicy = InvalidValuePolicy(strings.ToLower(v))
		if cfg.InvalidValuePolicy != InvalidValueDrop && cfg.InvalidValuePolicy != InvalidValueNull {
			return cfg, fmt.Errorf("invalid INVALID_VALUE_POLICY: %s", v)
		}
	}

	if v := get("CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid CHUNK_SIZE: %s", v)
		}
		cfg.ChunkSize = n
	}

	dryRun := get("DRY_RUN")
	cfg.DryRun = dryRun == "1" || strings.EqualFold(dryRun, "true")

	cfg.RTE.ClientID = get("CLIENT_ID")
	cfg.RTE.ClientSecret = get("CLIENT_SECRET")
	if v := get("RTE_API_URL"); v != "" {
		cfg.RTE.APIURL = v
	}
	if v := get("RTE_TOKEN_URL"); v != "" {
		cfg.RTE.TokenURL = v
	}
	if v := get("REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
		}
		cfg.RTE.RequestTimeout = d
	}

	if v := get("UNITS_CSV"); v != "" {
		cfg.Catalog.UnitsCSV = v
	}
	if v := get("PLANTS_CSV"); v != "" {
		cfg.Catalog.PlantsCSV = v
	}

	cfg.MQTT.Broker = get("MQTT_BROKER")
	cfg.MQTT.Username = get("MQTT_USERNAME")
	cfg.MQTT.Password = get("MQTT_PASSWORD")
	if v := get("MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = strings.TrimRight(v, "/")
	}

	cfg.Archive.Endpoint = get("ARCHIVE_ENDPOINT")
	cfg.Archive.Bucket = get("ARCHIVE_BUCKET")
	cfg.Archive.AccessKey = get("ARCHIVE_ACCESS_KEY")
	cfg.Archive.SecretKey = get("ARCHIVE_SECRET_KEY")
	if v := get("ARCHIVE_SECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid ARCHIVE_SECURE: %w", err)
		}
		cfg.Archive.Secure = b
	}

	cfg.PushgatewayURL = get("PUSHGATEWAY_URL")

	if v := get("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := get("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}

	return cfg, nil
}

// ValidateFetch checks the settings only the generation job needs.
func (c Config) ValidateFetch() error {
	if c.RTE.ClientID == "" || c.RTE.ClientSecret == "" {
		return errors.New("CLIENT_ID and CLIENT_SECRET are required")
	}
	if c.RTE.APIURL == "" || c.RTE.TokenURL == "" {
		return errors.New("RTE_API_URL and RTE_TOKEN_URL are required")
	}
	return nil
}

// ParseList splits a comma separated allow-list. A "*" entry yields an empty
// list, which disables filtering.
func ParseList(v string) []string {
	out := make([]string, 0)
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if item == "*" {
			return []string{}
		}
		out = append(out, strings.ToUpper(item))
	}
	return out
}

func seconds(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def, err
	}
	if n <= 0 {
		return def, fmt.Errorf("must be positive, got %d", n)
	}
	return time.Duration(n) * time.Second, nil
}
