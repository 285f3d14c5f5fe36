package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-secure-stdlib/parseutil"

	"github.com/stephnangue/azgraph/auth"
	"github.com/stephnangue/azgraph/helper"
)

// Setting names. Environment variables use them verbatim; the HCL file maps
// onto them in file.go.
const (
	EnvAuthMode                  = "AZURE_AUTH_MODE"
	EnvClientID                  = "AZURE_CLIENT_ID"
	EnvTenantID                  = "AZURE_TENANT_ID"
	EnvClientSecret              = "AZURE_CLIENT_SECRET"
	EnvClientCertificatePath     = "AZURE_CLIENT_CERTIFICATE_PATH"
	EnvClientCertificatePassword = "AZURE_CLIENT_CERTIFICATE_PASSWORD"
	EnvJWTAudience               = "JWT_AUDIENCE"
	EnvJWTIssuer                 = "JWT_ISSUER"
	EnvJWKSURL                   = "JWT_JWKS_URL"
	EnvJWTClockTolerance         = "JWT_CLOCK_TOLERANCE"
	EnvJWTCacheMaxAge            = "JWT_CACHE_MAX_AGE"
	EnvJWKSRequestsPerMinute     = "JWKS_REQUESTS_PER_MINUTE"
	EnvCacheKeyPrefix            = "CACHE_KEY_PREFIX"
	EnvClientSlidingTTL          = "CACHE_CLIENT_SLIDING_TTL"
	EnvClientMaxSize             = "CACHE_CLIENT_MAX_SIZE"
	EnvCredentialSlidingTTL      = "CACHE_CREDENTIAL_SLIDING_TTL"
	EnvCredentialMaxSize         = "CACHE_CREDENTIAL_MAX_SIZE"
	EnvCredentialAbsoluteTTL     = "CACHE_CREDENTIAL_ABSOLUTE_TTL"
	EnvListenAddress             = "AZGRAPH_LISTEN_ADDRESS"
	EnvSysEndpoints              = "AZGRAPH_SYS_ENDPOINTS"
	EnvTLSCertFile               = "AZGRAPH_TLS_CERT_FILE"
	EnvTLSKeyFile                = "AZGRAPH_TLS_KEY_FILE"
	EnvResourceManagerEndpoint   = "AZURE_RESOURCE_MANAGER_ENDPOINT"
	EnvLogLevel                  = "LOG_LEVEL"
	EnvLogFormat                 = "LOG_FORMAT"
	EnvLogFile                   = "LOG_FILE"
)

// Config is the resolved configuration of the azgraph server and CLI.
type Config struct {
	AuthMode auth.Mode `mapstructure:"AZURE_AUTH_MODE"`

	ClientID                  string `mapstructure:"AZURE_CLIENT_ID"`
	TenantID                  string `mapstructure:"AZURE_TENANT_ID"`
	ClientSecret              string `mapstructure:"AZURE_CLIENT_SECRET"`
	ClientCertificatePath     string `mapstructure:"AZURE_CLIENT_CERTIFICATE_PATH"`
	ClientCertificatePassword string `mapstructure:"AZURE_CLIENT_CERTIFICATE_PASSWORD"`
	// ResourceManagerEndpoint selects a sovereign cloud. Empty means public.
	ResourceManagerEndpoint   string `mapstructure:"AZURE_RESOURCE_MANAGER_ENDPOINT"`

	JWTAudience           string        `mapstructure:"JWT_AUDIENCE"`
	JWTIssuer             string        `mapstructure:"JWT_ISSUER"`
	JWKSURL               string        `mapstructure:"JWT_JWKS_URL"`
	JWTClockTolerance     time.Duration `mapstructure:"JWT_CLOCK_TOLERANCE"`
	JWTCacheMaxAge        time.Duration `mapstructure:"JWT_CACHE_MAX_AGE"`
	JWKSRequestsPerMinute int           `mapstructure:"JWKS_REQUESTS_PER_MINUTE"`

	CacheKeyPrefix        string        `mapstructure:"CACHE_KEY_PREFIX"`
	ClientSlidingTTL      time.Duration `mapstructure:"CACHE_CLIENT_SLIDING_TTL"`
	ClientMaxSize         int           `mapstructure:"CACHE_CLIENT_MAX_SIZE"`
	CredentialSlidingTTL  time.Duration `mapstructure:"CACHE_CREDENTIAL_SLIDING_TTL"`
	CredentialMaxSize     int           `mapstructure:"CACHE_CREDENTIAL_MAX_SIZE"`
	CredentialAbsoluteTTL time.Duration `mapstructure:"CACHE_CREDENTIAL_ABSOLUTE_TTL"`

	ListenAddress string `mapstructure:"AZGRAPH_LISTEN_ADDRESS"`
	SysEndpoints  bool   `mapstructure:"AZGRAPH_SYS_ENDPOINTS"`
	TLSCertFile   string `mapstructure:"AZGRAPH_TLS_CERT_FILE"`
	TLSKeyFile    string `mapstructure:"AZGRAPH_TLS_KEY_FILE"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	LogFile   string `mapstructure:"LOG_FILE"`
}

// Settings is a flat view of configuration keyed by setting name.
type Settings map[string]interface{}

var commonDefaults = Settings{
	EnvAuthMode:              string(auth.ModeApplication),
	EnvJWTClockTolerance:     "300s",
	EnvJWTCacheMaxAge:        "24h",
	EnvJWKSRequestsPerMinute: 10,
	EnvCacheKeyPrefix:        "client",
	EnvListenAddress:         "127.0.0.1:8400",
	EnvSysEndpoints:          false,
	EnvLogLevel:              "info",
	EnvLogFormat:             "default",
}

// millisecondSettings read a bare integer as milliseconds. Every other
// duration setting reads it as seconds.
var millisecondSettings = []string{
	EnvClientSlidingTTL,
	EnvCredentialSlidingTTL,
	EnvCredentialAbsoluteTTL,
	EnvJWTCacheMaxAge,
}

// Per-user caches are larger and shorter lived than the single-identity
// application caches.
var modeDefaults = map[auth.Mode]Settings{
	auth.ModeDelegated: {
		EnvClientSlidingTTL:      "45m",
		EnvClientMaxSize:         100,
		EnvCredentialSlidingTTL:  "2h",
		EnvCredentialMaxSize:     200,
		EnvCredentialAbsoluteTTL: "8h",
	},
	auth.ModeApplication: {
		EnvClientSlidingTTL:      "2h",
		EnvClientMaxSize:         50,
		EnvCredentialSlidingTTL:  "4h",
		EnvCredentialMaxSize:     10,
		EnvCredentialAbsoluteTTL: "12h",
	},
}

// Load reads the optional HCL file at path, overlays the process environment
// and validates the result. Any violation is returned as a single error
// wrapping auth.ErrConfigurationInvalid.
func Load(path string) (*Config, error) {
	return load(path, os.Environ())
}

func load(path string, environ []string) (*Config, error) {
	settings := Settings{}
	if path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", auth.ErrConfigurationInvalid, err)
		}
		settings.merge(file.Settings())
	}
	settings.merge(EnvSettings(environ))

	cfg, err := FromSettings(settings)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnvSettings extracts non-empty values from KEY=VALUE pairs.
func EnvSettings(environ []string) Settings {
	out := Settings{}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}

func (s Settings) merge(other Settings) {
	for k, v := range other {
		s[k] = v
	}
}

// FromSettings applies common and mode defaults, then decodes settings.
// Durations accept Go duration strings. A bare number is milliseconds for
// cache TTLs and the JWKS max age, seconds otherwise.
func FromSettings(settings Settings) (*Config, error) {
	merged := Settings{}
	merged.merge(commonDefaults)
	merged.merge(settings)

	mode, err := auth.ParseMode(fmt.Sprint(merged[EnvAuthMode]))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", auth.ErrConfigurationInvalid, EnvAuthMode, err)
	}
	merged[EnvAuthMode] = string(mode)
	for k, v := range modeDefaults[mode] {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}

	for _, k := range millisecondSettings {
		if ms, ok := bareInteger(merged[k]); ok {
			merged[k] = time.Duration(ms) * time.Millisecond
		}
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			durationHook,
			boolHook,
		),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(map[string]interface{}(merged)); err != nil {
		return nil, fmt.Errorf("%w: %w", auth.ErrConfigurationInvalid, err)
	}
	return &cfg, nil
}

func bareInteger(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

func durationHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	durationType := reflect.TypeOf(time.Duration(0))
	if to != durationType || from == durationType {
		return data, nil
	}
	switch from.Kind() {
	case reflect.String, reflect.Int, reflect.Int64, reflect.Float64:
		return parseutil.ParseDurationSecond(data)
	}
	return data, nil
}

func boolHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to.Kind() != reflect.Bool || from.Kind() != reflect.String {
		return data, nil
	}
	return parseutil.ParseBool(data)
}

// Validate checks the configuration and reports every violation at once.
func (c *Config) Validate() error {
	var errs *multierror.Error

	switch c.AuthMode {
	case auth.ModeApplication, auth.ModeDelegated:
	default:
		errs = multierror.Append(errs, fmt.Errorf("%s: %w: %q", EnvAuthMode, auth.ErrUnknownAuthMode, c.AuthMode))
	}

	if c.ClientID == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s is required", EnvClientID))
	}
	if c.TenantID == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s is required", EnvTenantID))
	}

	if c.AuthMode == auth.ModeDelegated {
		hasSecret := c.ClientSecret != ""
		hasCert := c.ClientCertificatePath != ""
		switch {
		case hasSecret && hasCert:
			errs = multierror.Append(errs, fmt.Errorf("only one of %s or %s may be set for delegated mode", EnvClientSecret, EnvClientCertificatePath))
		case !hasSecret && !hasCert:
			errs = multierror.Append(errs, fmt.Errorf("one of %s or %s is required for delegated mode", EnvClientSecret, EnvClientCertificatePath))
		}
	}

	if c.JWTClockTolerance < 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s must not be negative", EnvJWTClockTolerance))
	}
	if c.JWTCacheMaxAge <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s must be positive", EnvJWTCacheMaxAge))
	}
	if c.JWKSRequestsPerMinute <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s must be positive", EnvJWKSRequestsPerMinute))
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = multierror.Append(errs, fmt.Errorf("%s and %s must be set together", EnvTLSCertFile, EnvTLSKeyFile))
	}

	if c.CacheKeyPrefix == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s must not be empty", EnvCacheKeyPrefix))
	}
	for name, d := range map[string]time.Duration{
		EnvClientSlidingTTL:      c.ClientSlidingTTL,
		EnvCredentialSlidingTTL:  c.CredentialSlidingTTL,
		EnvCredentialAbsoluteTTL: c.CredentialAbsoluteTTL,
	} {
		if d <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	for name, n := range map[string]int{
		EnvClientMaxSize:     c.ClientMaxSize,
		EnvCredentialMaxSize: c.CredentialMaxSize,
	} {
		if n <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", auth.ErrConfigurationInvalid, err)
	}
	return nil
}

// Display returns the configuration as setting name to printable value, with
// secrets replaced by mask.
func (c *Config) Display(mask string) map[string]string {
	out := map[string]string{
		EnvAuthMode:                string(c.AuthMode),
		EnvClientID:                c.ClientID,
		EnvTenantID:                c.TenantID,
		EnvClientCertificatePath:   c.ClientCertificatePath,
		EnvJWTAudience:             c.JWTAudience,
		EnvJWTIssuer:               c.JWTIssuer,
		EnvJWTClockTolerance:       helper.FormatTTL(c.JWTClockTolerance),
		EnvJWTCacheMaxAge:          helper.FormatTTL(c.JWTCacheMaxAge),
		EnvJWKSRequestsPerMinute:   fmt.Sprint(c.JWKSRequestsPerMinute),
		EnvCacheKeyPrefix:          c.CacheKeyPrefix,
		EnvClientSlidingTTL:        helper.FormatTTL(c.ClientSlidingTTL),
		EnvClientMaxSize:           fmt.Sprint(c.ClientMaxSize),
		EnvCredentialSlidingTTL:    helper.FormatTTL(c.CredentialSlidingTTL),
		EnvCredentialMaxSize:       fmt.Sprint(c.CredentialMaxSize),
		EnvCredentialAbsoluteTTL:   helper.FormatTTL(c.CredentialAbsoluteTTL),
		EnvListenAddress:           c.ListenAddress,
		EnvSysEndpoints:            fmt.Sprint(c.SysEndpoints),
		EnvTLSCertFile:             c.TLSCertFile,
		EnvTLSKeyFile:              c.TLSKeyFile,
		EnvResourceManagerEndpoint: c.ResourceManagerEndpoint,
	}
	if c.ClientSecret != "" {
		out[EnvClientSecret] = mask
	}
	if c.ClientCertificatePassword != "" {
		out[EnvClientCertificatePassword] = mask
	}
	return out
}
