package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// File is the on-disk HCL configuration. Every attribute is optional and is
// overridden by the matching environment variable.
type File struct {
	AuthMode  string `hcl:"auth_mode,optional"`
	LogLevel  string `hcl:"log_level,optional"`
	LogFormat string `hcl:"log_format,optional"`
	LogFile   string `hcl:"log_file,optional"`

	Azure     *AzureBlock     `hcl:"azure,block"`
	JWT       *JWTBlock       `hcl:"jwt,block"`
	Cache     *CacheBlock     `hcl:"cache,block"`
	Listeners []ListenerBlock `hcl:"listener,block"`
}

type AzureBlock struct {
	ClientID                  string `hcl:"client_id,optional"`
	TenantID                  string `hcl:"tenant_id,optional"`
	ClientSecret              string `hcl:"client_secret,optional"`
	ClientCertificatePath     string `hcl:"client_certificate_path,optional"`
	ClientCertificatePassword string `hcl:"client_certificate_password,optional"`
	ResourceManagerEndpoint   string `hcl:"resource_manager_endpoint,optional"`
}

type JWTBlock struct {
	Audience          string `hcl:"audience,optional"`
	Issuer            string `hcl:"issuer,optional"`
	JWKSURL           string `hcl:"jwks_url,optional"`
	ClockTolerance    string `hcl:"clock_tolerance,optional"`
	CacheMaxAge       string `hcl:"cache_max_age,optional"`
	RequestsPerMinute int    `hcl:"requests_per_minute,optional"`
}

type CacheBlock struct {
	KeyPrefix             string `hcl:"key_prefix,optional"`
	ClientSlidingTTL      string `hcl:"client_sliding_ttl,optional"`
	ClientMaxSize         int    `hcl:"client_max_size,optional"`
	CredentialSlidingTTL  string `hcl:"credential_sliding_ttl,optional"`
	CredentialMaxSize     int    `hcl:"credential_max_size,optional"`
	CredentialAbsoluteTTL string `hcl:"credential_absolute_ttl,optional"`
}

type ListenerBlock struct {
	Name         string `hcl:"name,label"`
	Address      string `hcl:"address"`
	SysEndpoints bool   `hcl:"sys_endpoints,optional"`
	TLSCertFile  string `hcl:"tls_cert_file,optional"`
	TLSKeyFile   string `hcl:"tls_key_file,optional"`
}

// LoadFile decodes the HCL file at path.
func LoadFile(path string) (*File, error) {
	var file File
	if err := hclsimple.DecodeFile(path, nil, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// GetListenerByName returns a listener by its name (label)
func (f *File) GetListenerByName(name string) (*ListenerBlock, error) {
	for i := range f.Listeners {
		if f.Listeners[i].Name == name {
			return &f.Listeners[i], nil
		}
	}
	return nil, fmt.Errorf("listener '%s' not found", name)
}

// Settings flattens the file into setting names. Unset attributes are left
// out so defaults and environment variables still apply.
func (f *File) Settings() Settings {
	s := Settings{}
	set := func(key, value string) {
		if value != "" {
			s[key] = value
		}
	}
	setInt := func(key string, value int) {
		if value != 0 {
			s[key] = value
		}
	}

	set(EnvAuthMode, f.AuthMode)
	set(EnvLogLevel, f.LogLevel)
	set(EnvLogFormat, f.LogFormat)
	set(EnvLogFile, f.LogFile)

	if a := f.Azure; a != nil {
		set(EnvClientID, a.ClientID)
		set(EnvTenantID, a.TenantID)
		set(EnvClientSecret, a.ClientSecret)
		set(EnvClientCertificatePath, a.ClientCertificatePath)
		set(EnvClientCertificatePassword, a.ClientCertificatePassword)
		set(EnvResourceManagerEndpoint, a.ResourceManagerEndpoint)
	}
	if j := f.JWT; j != nil {
		set(EnvJWTAudience, j.Audience)
		set(EnvJWTIssuer, j.Issuer)
		set(EnvJWKSURL, j.JWKSURL)
		set(EnvJWTClockTolerance, j.ClockTolerance)
		set(EnvJWTCacheMaxAge, j.CacheMaxAge)
		setInt(EnvJWKSRequestsPerMinute, j.RequestsPerMinute)
	}
	if c := f.Cache; c != nil {
		set(EnvCacheKeyPrefix, c.KeyPrefix)
		set(EnvClientSlidingTTL, c.ClientSlidingTTL)
		setInt(EnvClientMaxSize, c.ClientMaxSize)
		set(EnvCredentialSlidingTTL, c.CredentialSlidingTTL)
		setInt(EnvCredentialMaxSize, c.CredentialMaxSize)
		set(EnvCredentialAbsoluteTTL, c.CredentialAbsoluteTTL)
	}
	if l, err := f.GetListenerByName("api"); err == nil {
		set(EnvListenAddress, l.Address)
		set(EnvTLSCertFile, l.TLSCertFile)
		set(EnvTLSKeyFile, l.TLSKeyFile)
		if l.SysEndpoints {
			s[EnvSysEndpoints] = true
		}
	}
	return s
}
