package connsource

import (
	"fmt"
	"io/ioutil"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DefaultPort                      = 5432
	DefaultMaxPoolSize               = 100
	DefaultTimeout                   = 15
	DefaultConnectionIdleLifetime    = 300
	DefaultConnectionPruningInterval = 10
	DefaultHostRecheckSeconds        = 10
)

// Settings are the connection settings of a logical connection. Durations
// are expressed in seconds, as in connection strings.
type Settings struct {
	// Host is a comma-separated list of hosts, each optionally host:port.
	Host     string `json:"Host"`
	Port     int    `json:"Port"`
	Username string `json:"Username"`
	Password string `json:"Password"`
	Database string `json:"Database"`

	Pooling                   bool `json:"Pooling"`
	MinPoolSize               int  `json:"MinPoolSize"`
	MaxPoolSize               int  `json:"MaxPoolSize"`
	OpenMaxConcurrency        int  `json:"OpenMaxConcurrency"`
	Timeout                   int  `json:"Timeout"`
	ConnectionIdleLifetime    int  `json:"ConnectionIdleLifetime"`
	ConnectionPruningInterval int  `json:"ConnectionPruningInterval"`
	ConnectionLifetime        int  `json:"ConnectionLifetime"`

	LoadBalanceHosts        bool   `json:"LoadBalanceHosts"`
	TargetSessionAttributes string `json:"TargetSessionAttributes"`
	HostRecheckSeconds      int    `json:"HostRecheckSeconds"`

	PersistSecurityInfo bool `json:"PersistSecurityInfo"`
}

// DefaultSettings returns settings with every default applied and no host.
func DefaultSettings() *Settings {
	return &Settings{
		Port:                      DefaultPort,
		Pooling:                   true,
		MaxPoolSize:               DefaultMaxPoolSize,
		Timeout:                   DefaultTimeout,
		ConnectionIdleLifetime:    DefaultConnectionIdleLifetime,
		ConnectionPruningInterval: DefaultConnectionPruningInterval,
		HostRecheckSeconds:        DefaultHostRecheckSeconds,
	}
}

type settingKey int

const (
	keyHost settingKey = iota
	keyPort
	keyUsername
	keyPassword
	keyDatabase
	keyPooling
	keyMinPoolSize
	keyMaxPoolSize
	keyOpenMaxConcurrency
	keyTimeout
	keyConnectionIdleLifetime
	keyConnectionPruningInterval
	keyConnectionLifetime
	keyLoadBalanceHosts
	keyTargetSessionAttributes
	keyHostRecheckSeconds
	keyPersistSecurityInfo
)

// Keywords are matched lowercased with spaces removed.
var settingKeywords = map[string]settingKey{
	"host":                      keyHost,
	"server":                    keyHost,
	"port":                      keyPort,
	"username":                  keyUsername,
	"userid":                    keyUsername,
	"user":                      keyUsername,
	"password":                  keyPassword,
	"pwd":                       keyPassword,
	"database":                  keyDatabase,
	"db":                        keyDatabase,
	"pooling":                   keyPooling,
	"minimumpoolsize":           keyMinPoolSize,
	"minpoolsize":               keyMinPoolSize,
	"maximumpoolsize":           keyMaxPoolSize,
	"maxpoolsize":               keyMaxPoolSize,
	"openmaxconcurrency":        keyOpenMaxConcurrency,
	"timeout":                   keyTimeout,
	"connectionidlelifetime":    keyConnectionIdleLifetime,
	"connectionpruninginterval": keyConnectionPruningInterval,
	"connectionlifetime":        keyConnectionLifetime,
	"loadbalancehosts":          keyLoadBalanceHosts,
	"targetsessionattributes":   keyTargetSessionAttributes,
	"hostrecheckseconds":        keyHostRecheckSeconds,
	"persistsecurityinfo":       keyPersistSecurityInfo,
}

// ParseConnectionString parses a "Key=Value;Key=Value" connection string.
// Keys are case-insensitive and spaces inside keys are ignored. Unset keys
// keep their defaults.
func ParseConnectionString(connString string) (*Settings, error) {
	s := DefaultSettings()

	for _, pair := range strings.Split(connString, ";") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		idx := strings.Index(pair, "=")
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q is not a key=value pair", ErrInvalidConnectionString, pair)
		}
		keyword := strings.ToLower(strings.Replace(pair[:idx], " ", "", -1))
		value := strings.TrimSpace(pair[idx+1:])

		key, ok := settingKeywords[keyword]
		if !ok {
			return nil, fmt.Errorf("%w: unknown keyword %q", ErrInvalidConnectionString, pair[:idx])
		}
		if err := s.set(key, value); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConnectionString, strings.TrimSpace(pair[:idx]), err)
		}
	}

	return s, nil
}

func (s *Settings) set(key settingKey, value string) error {
	var err error
	switch key {
	case keyHost:
		s.Host = value
	case keyPort:
		s.Port, err = strconv.Atoi(value)
	case keyUsername:
		s.Username = value
	case keyPassword:
		s.Password = value
	case keyDatabase:
		s.Database = value
	case keyPooling:
		s.Pooling, err = strconv.ParseBool(value)
	case keyMinPoolSize:
		s.MinPoolSize, err = strconv.Atoi(value)
	case keyMaxPoolSize:
		s.MaxPoolSize, err = strconv.Atoi(value)
	case keyOpenMaxConcurrency:
		s.OpenMaxConcurrency, err = strconv.Atoi(value)
	case keyTimeout:
		s.Timeout, err = strconv.Atoi(value)
	case keyConnectionIdleLifetime:
		s.ConnectionIdleLifetime, err = strconv.Atoi(value)
	case keyConnectionPruningInterval:
		s.ConnectionPruningInterval, err = strconv.Atoi(value)
	case keyConnectionLifetime:
		s.ConnectionLifetime, err = strconv.Atoi(value)
	case keyLoadBalanceHosts:
		s.LoadBalanceHosts, err = strconv.ParseBool(value)
	case keyTargetSessionAttributes:
		_, err = ParseTargetSessionAttributes(value)
		s.TargetSessionAttributes = value
	case keyHostRecheckSeconds:
		s.HostRecheckSeconds, err = strconv.Atoi(value)
	case keyPersistSecurityInfo:
		s.PersistSecurityInfo, err = strconv.ParseBool(value)
	}
	return err
}

// LoadSettingsFile reads settings from a JSON file. Fields missing from the
// file keep their defaults.
func LoadSettingsFile(fileNamePath string) (*Settings, error) {
	byteValue, err := ioutil.ReadFile(fileNamePath)
	if err != nil {
		return nil, err
	}

	s := DefaultSettings()
	var json = jsoniter.ConfigFastest
	if err = json.Unmarshal(byteValue, s); err != nil {
		return nil, errors.Wrapf(err, "decode settings file %s", fileNamePath)
	}

	return s, nil
}

// Clone returns a copy of s.
func (s *Settings) Clone() *Settings {
	clone := *s
	return &clone
}

// ForEndpoint returns a copy of s targeting a single endpoint.
func (s *Settings) ForEndpoint(endpoint Endpoint) *Settings {
	clone := s.Clone()
	clone.Host = endpoint.Host
	clone.Port = endpoint.Port
	return clone
}

// Endpoints parses the host list. Hosts without an explicit port use Port.
func (s *Settings) Endpoints() ([]Endpoint, error) {
	if strings.TrimSpace(s.Host) == "" {
		return nil, ErrEmptyHosts
	}

	hosts := strings.Split(s.Host, ",")
	endpoints := make([]Endpoint, 0, len(hosts))
	for _, host := range hosts {
		host = strings.TrimSpace(host)
		if host == "" {
			return nil, fmt.Errorf("%w: empty entry in %q", ErrInvalidConnectionString, s.Host)
		}

		endpoint := Endpoint{Host: host, Port: s.Port}
		switch {
		case strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]"):
			if len(host) == 2 {
				return nil, fmt.Errorf("%w: empty address in %q", ErrInvalidConnectionString, s.Host)
			}
			endpoint.Host = host[1 : len(host)-1]
		// A bare IPv6 address has several colons and no port.
		case strings.HasPrefix(host, "[") || strings.Count(host, ":") == 1:
			h, p, err := net.SplitHostPort(host)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidConnectionString, err)
			}
			port, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid port in %q", ErrInvalidConnectionString, host)
			}
			endpoint = Endpoint{Host: h, Port: port}
		}
		endpoints = append(endpoints, endpoint)
	}

	return endpoints, nil
}

// IsMultiHost reports whether more than one host is configured.
func (s *Settings) IsMultiHost() bool {
	return strings.Contains(s.Host, ",")
}

// Validate checks the settings for consistency.
func (s *Settings) Validate() error {
	if _, err := s.Endpoints(); err != nil {
		return err
	}
	if s.MaxPoolSize <= 0 || s.MinPoolSize < 0 || s.MinPoolSize > s.MaxPoolSize {
		return ErrInvalidPoolSize
	}
	if s.TargetSessionAttributes != "" {
		if _, err := ParseTargetSessionAttributes(s.TargetSessionAttributes); err != nil {
			return err
		}
	}
	return nil
}

// ResolveTargetSessionAttributes returns the attributes from the settings,
// falling back to the PGTARGETSESSIONATTRS environment variable, then Any.
func (s *Settings) ResolveTargetSessionAttributes() (TargetSessionAttributes, error) {
	value := s.TargetSessionAttributes
	if value == "" {
		value = env.getString(envTargetSessionAttributes)
	}
	if value == "" {
		return Any, nil
	}
	return ParseTargetSessionAttributes(value)
}

func (s *Settings) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

func (s *Settings) ConnectionIdleLifetimeDuration() time.Duration {
	return time.Duration(s.ConnectionIdleLifetime) * time.Second
}

func (s *Settings) ConnectionPruningIntervalDuration() time.Duration {
	return time.Duration(s.ConnectionPruningInterval) * time.Second
}

func (s *Settings) ConnectionLifetimeDuration() time.Duration {
	return time.Duration(s.ConnectionLifetime) * time.Second
}

func (s *Settings) HostRecheckDuration() time.Duration {
	return time.Duration(s.HostRecheckSeconds) * time.Second
}

// ConnectionString renders the settings back into connection string form.
func (s *Settings) ConnectionString() string {
	return s.render(true)
}

// UserFacingConnectionString is the connection string shown to users: the
// password is left out unless PersistSecurityInfo is set.
func (s *Settings) UserFacingConnectionString() string {
	return s.render(s.PersistSecurityInfo)
}

func (s *Settings) render(withPassword bool) string {
	var b strings.Builder
	add := func(key, value string) {
		if value == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(';')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(value)
	}

	add("Host", s.Host)
	add("Port", strconv.Itoa(s.Port))
	add("Username", s.Username)
	if withPassword {
		add("Password", s.Password)
	}
	add("Database", s.Database)
	add("Pooling", strconv.FormatBool(s.Pooling))
	add("Minimum Pool Size", strconv.Itoa(s.MinPoolSize))
	add("Maximum Pool Size", strconv.Itoa(s.MaxPoolSize))
	if s.OpenMaxConcurrency > 0 {
		add("Open Max Concurrency", strconv.Itoa(s.OpenMaxConcurrency))
	}
	add("Timeout", strconv.Itoa(s.Timeout))
	add("Connection Idle Lifetime", strconv.Itoa(s.ConnectionIdleLifetime))
	add("Connection Pruning Interval", strconv.Itoa(s.ConnectionPruningInterval))
	add("Connection Lifetime", strconv.Itoa(s.ConnectionLifetime))
	add("Load Balance Hosts", strconv.FormatBool(s.LoadBalanceHosts))
	add("Target Session Attributes", s.TargetSessionAttributes)
	add("Host Recheck Seconds", strconv.Itoa(s.HostRecheckSeconds))
	if s.PersistSecurityInfo {
		add("Persist Security Info", "true")
	}

	return b.String()
}

//
// environment
//

const (
	envHost                    = "host"
	envPort                    = "port"
	envUsername                = "username"
	envPassword                = "password"
	envDatabase                = "database"
	envTargetSessionAttributes = "target_session_attributes"
)

var env = newEnvironment()

type environment struct {
	sync.Mutex
	v *viper.Viper
}

func newEnvironment() *environment {
	v := viper.New()
	_ = v.BindEnv(envHost, "PGHOST")
	_ = v.BindEnv(envPort, "PGPORT")
	_ = v.BindEnv(envUsername, "PGUSER")
	_ = v.BindEnv(envPassword, "PGPASSWORD")
	_ = v.BindEnv(envDatabase, "PGDATABASE")
	_ = v.BindEnv(envTargetSessionAttributes, "PGTARGETSESSIONATTRS")
	return &environment{v: v}
}

func (e *environment) getString(key string) string {
	e.Lock()
	defer e.Unlock()
	return e.v.GetString(key)
}

func (e *environment) getInt(key string) int {
	e.Lock()
	defer e.Unlock()
	return e.v.GetInt(key)
}

// ApplyEnvironment fills the unset connection fields of s from the
// standard PG* environment variables.
func ApplyEnvironment(s *Settings) error {
	if s.Host == "" {
		s.Host = env.getString(envHost)
	}
	if s.Port == 0 {
		s.Port = env.getInt(envPort)
		if s.Port == 0 {
			s.Port = DefaultPort
		}
	}
	if s.Username == "" {
		s.Username = env.getString(envUsername)
	}
	if s.Password == "" {
		s.Password = env.getString(envPassword)
	}
	if s.Database == "" {
		s.Database = env.getString(envDatabase)
	}
	if s.TargetSessionAttributes == "" {
		value := env.getString(envTargetSessionAttributes)
		if value != "" {
			if _, err := ParseTargetSessionAttributes(value); err != nil {
				return errors.Wrap(err, "PGTARGETSESSIONATTRS")
			}
			s.TargetSessionAttributes = value
		}
	}
	return nil
}
