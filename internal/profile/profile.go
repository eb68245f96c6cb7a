package profile

import (
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/gosuda/tether/internal/configblock"
	"github.com/gosuda/tether/internal/extension"
	"github.com/gosuda/tether/internal/transport"
)

// Profile is the YAML document.
type Profile struct {
	Session    SessionConfig     `yaml:"session"`
	Transports []TransportConfig `yaml:"transports"`
	Extensions []ExtensionConfig `yaml:"extensions"`
}

// SessionConfig holds session-wide parameters.
type SessionConfig struct {
	ID          string        `yaml:"id"`
	Expiry      time.Duration `yaml:"-"`
	CommsHandle uint64        `yaml:"comms_handle"`

	ExpiryRaw string `yaml:"expiry"`
}

// TransportConfig describes one transport in failover order.
type TransportConfig struct {
	URL        string        `yaml:"url"`
	RetryTotal int           `yaml:"retry_total"`
	RetryWait  time.Duration `yaml:"-"`
	Comms      time.Duration `yaml:"-"`
	HTTP       HTTPConfig    `yaml:"http"`

	// Raw string values for YAML unmarshaling
	RetryWaitRaw string `yaml:"retry_wait"`
	CommsRaw     string `yaml:"comms_timeout"`
}

// HTTPConfig holds options for HTTP and WebSocket transports.
type HTTPConfig struct {
	UserAgent     string            `yaml:"user_agent"`
	Proxy         string            `yaml:"proxy"`
	ProxyUser     string            `yaml:"proxy_user"`
	ProxyPassword string            `yaml:"proxy_password"` //nolint:gosec // G117: proxy credential config
	CertHash      string            `yaml:"cert_hash"`
	Headers       map[string]string `yaml:"headers"`
}

// ExtensionConfig names a compiled-in extension and its settings.
type ExtensionConfig struct {
	Name   string         `yaml:"name"`
	Config map[string]any `yaml:"config"`
}

// Load reads a profile from path.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	return Parse(data)
}

// Parse decodes a profile from YAML bytes.
func Parse(data []byte) (*Profile, error) {
	expanded := expandEnvVars(string(data))

	var p Profile
	if err := yaml.Unmarshal([]byte(expanded), &p); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}

	if err := parseDurations(&p); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validating profile: %w", err)
	}

	return &p, nil
}

var envVar = regexp.MustCompile(`\$\{([^}]+)\}`) //nolint:gochecknoglobals // compiled once

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or nothing when unset.
func expandEnvVars(s string) string {
	return envVar.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVar.FindStringSubmatch(match)[1])
	})
}

// Validate checks that every transport can be packed.
func (p *Profile) Validate() error {
	if p.Session.ID != "" {
		if _, err := uuid.Parse(p.Session.ID); err != nil {
			return fmt.Errorf("session.id %q: %w", p.Session.ID, err)
		}
	}
	if err := wholeSeconds(p.Session.Expiry); err != nil {
		return fmt.Errorf("session.expiry: %w", err)
	}

	for i, tc := range p.Transports {
		if tc.URL == "" {
			return fmt.Errorf("transports[%d].url is required", i)
		}
		if _, err := transport.KindFromURL(tc.URL); err != nil {
			return fmt.Errorf("transports[%d].url: %w", i, err)
		}
		if tc.RetryTotal < 0 {
			return fmt.Errorf("transports[%d].retry_total must not be negative", i)
		}
		if err := wholeSeconds(tc.Comms); err != nil {
			return fmt.Errorf("transports[%d].comms_timeout: %w", i, err)
		}
		if err := wholeSeconds(tc.RetryWait); err != nil {
			return fmt.Errorf("transports[%d].retry_wait: %w", i, err)
		}
		if tc.HTTP.CertHash != "" {
			if _, err := decodeHash(tc.HTTP.CertHash); err != nil {
				return fmt.Errorf("transports[%d].http.cert_hash: %w", i, err)
			}
		}
	}

	for i, ext := range p.Extensions {
		if ext.Name == "" {
			return fmt.Errorf("extensions[%d].name is required", i)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(p *Profile) error {
	var err error

	if p.Session.ExpiryRaw != "" {
		p.Session.Expiry, err = time.ParseDuration(p.Session.ExpiryRaw)
		if err != nil {
			return fmt.Errorf("parsing session.expiry %q: %w", p.Session.ExpiryRaw, err)
		}
	}

	for i := range p.Transports {
		tc := &p.Transports[i]
		if tc.RetryWaitRaw != "" {
			tc.RetryWait, err = time.ParseDuration(tc.RetryWaitRaw)
			if err != nil {
				return fmt.Errorf("parsing transports[%d].retry_wait %q: %w", i, tc.RetryWaitRaw, err)
			}
		}
		if tc.CommsRaw != "" {
			tc.Comms, err = time.ParseDuration(tc.CommsRaw)
			if err != nil {
				return fmt.Errorf("parsing transports[%d].comms_timeout %q: %w", i, tc.CommsRaw, err)
			}
		}
	}

	return nil
}

// Specs converts the transports into descriptor specs.
func (p *Profile) Specs() ([]transport.Spec, error) {
	specs := make([]transport.Spec, 0, len(p.Transports))
	for i, tc := range p.Transports {
		var hash []byte
		if tc.HTTP.CertHash != "" {
			var err error
			if hash, err = decodeHash(tc.HTTP.CertHash); err != nil {
				return nil, fmt.Errorf("profile.Specs: transports[%d]: %w", i, err)
			}
		}
		specs = append(specs, transport.Spec{
			URL:      tc.URL,
			Retry:    transport.RetryPolicy{Total: tc.RetryTotal, Wait: tc.RetryWait},
			Timeouts: transport.Timeouts{Comms: tc.Comms},
			HTTP: transport.HTTPOptions{
				UserAgent:     tc.HTTP.UserAgent,
				Proxy:         tc.HTTP.Proxy,
				ProxyUser:     tc.HTTP.ProxyUser,
				ProxyPassword: tc.HTTP.ProxyPassword,
				CertHash:      hash,
				Headers:       tc.HTTP.Headers,
			},
		})
	}
	return specs, nil
}

// Block packs the profile into a configuration block followed by its extensions.
func (p *Profile) Block() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile.Block: %w", err)
	}

	specs, err := p.Specs()
	if err != nil {
		return nil, err
	}

	sess := configblock.SessionParams{
		Expiry:      p.Session.Expiry,
		CommsHandle: p.Session.CommsHandle,
	}
	if p.Session.ID != "" {
		id, err := uuid.Parse(p.Session.ID)
		if err != nil {
			return nil, fmt.Errorf("profile.Block: session.id %q: %w", p.Session.ID, err)
		}
		sess.ID = id
	}

	payloads := make([][]byte, 0, len(p.Extensions))
	for _, ext := range p.Extensions {
		var cfg any
		if len(ext.Config) > 0 {
			cfg = ext.Config
		}
		payload, err := extension.Encode(ext.Name, cfg)
		if err != nil {
			return nil, fmt.Errorf("profile.Block: %w", err)
		}
		payloads = append(payloads, payload)
	}

	block, err := configblock.Encode(specs, sess, payloads)
	if err != nil {
		return nil, fmt.Errorf("profile.Block: %w", err)
	}
	return block, nil
}

// wholeSeconds checks that d survives the block's u32 seconds encoding.
func wholeSeconds(d time.Duration) error {
	switch {
	case d < 0:
		return fmt.Errorf("%s must not be negative", d)
	case d%time.Second != 0:
		return fmt.Errorf("%s is not a whole number of seconds", d)
	case d/time.Second > math.MaxUint32:
		return fmt.Errorf("%s is too long", d)
	}
	return nil
}

func decodeHash(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("want 32 bytes of SHA-256, got %d", len(b))
	}
	return b, nil
}
