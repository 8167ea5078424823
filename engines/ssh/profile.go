package ssh

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// profile is the on-disk form of a Config. Keys are shared by the TOML and
// YAML encodings.
type profile struct {
	Host               string `toml:"host"                 yaml:"host"`
	Port               int    `toml:"port"                 yaml:"port"`
	User               string `toml:"user"                 yaml:"user"`
	IdentityFile       string `toml:"identity_file"        yaml:"identity_file"`
	Passphrase         string `toml:"passphrase"           yaml:"passphrase"`
	Password           string `toml:"password"             yaml:"password"`
	UseAgent           bool   `toml:"use_agent"            yaml:"use_agent"`
	Timeout            string `toml:"timeout"              yaml:"timeout"`
	KnownHosts         string `toml:"known_hosts"          yaml:"known_hosts"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	MaxPacket          int    `toml:"max_packet"           yaml:"max_packet"`
}

// LoadProfile reads a connection profile. The format follows the extension:
// .toml, or .yaml/.yml. Keys missing from the file keep NewConfig's defaults;
// unknown keys are an error.
func LoadProfile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load profile: %w", err)
	}

	var (
		raw     profile
		defined func(key string) bool
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.Decode(string(data), &raw)
		if err != nil {
			return Config{}, fmt.Errorf("load profile %s: %w", path, err)
		}

		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("load profile %s: unknown key %q", path, undecoded[0].String())
		}

		defined = func(key string) bool { return meta.IsDefined(key) }
	case ".yaml", ".yml":
		keys, err := decodeYAML(data, &raw)
		if err != nil {
			return Config{}, fmt.Errorf("load profile %s: %w", path, err)
		}

		defined = func(key string) bool { _, ok := keys[key]; return ok }
	default:
		return Config{}, fmt.Errorf("load profile %s: unsupported format %q", path, filepath.Ext(path))
	}

	return raw.apply(NewConfig("", ""), defined)
}

// decodeYAML decodes strictly into out and returns the top-level keys present.
func decodeYAML(data []byte, out *profile) (map[string]struct{}, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(out); err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	keys := make(map[string]struct{}, len(doc))
	for k := range doc {
		keys[k] = struct{}{}
	}

	return keys, nil
}

func (p profile) apply(cfg Config, defined func(string) bool) (Config, error) {
	if defined("host") {
		cfg.Host = strings.TrimSpace(p.Host)
	}

	if defined("port") {
		cfg.Port = p.Port
	}

	if defined("user") {
		cfg.User = strings.TrimSpace(p.User)
	}

	if defined("identity_file") {
		cfg.PrivateKeyPath = expandHome(strings.TrimSpace(p.IdentityFile))
	}

	if defined("passphrase") {
		cfg.Passphrase = p.Passphrase
	}

	if defined("password") {
		cfg.Password = p.Password
	}

	if defined("use_agent") {
		cfg.UseAgent = p.UseAgent
	}

	if defined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(p.Timeout))
		if err != nil {
			return Config{}, fmt.Errorf("load profile: invalid timeout: %w", err)
		}

		cfg.Timeout = d
	}

	if defined("known_hosts") {
		cfg.KnownHostsPath = expandHome(strings.TrimSpace(p.KnownHosts))
	}

	if defined("insecure_skip_verify") {
		cfg.InsecureSkipVerify = p.InsecureSkipVerify
	}

	if defined("max_packet") {
		if p.MaxPacket <= 0 {
			return Config{}, errors.New("load profile: max_packet must be positive")
		}

		cfg.MaxPacket = p.MaxPacket
	}

	return cfg, nil
}
