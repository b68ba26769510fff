package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix scopes the environment variables read by LoadConfig.
const EnvPrefix = "AGENTFLOW"

// FileSystem is the slice of the OS the loader touches. Tests swap it out.
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
}

// RealFileSystem is the os-backed FileSystem.
type RealFileSystem struct{}

func (RealFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadEnv reads a dotenv file without overriding variables already set.
func (RealFileSystem) LoadEnv(path string) error {
	return godotenv.Load(path)
}

// Resolver locates the config and dotenv files for a service.
type Resolver struct {
	FileSystem FileSystem
}

// ResolvedFiles are the paths picked by a Resolver. Empty means none found.
type ResolvedFiles struct {
	ConfigFile string
	EnvFile    string
}

// ResolveFiles keeps explicit paths from opts and searches for the rest.
func (r *Resolver) ResolveFiles(serviceName string, opts LoaderConfig) ResolvedFiles {
	files := ResolvedFiles{ConfigFile: opts.ConfigFile, EnvFile: opts.EnvFile}
	if files.ConfigFile == "" {
		files.ConfigFile = r.first(configCandidates(serviceName))
	}
	if files.EnvFile == "" {
		files.EnvFile = r.first(envCandidates(serviceName))
	}
	return files
}

func (r *Resolver) first(paths []string) string {
	for _, p := range paths {
		if r.FileSystem.Exists(p) {
			return p
		}
	}
	return ""
}

// configCandidates lists where a config file may live, most specific first.
// The binary runs either from the repo root or from its cmd directory.
func configCandidates(service string) []string {
	paths := []string{
		"./" + service + ".yml",
		"./cmd/" + service + "/config.yml",
		"./config/" + service + ".yml",
		"./config/config.yml",
		"./config.yml",
	}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, service, "config.yml"))
	}
	return paths
}

func envCandidates(service string) []string {
	var paths []string
	for _, name := range []string{".env." + service, ".env"} {
		paths = append(paths, name, "./cmd/"+service+"/"+name, "./config/"+name)
	}
	return paths
}

// LoaderConfig carries the loader's dependencies and overrides.
type LoaderConfig struct {
	FileSystem FileSystem
	// ConfigFile is an explicit path. Unlike a searched path, it must exist.
	ConfigFile string
	EnvFile    string
	EnvPrefix  string
}

// LoaderOption configures LoadConfig.
type LoaderOption func(*LoaderConfig)

func WithFileSystem(fs FileSystem) LoaderOption {
	return func(lc *LoaderConfig) { lc.FileSystem = fs }
}

func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

func WithEnvPrefix(prefix string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvPrefix = prefix }
}

// LoadConfig fills cfg for serviceName. Precedence, lowest first: the YAML
// file, the dotenv file, then <EnvPrefix>_* process variables.
func LoadConfig(serviceName string, cfg any, opts ...LoaderOption) error {
	lc := LoaderConfig{FileSystem: RealFileSystem{}, EnvPrefix: EnvPrefix}
	for _, opt := range opts {
		opt(&lc)
	}
	files := (&Resolver{FileSystem: lc.FileSystem}).ResolveFiles(serviceName, lc)
	return loadFromResolvedFiles(serviceName, cfg, files, lc)
}

func loadFromResolvedFiles(serviceName string, cfg any, files ResolvedFiles, lc LoaderConfig) error {
	v := viper.New()
	v.SetConfigType("yaml")

	switch {
	case files.ConfigFile == "":
	case !lc.FileSystem.Exists(files.ConfigFile):
		if lc.ConfigFile != "" {
			return fmt.Errorf("config file %s not found", files.ConfigFile)
		}
	default:
		v.SetConfigFile(files.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", files.ConfigFile, err)
		}
	}

	if files.EnvFile != "" && lc.FileSystem.Exists(files.EnvFile) {
		if err := lc.FileSystem.LoadEnv(files.EnvFile); err != nil {
			return fmt.Errorf("load env file %s: %w", files.EnvFile, err)
		}
	}
	bindPrefixedEnv(v, lc.EnvPrefix, os.Environ())

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("decode %s config: %w", serviceName, err)
	}
	return nil
}

// bindPrefixedEnv sets every PREFIX_* variable on v under each nested key
// it could address.
func bindPrefixedEnv(v *viper.Viper, prefix string, environ []string) {
	want := strings.ToUpper(prefix) + "_"
	for _, env := range environ {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, want) {
			continue
		}
		for _, variant := range generateEnvKeyVariants(strings.TrimPrefix(key, want)) {
			v.Set(variant, value)
		}
	}
}

// maxSplitParts bounds the 2^(n-1) split enumeration.
const maxSplitParts = 6

// generateEnvKeyVariants returns the viper keys an env key may refer to.
// Underscores are ambiguous: ENGINE_POLL_INTERVAL may address
// engine.poll_interval or engine_poll.interval, so every split is produced.
func generateEnvKeyVariants(envKey string) []string {
	parts := strings.Split(strings.ToLower(envKey), "_")
	if len(parts) > maxSplitParts {
		joined := strings.Join(parts, "_")
		return []string{joined, strings.Join(parts, ".")}
	}

	gaps := len(parts) - 1
	variants := make([]string, 0, 1<<gaps)
	for mask := 0; mask < 1<<gaps; mask++ {
		var b strings.Builder
		b.WriteString(parts[0])
		for i := 1; i < len(parts); i++ {
			if mask&(1<<(i-1)) != 0 {
				b.WriteByte('.')
			} else {
				b.WriteByte('_')
			}
			b.WriteString(parts[i])
		}
		variants = append(variants, b.String())
	}
	return variants
}
