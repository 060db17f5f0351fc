package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"codexec/internal/sandbox/security"

	"gopkg.in/yaml.v3"
)

// Profile describes a set of codexec-server deployments rendered from one
// base config.
type Profile struct {
	OutputDir   string                       `yaml:"outputDir"`
	Base        string                       `yaml:"base"`
	Shared      SharedProfile                `yaml:"shared"`
	Seccomp     SeccompProfile               `yaml:"seccomp"`
	Deployments map[string]DeploymentProfile `yaml:"deployments"`
}

// SharedProfile holds values stamped into every deployment.
type SharedProfile struct {
	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`
	RedisAddr string `yaml:"redisAddr"`
}

// SeccompProfile writes the default syscall filter next to the configs so
// operators can edit it and point sandbox.isolation.seccompProfile at it.
type SeccompProfile struct {
	Output string `yaml:"output"`
}

type DeploymentProfile struct {
	Output    string                 `yaml:"output"`
	Overrides map[string]interface{} `yaml:"overrides"`
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile failed: %w", err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile failed: %w", err)
	}
	if profile.Base == "" {
		return nil, errors.New("profile has no base config")
	}
	if len(profile.Deployments) == 0 {
		return nil, errors.New("profile has no deployments")
	}
	return &profile, nil
}

// resolvePaths anchors relative paths at the profile's directory.
func (p *Profile) resolvePaths(profileDir string) {
	if !filepath.IsAbs(p.OutputDir) {
		p.OutputDir = filepath.Join(profileDir, p.OutputDir)
	}
	if !filepath.IsAbs(p.Base) {
		p.Base = filepath.Join(profileDir, p.Base)
	}
}

// generate renders every deployment and returns the written paths in order.
func generate(profile *Profile) ([]string, error) {
	if profile.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	if err := os.MkdirAll(profile.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory failed: %w", err)
	}

	names := make([]string, 0, len(profile.Deployments))
	for name := range profile.Deployments {
		names = append(names, name)
	}
	sort.Strings(names)

	written := make([]string, 0, len(names)+1)
	for _, name := range names {
		path, err := renderDeployment(profile, name, profile.Deployments[name])
		if err != nil {
			return written, fmt.Errorf("deployment %q: %w", name, err)
		}
		written = append(written, path)
	}

	if profile.Seccomp.Output != "" {
		path := outputPath(profile.OutputDir, profile.Seccomp.Output)
		if err := writeSeccomp(path); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func renderDeployment(profile *Profile, name string, deployment DeploymentProfile) (string, error) {
	config, err := loadYAML(profile.Base)
	if err != nil {
		return "", fmt.Errorf("load base config failed: %w", err)
	}
	config = normalizeValue(config)

	if len(deployment.Overrides) > 0 {
		config, err = mergeMap(config, normalizeValue(deployment.Overrides))
		if err != nil {
			return "", fmt.Errorf("merge overrides failed: %w", err)
		}
	}
	config, err = applyShared(profile.Shared, config)
	if err != nil {
		return "", err
	}

	output := deployment.Output
	if output == "" {
		output = "codexec-" + name + ".yaml"
	}
	path := outputPath(profile.OutputDir, output)
	if err := writeYAML(path, config); err != nil {
		return "", err
	}
	return path, nil
}

func outputPath(dir, output string) string {
	if filepath.IsAbs(output) {
		return output
	}
	return filepath.Join(dir, output)
}

func loadYAML(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read yaml failed: %w", err)
	}

	var value interface{}
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("parse yaml failed: %w", err)
	}
	return value, nil
}

func writeYAML(path string, value interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir failed: %w", err)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal yaml failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write yaml failed: %w", err)
	}
	return nil
}

func writeSeccomp(path string) error {
	data, err := json.MarshalIndent(security.DefaultSeccompConfig(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal seccomp profile failed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir failed: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write seccomp profile failed: %w", err)
	}
	return nil
}

func normalizeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = normalizeValue(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprintf("%v", k)
			}
			out[key] = normalizeValue(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, normalizeValue(item))
		}
		return out
	default:
		return value
	}
}

// mergeMap deep-merges override into base. Non-map values replace.
func mergeMap(base interface{}, override interface{}) (interface{}, error) {
	baseMap, ok := base.(map[string]interface{})
	if !ok {
		return nil, errors.New("base config is not a map")
	}
	overrideMap, ok := override.(map[string]interface{})
	if !ok {
		return nil, errors.New("override config is not a map")
	}

	merged := make(map[string]interface{}, len(baseMap))
	for k, v := range baseMap {
		merged[k] = v
	}
	for key, overrideValue := range overrideMap {
		baseChild, baseIsMap := merged[key].(map[string]interface{})
		overrideChild, overrideIsMap := overrideValue.(map[string]interface{})
		if baseIsMap && overrideIsMap {
			combined, err := mergeMap(baseChild, overrideChild)
			if err != nil {
				return nil, err
			}
			merged[key] = combined
			continue
		}
		merged[key] = overrideValue
	}
	return merged, nil
}

func applyShared(shared SharedProfile, config interface{}) (interface{}, error) {
	if shared == (SharedProfile{}) {
		return config, nil
	}
	root, ok := config.(map[string]interface{})
	if !ok {
		return nil, errors.New("config is not a map")
	}
	if shared.JWTSecret != "" || shared.JWTIssuer != "" {
		section := childMap(root, "auth")
		if shared.JWTSecret != "" {
			section["secret"] = shared.JWTSecret
		}
		if shared.JWTIssuer != "" {
			section["issuer"] = shared.JWTIssuer
		}
	}
	if shared.RedisAddr != "" {
		childMap(root, "redis")["addr"] = shared.RedisAddr
	}
	return root, nil
}

func childMap(root map[string]interface{}, key string) map[string]interface{} {
	child, ok := root[key].(map[string]interface{})
	if !ok {
		child = map[string]interface{}{}
		root[key] = child
	}
	return child
}
