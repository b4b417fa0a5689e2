package plugins

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

const (
	// ManifestFile is the manifest file name inside a plugin directory
	ManifestFile = "plugin.yaml"

	// CurrentAPIVersion is the registry API version plugins are checked against
	CurrentAPIVersion = "1.0.0"
)

var semverRegex = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// LoadManifest loads and parses a plugin manifest from a file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	return &manifest, nil
}

// LoadManifestFromDir loads a plugin manifest from a directory (looks for plugin.yaml)
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, ManifestFile))
}

// SaveManifest saves a plugin manifest to a file
func SaveManifest(manifest *Manifest, path string) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}

// ValidateManifest performs basic validation on a plugin manifest
func ValidateManifest(manifest *Manifest) []ValidationError {
	var errs []ValidationError

	if manifest.ID == "" {
		errs = append(errs, ValidationError{Field: "id", Message: "Plugin ID is required"})
	}
	if manifest.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "Plugin name is required"})
	}
	if manifest.Version == "" {
		errs = append(errs, ValidationError{Field: "version", Message: "Version is required"})
	}
	if manifest.APIVersion == "" {
		errs = append(errs, ValidationError{Field: "api_version", Message: "API version is required"})
	}

	if manifest.Version != "" && !isValidSemver(manifest.Version) {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("Invalid semver format: %s", manifest.Version),
		})
	}
	if manifest.APIVersion != "" && !isValidSemver(manifest.APIVersion) {
		errs = append(errs, ValidationError{
			Field:   "api_version",
			Message: fmt.Sprintf("Invalid semver format: %s", manifest.APIVersion),
		})
	}

	switch manifest.Channel {
	case "", ChannelBuild, ChannelCompileServer:
	default:
		errs = append(errs, ValidationError{
			Field:   "channel",
			Message: fmt.Sprintf("Invalid channel: %s (expected %s or %s)", manifest.Channel, ChannelBuild, ChannelCompileServer),
		})
	}

	return errs
}

// CheckManifest validates manifest and its API version against CurrentAPIVersion
func CheckManifest(manifest *Manifest) error {
	if verrs := ValidateManifest(manifest); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, v := range verrs {
			errs[i] = v
		}
		return fmt.Errorf("manifest validation failed: %w", errors.Join(errs...))
	}

	if !IsCompatibleAPIVersion(manifest.APIVersion, CurrentAPIVersion) {
		return fmt.Errorf("incompatible API version: plugin requires %s, registry is %s",
			manifest.APIVersion, CurrentAPIVersion)
	}

	return nil
}

func isValidSemver(version string) bool {
	return semverRegex.MatchString(version)
}

// IsCompatibleAPIVersion checks if a plugin's API version is compatible with the registry's
func IsCompatibleAPIVersion(pluginAPIVersion, registryAPIVersion string) bool {
	// Only the major version matters: v1.x.x is compatible with v1.y.z
	return extractMajorVersion(pluginAPIVersion) == extractMajorVersion(registryAPIVersion)
}

func extractMajorVersion(version string) string {
	matches := semverRegex.FindStringSubmatch(version)
	if len(matches) > 1 {
		return matches[1]
	}
	return "0"
}
