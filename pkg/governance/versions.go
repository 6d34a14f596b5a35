package governance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// artifactDirs maps a version key to the bundle subdirectory that holds the
// artifacts pinned by that version.
var artifactDirs = map[string]string{
	"prompt_version":   "prompts",
	"template_version": "templates",
	"routing_version":  "routing",
	"policy_version":   "policies",
	"model_version":    "models",
}

// artifactHashMissing marks a version key with no resolvable artifact bundle.
const artifactHashMissing = "missing"

// VersionCatalog resolves the active component versions and hashes their
// artifact bundles. BundleRoot points at the config bundle directory
// containing active_versions.yaml and the per-component artifact trees;
// Defaults supplies fallback versions when the file is absent or a key is
// unset.
type VersionCatalog struct {
	BundleRoot string
	Defaults   map[string]string
	Runtime    RuntimeSettings
}

// RuntimeSettings describes the inference runtime included in snapshots so
// two runs can be compared on more than artifact versions.
type RuntimeSettings struct {
	ModelRuntime        string  `json:"model_runtime"`
	ModelQuantization   string  `json:"model_quantization"`
	DecodingTemperature float64 `json:"decoding_temperature"`
	DecodingTopP        float64 `json:"decoding_top_p"`
}

// RuntimeVersionSnapshot is the full picture of what the pipeline is running:
// version per component, content hash per artifact bundle, and runtime knobs.
type RuntimeVersionSnapshot struct {
	Versions       map[string]string `json:"versions"`
	ArtifactHashes map[string]string `json:"artifact_hashes"`
	Runtime        RuntimeSettings   `json:"runtime"`
}

// ActiveVersions reads active_versions.yaml under the bundle root. A missing
// file is not an error; defaults apply per key. Values are coerced to
// strings so bare yaml numbers like `2` behave like "2".
func (c *VersionCatalog) ActiveVersions() (map[string]string, error) {
	versions := make(map[string]string, len(artifactDirs))
	for key := range artifactDirs {
		versions[key] = c.Defaults[key]
	}

	raw, err := os.ReadFile(filepath.Join(c.BundleRoot, "active_versions.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return versions, nil
		}
		return nil, fmt.Errorf("read active versions: %w", err)
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse active versions: %w", err)
	}
	for key := range artifactDirs {
		if v, ok := parsed[key]; ok && v != nil {
			versions[key] = fmt.Sprintf("%v", v)
		}
	}
	return versions, nil
}

// Snapshot resolves active versions and hashes each version's artifact
// bundle. Hashing failures for individual bundles degrade to the missing
// marker so a partially populated bundle root still yields a snapshot.
func (c *VersionCatalog) Snapshot() (RuntimeVersionSnapshot, error) {
	versions, err := c.ActiveVersions()
	if err != nil {
		return RuntimeVersionSnapshot{}, err
	}

	hashes := make(map[string]string, len(versions))
	for key, value := range versions {
		hashes[key] = c.hashArtifactBundle(key, value)
	}
	return RuntimeVersionSnapshot{
		Versions:       versions,
		ArtifactHashes: hashes,
		Runtime:        c.Runtime,
	}, nil
}

// hashArtifactBundle digests every file under the bundle directory for a
// version, in sorted relative-path order, mixing the path into the digest so
// renames change the hash.
func (c *VersionCatalog) hashArtifactBundle(versionKey, versionValue string) string {
	subdir, ok := artifactDirs[versionKey]
	if !ok || versionValue == "" {
		return artifactHashMissing
	}
	base := filepath.Join(c.BundleRoot, subdir, versionValue)

	var files []string
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil || len(files) == 0 {
		return artifactHashMissing
	}
	sort.Strings(files)

	digest := sha256.New()
	for _, path := range files {
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return artifactHashMissing
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return artifactHashMissing
		}
		digest.Write([]byte(filepath.ToSlash(rel)))
		digest.Write(data)
	}
	return hex.EncodeToString(digest.Sum(nil))
}
