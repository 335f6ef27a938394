package plugin

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Discovered is one plugin found during the scan phase: its manifest, the
// resolved entry file to import, and the directory it was discovered
// under (for PluginContext/Registry bookkeeping). No code is imported
// during discovery, per spec.md §4.3.
type Discovered struct {
	Manifest Manifest
	Entry    string
	Dir      string
}

// manifestFileNames are tried in order for each candidate directory/file.
var manifestFileNames = []string{"plugin.manifest.yaml", "plugin.manifest.yml", "plugin.manifest.json", "manifest.yaml", "manifest.yml", "manifest.json"}

// Discover walks each configured plugin directory and recognizes the three
// layouts from spec.md §4.3:
//
//	(a) direct file + sibling manifest            plugins/foo.js + plugins/foo.manifest.yaml
//	(b) subdirectory with manifest + entry file    plugins/foo/manifest.yaml + plugins/foo/plugin.js
//	(c) scoped subdirectory                        plugins/@scope/name/manifest.yaml + .../index.js
//
// A plugin's identity is its manifest's name field, not the filesystem
// path; a duplicate name is reported and the later occurrence dropped.
func Discover(dirs []string) ([]Discovered, []string, error) {
	var found []Discovered
	var warnings []string
	seen := make(map[string]bool)

	add := func(d Discovered) {
		if seen[d.Manifest.Name] {
			warnings = append(warnings, "duplicate plugin name "+d.Manifest.Name+" at "+d.Dir+", dropped")
			return
		}
		seen[d.Manifest.Name] = true
		found = append(found, d)
	}

	for _, root := range dirs {
		entries, err := os.ReadDir(root)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, warnings, err
		}

		for _, e := range entries {
			full := filepath.Join(root, e.Name())

			if !e.IsDir() {
				continue // files are only ever siblings of a manifest, handled below
			}

			if strings.HasPrefix(e.Name(), "@") {
				scoped, err := os.ReadDir(full)
				if err != nil {
					continue
				}
				for _, s := range scoped {
					if !s.IsDir() {
						continue
					}
					if d, ok := discoverSubdir(filepath.Join(full, s.Name())); ok {
						add(d)
					}
				}
				continue
			}

			if d, ok := discoverSubdir(full); ok {
				add(d)
				continue
			}
		}

		// layout (a): direct file + sibling manifest, scanned at the root.
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			if isManifestFileName(name) {
				continue
			}
			manifestPath := siblingManifestPath(root, name)
			if manifestPath == "" {
				continue
			}
			m, err := readManifest(manifestPath)
			if err != nil {
				warnings = append(warnings, "invalid manifest "+manifestPath+": "+err.Error())
				continue
			}
			add(Discovered{Manifest: m, Entry: filepath.Join(root, name), Dir: root})
		}
	}

	return found, warnings, nil
}

func discoverSubdir(dir string) (Discovered, bool) {
	manifestPath := findManifestIn(dir)
	if manifestPath == "" {
		return Discovered{}, false
	}
	m, err := readManifest(manifestPath)
	if err != nil {
		return Discovered{}, false
	}
	entry := m.PluginEntry
	if entry == "" {
		entry = findEntryIn(dir)
	}
	if entry == "" {
		return Discovered{}, false
	}
	return Discovered{Manifest: m, Entry: filepath.Join(dir, entry), Dir: dir}, true
}

func findManifestIn(dir string) string {
	for _, name := range manifestFileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func findEntryIn(dir string) string {
	for _, candidate := range []string{"plugin.ts", "plugin.js", "index.ts", "index.js"} {
		if _, err := os.Stat(filepath.Join(dir, candidate)); err == nil {
			return candidate
		}
	}
	return ""
}

func siblingManifestPath(root, fileName string) string {
	ext := filepath.Ext(fileName)
	base := strings.TrimSuffix(fileName, ext)
	for _, suffix := range []string{".manifest.yaml", ".manifest.yml", ".manifest.json"} {
		p := filepath.Join(root, base+suffix)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func isManifestFileName(name string) bool {
	for _, m := range manifestFileNames {
		if name == m || strings.HasSuffix(name, ".manifest.yaml") || strings.HasSuffix(name, ".manifest.yml") || strings.HasSuffix(name, ".manifest.json") {
			return true
		}
	}
	return false
}

func readManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}

	var raw map[string]any
	if strings.HasSuffix(path, ".json") {
		if err := yaml.Unmarshal(data, &raw); err != nil { // YAML is a superset of JSON
			return Manifest{}, err
		}
	} else if err := yaml.Unmarshal(data, &raw); err != nil {
		return Manifest{}, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}

	m.Options = make(map[string]any)
	reserved := map[string]bool{"name": true, "version": true, "enabled": true, "dependencies": true, "optionalDependencies": true, "base": true, "pluginEntry": true}
	for k, v := range raw {
		if !reserved[k] {
			m.Options[k] = v
		}
	}
	return m, nil
}
