// Package scene reads the parts of an avatar model the controller needs:
// animation clip names with durations, and morph target names per mesh.
package scene

import (
	"fmt"
	"sort"
	"time"

	"github.com/qmuntal/gltf"
)

// Clip is a named animation with its playback length.
type Clip struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

// Mesh is a named mesh and the morph targets it exposes.
type Mesh struct {
	Name    string   `json:"name"`
	Targets []string `json:"targets"`
}

// HasTarget reports whether the mesh exposes the named morph target.
func (m Mesh) HasTarget(name string) bool {
	for _, t := range m.Targets {
		if t == name {
			return true
		}
	}
	return false
}

// Avatar describes a loaded model.
type Avatar struct {
	Source string          `json:"source"`
	Clips  map[string]Clip `json:"clips"`
	Meshes []Mesh          `json:"meshes"`
}

// Clip looks up a clip by name.
func (a *Avatar) Clip(name string) (Clip, bool) {
	c, ok := a.Clips[name]
	return c, ok
}

// ClipNames returns clip names in sorted order.
func (a *Avatar) ClipNames() []string {
	names := make([]string, 0, len(a.Clips))
	for name := range a.Clips {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Mesh looks up a mesh by name.
func (a *Avatar) Mesh(name string) (Mesh, bool) {
	for _, m := range a.Meshes {
		if m.Name == name {
			return m, true
		}
	}
	return Mesh{}, false
}

// Load opens a .gltf or .glb file.
func Load(path string) (*Avatar, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gltf %s: %w", path, err)
	}

	avatar := FromDocument(doc)
	avatar.Source = path
	return avatar, nil
}

// FromDocument extracts clips and morph targets from a parsed document.
// Missing data is not an error; the avatar simply exposes less.
func FromDocument(doc *gltf.Document) *Avatar {
	avatar := &Avatar{
		Clips: make(map[string]Clip, len(doc.Animations)),
	}

	for i, anim := range doc.Animations {
		name := anim.Name
		if name == "" {
			name = fmt.Sprintf("animation_%d", i)
		}
		avatar.Clips[name] = Clip{Name: name, Duration: animationDuration(doc, anim)}
	}

	seen := make(map[int]bool)
	for _, node := range doc.Nodes {
		if node.Mesh == nil || *node.Mesh < 0 || *node.Mesh >= len(doc.Meshes) {
			continue
		}
		gm := doc.Meshes[*node.Mesh]
		name := node.Name
		if name == "" {
			name = gm.Name
		}
		seen[*node.Mesh] = true
		avatar.Meshes = append(avatar.Meshes, Mesh{Name: name, Targets: targetNames(gm)})
	}

	// Meshes not referenced by any node still carry usable target names.
	for i, gm := range doc.Meshes {
		if seen[i] {
			continue
		}
		name := gm.Name
		if name == "" {
			name = fmt.Sprintf("mesh_%d", i)
		}
		avatar.Meshes = append(avatar.Meshes, Mesh{Name: name, Targets: targetNames(gm)})
	}

	return avatar
}

// animationDuration is the largest keyframe time across the animation's
// samplers, read from the input accessors' max bound.
func animationDuration(doc *gltf.Document, anim *gltf.Animation) time.Duration {
	var longest float64
	for _, sampler := range anim.Samplers {
		if sampler.Input < 0 || sampler.Input >= len(doc.Accessors) {
			continue
		}
		acc := doc.Accessors[sampler.Input]
		if len(acc.Max) > 0 && acc.Max[0] > longest {
			longest = acc.Max[0]
		}
	}
	return time.Duration(longest * float64(time.Second))
}

// targetNames reads morph target names from mesh extras, where exporters put
// them by convention.
func targetNames(gm *gltf.Mesh) []string {
	var names []string
	if extras, ok := gm.Extras.(map[string]interface{}); ok {
		if list, ok := extras["targetNames"].([]interface{}); ok {
			for _, v := range list {
				if s, ok := v.(string); ok {
					names = append(names, s)
				}
			}
		}
	}
	return names
}
