package scene

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/qmuntal/gltf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func testDocument() *gltf.Document {
	return &gltf.Document{
		Accessors: []*gltf.Accessor{
			{Count: 2, Max: []float64{2.5}, Min: []float64{0}},
			{Count: 2, Max: []float64{1.25}, Min: []float64{0}},
			{Count: 2},
		},
		Animations: []*gltf.Animation{
			{Name: "Idle", Samplers: []*gltf.AnimationSampler{{Input: 0, Output: 2}, {Input: 1, Output: 2}}},
			{Name: "Talking_one", Samplers: []*gltf.AnimationSampler{{Input: 1, Output: 2}}},
			{Samplers: []*gltf.AnimationSampler{{Input: 9, Output: 2}}},
		},
		Meshes: []*gltf.Mesh{
			{Name: "HeadMesh", Extras: map[string]interface{}{
				"targetNames": []interface{}{"mouthOpen", "eyesClosed"},
			}},
			{Name: "Teeth"},
			{Name: "Orphan", Extras: map[string]interface{}{
				"targetNames": []interface{}{"mouthSmile"},
			}},
		},
		Nodes: []*gltf.Node{
			{Name: "Wolf3D_Head", Mesh: intPtr(0)},
			{Name: "", Mesh: intPtr(1)},
			{Name: "Armature"},
		},
	}
}

func TestFromDocument_Clips(t *testing.T) {
	avatar := FromDocument(testDocument())

	idle, ok := avatar.Clip("Idle")
	require.True(t, ok)
	assert.Equal(t, 2500*time.Millisecond, idle.Duration)

	talk, ok := avatar.Clip("Talking_one")
	require.True(t, ok)
	assert.Equal(t, 1250*time.Millisecond, talk.Duration)

	unnamed, ok := avatar.Clip("animation_2")
	require.True(t, ok)
	assert.Zero(t, unnamed.Duration)

	assert.Equal(t, []string{"Idle", "Talking_one", "animation_2"}, avatar.ClipNames())
}

func TestFromDocument_Meshes(t *testing.T) {
	avatar := FromDocument(testDocument())

	require.Len(t, avatar.Meshes, 3)

	head, ok := avatar.Mesh("Wolf3D_Head")
	require.True(t, ok)
	assert.Equal(t, []string{"mouthOpen", "eyesClosed"}, head.Targets)
	assert.True(t, head.HasTarget("eyesClosed"))
	assert.False(t, head.HasTarget("mouthSmile"))

	teeth, ok := avatar.Mesh("Teeth")
	require.True(t, ok)
	assert.Empty(t, teeth.Targets)

	orphan, ok := avatar.Mesh("Orphan")
	require.True(t, ok)
	assert.Equal(t, []string{"mouthSmile"}, orphan.Targets)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.glb"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	avatar := Default()

	for _, name := range []string{ClipIdle, ClipTalkingOne, ClipTalkingTwo} {
		clip, ok := avatar.Clip(name)
		assert.True(t, ok, name)
		assert.Positive(t, clip.Duration)
	}

	head, ok := avatar.Mesh(MeshHead)
	require.True(t, ok)
	assert.True(t, head.HasTarget(MorphMouthOpen))
	assert.True(t, head.HasTarget(MorphEyesClosed))
}
