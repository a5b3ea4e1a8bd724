package scene

import "time"

// Standard clip and morph names of Ready Player Me style avatars.
const (
	ClipIdle       = "Idle"
	ClipTalkingOne = "Talking_one"
	ClipTalkingTwo = "Talking_two"

	MorphMouthOpen  = "mouthOpen"
	MorphEyesClosed = "eyesClosed"
	MorphMouthSmile = "mouthSmile"

	MeshHead  = "Wolf3D_Head"
	MeshTeeth = "Wolf3D_Teeth"
)

// Default returns a built-in avatar description used when no model file is
// configured. It matches the layout of a Ready Player Me half-body export.
func Default() *Avatar {
	return &Avatar{
		Source: "builtin",
		Clips: map[string]Clip{
			ClipIdle:       {Name: ClipIdle, Duration: 4 * time.Second},
			ClipTalkingOne: {Name: ClipTalkingOne, Duration: 3200 * time.Millisecond},
			ClipTalkingTwo: {Name: ClipTalkingTwo, Duration: 2800 * time.Millisecond},
		},
		Meshes: []Mesh{
			{Name: MeshHead, Targets: []string{MorphMouthOpen, MorphMouthSmile, MorphEyesClosed}},
			{Name: MeshTeeth, Targets: []string{MorphMouthOpen, MorphMouthSmile}},
			{Name: "EyeLeft", Targets: []string{MorphEyesClosed}},
			{Name: "EyeRight", Targets: []string{MorphEyesClosed}},
		},
	}
}
