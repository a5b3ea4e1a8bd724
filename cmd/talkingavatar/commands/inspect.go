package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/normanking/talkingavatar/internal/config"
	"github.com/normanking/talkingavatar/internal/scene"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <model.glb>",
	Short: "Describe the clips and morph targets of a .glb model",
	Long: `Load a glTF binary and list its animation clips and the morph targets of
each mesh, flagging the names the avatar expects but the model lacks.

Examples:
  talkingavatar inspect avatar.glb
  talkingavatar inspect avatar.glb --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, err := scene.Load(args[0])
		if err != nil {
			return err
		}

		if inspectJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(model)
		}

		cfg := config.DefaultConfig()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Model:\t%s\n\n", model.Source)

		fmt.Fprintln(w, "CLIP\tDURATION")
		for _, name := range model.ClipNames() {
			clip, _ := model.Clip(name)
			fmt.Fprintf(w, "%s\t%s\n", name, clip.Duration)
		}
		for _, name := range []string{cfg.Animation.IdleClip, cfg.Animation.TalkingAClip, cfg.Animation.TalkingBClip} {
			if _, ok := model.Clip(name); !ok {
				fmt.Fprintf(w, "%s\tmissing\n", name)
			}
		}

		fmt.Fprintln(w, "\nMESH\tMORPH TARGETS")
		for _, m := range model.Meshes {
			fmt.Fprintf(w, "%s\t%s\n", m.Name, strings.Join(m.Targets, ", "))
		}
		for _, name := range cfg.Morph.SpeakingMeshes {
			m, ok := model.Mesh(name)
			if !ok {
				fmt.Fprintf(w, "%s\tmissing\n", name)
				continue
			}
			if !m.HasTarget(cfg.Morph.MouthChannel) {
				fmt.Fprintf(w, "%s\tno %s target\n", name, cfg.Morph.MouthChannel)
			}
		}
		return w.Flush()
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "print the model description as JSON")
	rootCmd.AddCommand(inspectCmd)
}
