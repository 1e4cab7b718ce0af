// Command resolve-kick-channels looks up Kick chatroom IDs so the Kick
// feed can be configured without API lookups at startup.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/john/chatguard/internal/config"
	"github.com/john/chatguard/internal/kick"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "resolve-kick-channels <channel> [channel...]",
	Short: "Resolve Kick channel slugs to chatroom IDs",
	Example: `  resolve-kick-channels paymoneywubby
  resolve-kick-channels paymoneywubby xqc > kick.yaml`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		conn := kick.New(nil, zap.NewNop())

		var resolved []config.KickChannelConfig
		for _, slug := range args {
			id, name, err := conn.Resolve(cmd.Context(), slug)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", slug, err)
				continue
			}
			resolved = append(resolved, config.KickChannelConfig{Slug: name, ChatroomID: id})
		}
		if len(resolved) == 0 {
			return fmt.Errorf("no channels resolved")
		}

		snippet := map[string]config.KickConfig{
			"kick": {Enabled: true, Channels: resolved},
		}
		data, err := yaml.Marshal(snippet)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "# Add this to your config.yaml")
		fmt.Fprint(out, string(data))
		return nil
	},
}
