// Command classify sends text to the phishing classifier and prints the
// badge the pipeline would attach.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/john/chatguard/internal/badge"
	"github.com/john/chatguard/internal/classifier"
)

var (
	endpoint string
	timeout  time.Duration
	verbose  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "classify [text...]",
	Short: "Classify chat text with the phishing classifier",
	Long: `Sends the joined arguments to the classifier and prints the badge text.
Prints "unknown" when the classifier gives no usable answer.

Example:
  classify --url http://127.0.0.1:5000/detect "free nitro at disc0rd.gift"`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := zap.NewNop()
		if verbose {
			var err error
			if logger, err = zap.NewDevelopment(); err != nil {
				return err
			}
		}

		client := classifier.NewClient(endpoint, timeout, logger)
		res := client.Classify(cmd.Context(), strings.Join(args, " "))
		if res == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "unknown")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), badge.Text(res))
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&endpoint, "url", "http://127.0.0.1:5000/detect", "classifier endpoint")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log request failures")
}
