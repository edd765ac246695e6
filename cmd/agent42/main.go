// agent42 is an autonomous coding agent that works inside a sandboxed workspace.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agent42",
	Short: "agent42 is an autonomous coding agent with a sandboxed shell.",
	Long: `agent42 drives a language model through a loop of tool calls (bash,
read_file, write_file) against a workspace mounted at /workspace.
Shell commands run in a sandbox without network access and with a
per-command timeout. Long conversations are pruned and summarized
to stay within the model's context window.`,
	RunE:          runChat, // Default to the interactive REPL.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(chatCmd, runCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
