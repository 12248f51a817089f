package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/ndyanx/prompt-studio/cmd/promptstudio/commands"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "promptstudio",
		Short: "Prompt Studio workspace core",
		Long:  `Prompt Studio manages prompt tasks with dynamic color placeholders, local-first storage, and optional remote snapshot sync.`,
	}

	// Add commands
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewMigrateCommand())
	rootCmd.AddCommand(commands.NewSyncCommand())
	rootCmd.AddCommand(commands.NewTasksCommand())
	rootCmd.AddCommand(commands.NewVersionCommand())

	// Execute root command
	if err := rootCmd.Execute(); err != nil {
		log.Printf("Command execution failed: %v", err)
		os.Exit(1)
	}
}
