package main

import (
	"log/slog"
	"os"

	"github.com/SiriusScan/patch-intel/cmd/patchintel/commands"
	"github.com/SiriusScan/patch-intel/patchintel/slogger"
)

func Execute() {
	if err := commands.GetRootCmd().Execute(); err != nil {
		slog.Error("Error executing command", "error", err)
		os.Exit(1)
	}
}

func init() {
	commands.GetRootCmd().AddCommand(commands.NewServeCommand())
	commands.GetRootCmd().AddCommand(commands.NewIngestCommand())
	commands.GetRootCmd().AddCommand(commands.NewWorkerCommand())
	commands.GetRootCmd().AddCommand(commands.NewTriggerCommand())
	commands.GetRootCmd().AddCommand(commands.NewNVDBackfillCommand())
	commands.GetRootCmd().AddCommand(commands.NewDBCheckCommand())
}

func main() {
	slogger.Init()
	Execute()
}
