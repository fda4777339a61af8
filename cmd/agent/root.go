package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"example.com/worktrack/internal/agent/state"
	"example.com/worktrack/internal/config"
)

// env carries what every subcommand needs, filled in by PersistentPreRunE.
type env struct {
	configPath string
	cfg        config.Agent
	state      *state.Store
}

// apiURL prefers the server chosen at login over the configured default.
func (e *env) apiURL() string {
	if u := e.state.Get().APIURL; u != "" {
		return u
	}
	return e.cfg.APIURL
}

func newRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:          "worktrack-agent",
		Short:        "Record desktop activity and deliver it to the worktrack server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAgent(e.configPath)
			if err != nil {
				return err
			}
			st, err := state.Open(cfg.StatePath())
			if err != nil {
				return fmt.Errorf("loading agent state: %w", err)
			}
			e.cfg = cfg
			e.state = st
			return nil
		},
	}
	root.PersistentFlags().StringVar(&e.configPath, "config", "", "path to agent YAML config")

	root.AddCommand(newLoginCmd(e), newRunCmd(e), newStatusCmd(e), newQueueCmd(e))
	return root
}
