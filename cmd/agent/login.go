package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"example.com/worktrack/internal/agent/client"
	"example.com/worktrack/internal/agent/probe"
	"example.com/worktrack/internal/agent/state"
)

func newLoginCmd(e *env) *cobra.Command {
	var email, password, tenantID, server string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and register this machine as a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if server == "" {
				server = e.apiURL()
			}
			api := client.New(server, &http.Client{Timeout: e.cfg.HTTPTimeout}, e.state)

			res, err := api.Login(ctx, email, password, tenantID)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			userID := res.User.ID
			if userID == "" {
				userID = client.SubjectOf(res.AccessToken)
			}
			if err := e.state.Update(func(s *state.State) {
				s.APIURL = server
				s.TenantID = res.TenantID
				s.UserID = userID
			}); err != nil {
				return err
			}

			host, err := probe.HostInfo(ctx)
			if err != nil {
				return fmt.Errorf("reading host info: %w", err)
			}
			deviceID, err := api.RegisterDevice(ctx, host.Name, host.Platform)
			if err != nil {
				return fmt.Errorf("registering device: %w", err)
			}
			if err := e.state.Update(func(s *state.State) { s.DeviceID = deviceID }); err != nil {
				return err
			}

			cmd.Printf("Logged in as %s (tenant %s)\n", userID, res.TenantID)
			cmd.Printf("Device: %s (%s)\n", host.Name, deviceID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&server, "server", "", "API base URL, defaults to the configured api_url")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
