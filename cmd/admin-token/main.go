package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tenant_gateway/internal/auth"
	"tenant_gateway/internal/config"
)

type options struct {
	subject string
	roles   []string
	ttl     time.Duration
	format  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Mint an admin API token",
		Long: `Mint a signed admin token for the gateway's /admin endpoints.

The token is signed with JWT_SECRET (read from the environment or .env),
which must match the secret the gateway runs with.

Roles:
  - viewer: read tenant usage and provider status
  - admin:  everything a viewer can do, plus create tenants

Examples:
  # One-hour admin token for an operator
  admin-token --subject ops@example.com --roles admin --ttl 1h

  # Read-only token for a dashboard, as JSON
  admin-token --subject grafana --roles viewer --ttl 720h --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mintToken(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.subject, "subject", "", "who the token is issued to (required)")
	cmd.Flags().StringSliceVar(&opts.roles, "roles", []string{string(auth.RoleViewer)}, "comma-separated roles: admin, viewer")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", auth.DefaultAdminTokenTTL, "token lifetime")
	cmd.Flags().StringVar(&opts.format, "format", "text", "output format: text, json")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func mintToken(cmd *cobra.Command, opts *options) error {
	roles, err := auth.ParseRoles(opts.roles)
	if err != nil {
		return err
	}
	if len(roles) == 0 {
		return fmt.Errorf("at least one role is required")
	}

	cfg, err := config.LoadAdmin()
	if err != nil {
		return err
	}
	if cfg.UsesDefaultJWTSecret() {
		fmt.Fprintln(cmd.ErrOrStderr(), "WARNING: JWT_SECRET is not set, signing with the development default")
	}

	token, expiresAt, err := auth.GenerateAdminJWT(opts.subject, roles, opts.ttl, cfg)
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}

	out := cmd.OutOrStdout()
	switch opts.format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"token":      token,
			"subject":    opts.subject,
			"roles":      opts.roles,
			"expires_at": expiresAt.UTC().Format(time.RFC3339),
		})
	case "text":
		fmt.Fprintln(out, token)
		fmt.Fprintf(cmd.ErrOrStderr(), "Subject: %s\nRoles:   %v\nExpires: %s\n", opts.subject, opts.roles, expiresAt.UTC().Format(time.RFC3339))
		return nil
	default:
		return fmt.Errorf("unknown format %q", opts.format)
	}
}
