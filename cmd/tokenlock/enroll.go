// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tokenlock/tokenlock/internal/auth"
	"github.com/tokenlock/tokenlock/internal/vault"
)

// envPassphrase supplies the enrollment passphrase when --passphrase is unset.
const envPassphrase = "TOKENLOCK_PASSPHRASE"

// Replaced in tests.
var (
	openStore  = openProfileStore
	openCache  = newCredentialCache
	cliLogger  = func() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
	stdinInput = func() io.Reader { return os.Stdin }
)

type enrollOptions struct {
	userID     string
	accountID  string
	label      string
	credential string
	passphrase string
}

// NewEnrollCmd creates the enroll subcommand.
func NewEnrollCmd() *cobra.Command {
	opts := &enrollOptions{}

	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Seal a credential and store it as a user's next profile",
		Long: `Encrypt a credential under the user's passphrase and store it as the
user's next profile. Pass --credential - to read the credential from stdin.
The passphrase is taken from --passphrase or the ` + envPassphrase + `
environment variable.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnrollment(cmd, func(svc *auth.EnrollmentService) error {
				return runEnroll(cmd, svc, opts)
			})
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&opts.userID, "user", "", "user ID (required)")
	fs.StringVar(&opts.accountID, "account", "", "account ID the credential belongs to (required)")
	fs.StringVar(&opts.label, "label", "", "display label (default: account ID)")
	fs.StringVar(&opts.credential, "credential", "", "credential to seal, or - to read stdin (required)")
	fs.StringVar(&opts.passphrase, "passphrase", "", "passphrase (default: $"+envPassphrase+")")
	registerDatabaseFlags(cmd.PersistentFlags())
	registerCacheFlags(cmd.PersistentFlags())
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("credential")

	cmd.AddCommand(newProfilesListCmd(), newProfilesRemoveCmd())
	return cmd
}

func newProfilesListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnrollment(cmd, func(svc *auth.EnrollmentService) error {
				profiles, err := svc.List(cmd.Context(), userID)
				if err != nil {
					return err
				}
				cmd.Print(formatProfiles(profiles))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newProfilesRemoveCmd() *cobra.Command {
	var (
		userID   string
		position int
	)
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a user's profile by position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if position < 1 {
				return oops.Code("CONFIG_INVALID").Errorf("--position must be at least 1")
			}
			return withEnrollment(cmd, func(svc *auth.EnrollmentService) error {
				if err := svc.Remove(cmd.Context(), userID, position); err != nil {
					return err
				}
				cmd.Printf("Removed profile %d of %s\n", position, userID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID (required)")
	cmd.Flags().IntVar(&position, "position", 0, "profile position (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("position")
	return cmd
}

// withEnrollment connects to the store and cache and runs fn.
func withEnrollment(cmd *cobra.Command, fn func(*auth.EnrollmentService) error) error {
	cfg, err := loadConfig(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.requireDatabase(); err != nil {
		return err
	}
	if err := cfg.requireCache(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := cliLogger()

	profiles, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer profiles.Close()

	credentials, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return oops.Code("CACHE_CONNECT_FAILED").With("backend", cfg.Cache.Backend).Wrap(err)
	}
	defer func() { _ = credentials.Close() }()

	svc, err := auth.NewEnrollmentService(profiles, vault.New(), credentials, auth.WithEnrollmentLogger(logger))
	if err != nil {
		return err
	}
	return fn(svc)
}

func runEnroll(cmd *cobra.Command, svc *auth.EnrollmentService, opts *enrollOptions) error {
	credential := []byte(opts.credential)
	if opts.credential == "-" {
		data, err := io.ReadAll(io.LimitReader(stdinInput(), 64<<10))
		if err != nil {
			return oops.Code("ENROLL_READ_FAILED").With("source", "stdin").Wrap(err)
		}
		credential = bytes.TrimRight(data, "\r\n")
	}

	passphrase := opts.passphrase
	if passphrase == "" {
		passphrase = os.Getenv(envPassphrase)
	}
	if passphrase == "" {
		return oops.Code("CONFIG_INVALID").Errorf("passphrase is required: set --passphrase or %s", envPassphrase)
	}

	profile, err := svc.Enroll(cmd.Context(), auth.EnrollRequest{
		UserID:     opts.userID,
		AccountID:  opts.accountID,
		Label:      opts.label,
		Credential: credential,
		Passphrase: []byte(passphrase),
	})
	if err != nil {
		return err
	}
	cmd.Printf("Enrolled %s as profile %d of %s\n", profile.Label, profile.Position, profile.UserID)
	return nil
}

// formatProfiles renders profiles as a table.
func formatProfiles(profiles []*auth.Profile) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "POSITION\tACCOUNT\tLABEL\tCREATED")
	for _, p := range profiles {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.Position, p.AccountID, p.Label, p.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
	return buf.String()
}
