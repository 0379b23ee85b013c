package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/samply/golang-fhir-models/fhir-models/fhir"
	"github.com/spf13/cobra"

	"github.com/ehr/xchange/internal/config"
	"github.com/ehr/xchange/internal/platform/ccda"
	"github.com/ehr/xchange/internal/platform/codesystem"
	"github.com/ehr/xchange/internal/platform/db"
	"github.com/ehr/xchange/internal/platform/saml"
	"github.com/ehr/xchange/internal/platform/xcpd"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "xchange",
		Short:        "Cross-network document exchange service",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(signCmd())
	root.AddCommand(classifyCmd())
	root.AddCommand(cdaCmd())
	root.AddCommand(migrateCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the exchange API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// newLogger builds the process logger: JSON to stdout, or a console writer
// in development.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).Level(cfg.Level()).With().Timestamp().Logger()
}

// readInput reads the --in file, or stdin when it is empty or "-".
func readInput(cmd *cobra.Command) ([]byte, error) {
	path, _ := cmd.Flags().GetString("in")
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func signCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign the Timestamp and Assertion of a SOAP message",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("key"); v != "" {
				cfg.SigningKeyFile = v
			}
			if v, _ := cmd.Flags().GetString("cert"); v != "" {
				cfg.SigningCertFile = v
			}
			if v, _ := cmd.Flags().GetString("algorithm"); v != "" {
				cfg.SigningAlgorithm = v
			}
			if !cfg.SigningEnabled() {
				return fmt.Errorf("a signing key and certificate are required (--key/--cert or SIGNING_KEY_FILE/SIGNING_CERT_FILE)")
			}

			signer, err := newSigner(cfg)
			if err != nil {
				return err
			}

			input, err := readInput(cmd)
			if err != nil {
				return fmt.Errorf("read message: %w", err)
			}

			signed, err := signer.Sign(string(input))
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), signed)
			return err
		},
	}
	cmd.Flags().String("in", "", "Unsigned message file (default stdin)")
	cmd.Flags().String("key", "", "PEM private key (overrides SIGNING_KEY_FILE)")
	cmd.Flags().String("cert", "", "PEM certificate (overrides SIGNING_CERT_FILE)")
	cmd.Flags().String("algorithm", "", "rsa-sha1 or rsa-sha256 (overrides SIGNING_ALGORITHM)")
	return cmd
}

func newSigner(cfg *config.Config) (*saml.Signer, error) {
	alg, err := saml.ParseAlgorithm(cfg.SigningAlgorithm)
	if err != nil {
		return nil, err
	}
	keys, err := saml.LoadKeyPair(cfg.SigningKeyFile, cfg.SigningCertFile)
	if err != nil {
		return nil, err
	}
	return saml.NewSigner(keys, alg)
}

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify a gateway reply (JSON) into a discovery outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd)
			if err != nil {
				return fmt.Errorf("read reply: %w", err)
			}

			var reply xcpd.GatewayReply
			if err := json.Unmarshal(input, &reply); err != nil {
				return fmt.Errorf("decode reply: %w", err)
			}

			logger := zerolog.New(cmd.ErrOrStderr()).With().Timestamp().Logger()
			classifier := xcpd.NewClassifier(xcpd.NewLogReporter(logger), xcpd.WithLogger(logger))
			outcome := classifier.Classify(context.Background(), &reply)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(outcome)
		},
	}
	cmd.Flags().String("in", "", "Gateway reply JSON file (default stdin)")
	return cmd
}

func cdaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cda",
		Short: "Render FHIR fragments as C-CDA elements",
	}

	orgCmd := &cobra.Command{
		Use:   "organization",
		Short: "Render a FHIR Organization as representedOrganization",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd)
			if err != nil {
				return err
			}
			var org ccda.OrganizationFragment
			if err := json.Unmarshal(input, &org); err != nil {
				return fmt.Errorf("decode Organization: %w", err)
			}
			return writeElement(cmd, "representedOrganization", ccda.BuildOrganization(&org))
		},
	}
	orgCmd.Flags().String("in", "", "Organization JSON file (default stdin)")

	codeCmd := &cobra.Command{
		Use:   "coded-value",
		Short: "Render a FHIR CodeableConcept as a coded value",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd)
			if err != nil {
				return err
			}
			var concept fhir.CodeableConcept
			if err := json.Unmarshal(input, &concept); err != nil {
				return fmt.Errorf("decode CodeableConcept: %w", err)
			}
			enc := ccda.NewEncoder(codesystem.Default())
			return writeElement(cmd, "code", enc.BuildCodedValue(&concept))
		},
	}
	codeCmd.Flags().String("in", "", "CodeableConcept JSON file (default stdin)")

	cmd.AddCommand(orgCmd, codeCmd)
	return cmd
}

func writeElement(cmd *cobra.Command, name string, v interface{}) error {
	data, err := ccda.MarshalElement(name, v)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if _, err := out.Write(data); err != nil {
		return err
	}
	_, err = io.WriteString(out, "\n")
	return err
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations for the outcome store",
	}

	withMigrator := func(run func(ctx context.Context, m *db.Migrator, out io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, db.PoolConfig{
				URL:      cfg.DatabaseURL,
				MaxConns: cfg.DBMaxConns,
				MinConns: cfg.DBMinConns,
			})
			if err != nil {
				return err
			}
			defer pool.Close()

			return run(ctx, db.NewMigrator(pool, db.Migrations()), cmd.OutOrStdout())
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: withMigrator(func(ctx context.Context, m *db.Migrator, out io.Writer) error {
			count, err := m.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(out, "Applied %d migration(s) successfully.\n", count)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: withMigrator(func(ctx context.Context, m *db.Migrator, out io.Writer) error {
			statuses, err := m.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatuses(out, statuses)
			return nil
		}),
	})

	return cmd
}

func printStatuses(out io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
