package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pressgate/pressgate/internal/keypair"
	"github.com/pressgate/pressgate/internal/model"
	"github.com/pressgate/pressgate/internal/scope"
	"github.com/pressgate/pressgate/internal/store"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, revoke, and check tenant API keys directly against the store.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyCheckCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		tenant string
		name   string
		scopes []string
		isTest bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new key pair for a tenant. The secret is shown once and cannot be retrieved again.",
		Example: `  pressgate key create --tenant acme --name "CI pipeline" --scopes read,write
  pressgate key create --tenant acme --name bootstrap --scopes admin
  pressgate key create --tenant acme --name staging --scopes read --test`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(tenant, name, scopes, isTest)
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant the key belongs to (required)")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable name for the key (required)")
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "Scopes granted to the key: read, write, admin (required)")
	cmd.Flags().BoolVar(&isTest, "test", false, "Create a test-environment key (pk_test_/sk_test_ prefixes)")
	cmd.MarkFlagRequired("tenant")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("scopes")

	return cmd
}

func runKeyCreate(tenant, name string, scopes []string, isTest bool) error {
	for _, s := range scopes {
		if !scope.Valid(s) {
			return fmt.Errorf("unknown scope %q (valid: read, write, admin)", s)
		}
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	pair, err := keypair.Generate(isTest)
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}

	key := &model.APIKey{
		KeyID:      pair.KeyID,
		TenantID:   tenant,
		Name:       name,
		SecretHash: pair.SecretHash,
		Scopes:     model.ScopeList(scopes),
		IsTest:     isTest,
		CreatedBy:  "cli",
	}
	if err := st.CreateAPIKey(context.Background(), key); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API key created:")
	fmt.Println()
	fmt.Printf("  Key ID:  %s\n", pair.KeyID)
	fmt.Printf("  Secret:  %s\n", pair.Secret)
	fmt.Printf("  Tenant:  %s\n", tenant)
	fmt.Printf("  Scopes:  %s\n", strings.Join(scopes, ", "))
	fmt.Println()
	fmt.Println("  Save the secret now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		tenant     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a tenant's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(tenant, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant to list keys for (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func runKeyList(tenant string, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	keys, err := st.ListAPIKeys(context.Background(), tenant)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys for this tenant. Use 'pressgate key create' to create one.")
		return nil
	}

	fmt.Printf("%-28s %-24s %-20s %-8s %-8s\n", "KEY ID", "NAME", "SCOPES", "TEST", "REVOKED")
	fmt.Printf("%-28s %-24s %-20s %-8s %-8s\n", "------", "----", "------", "----", "-------")
	for _, k := range keys {
		test, revoked := "no", "no"
		if k.IsTest {
			test = "yes"
		}
		if k.Revoked() {
			revoked = "yes"
		}
		fmt.Printf("%-28s %-24s %-20s %-8s %-8s\n",
			k.KeyID, k.Name, strings.Join(k.Scopes, ","), test, revoked)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Long:  "Terminally disable a key. In-flight tokens minted for it die at the next request.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}

	return cmd
}

func runKeyRevoke(keyID string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.RevokeAPIKey(context.Background(), keyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no unrevoked key %q found", keyID)
		}
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked key %s\n", keyID)
	return nil
}

// ---------- key check ----------

func newKeyCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <key-id>",
		Short: "Verify a secret against a stored key",
		Long:  "Prompt for a secret and verify it against the stored hash. Useful when untangling which secret belongs to which key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCheck(args[0])
		},
	}

	return cmd
}

func runKeyCheck(keyID string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	key, err := st.GetAPIKey(context.Background(), keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no key %q found", keyID)
		}
		return fmt.Errorf("get api key: %w", err)
	}

	fmt.Print("Secret: ")
	secretBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("read secret: %w", err)
	}
	fmt.Println()

	if !keypair.VerifySecret(string(secretBytes), key.SecretHash) {
		return fmt.Errorf("secret does not match key %s", keyID)
	}

	fmt.Printf("Secret matches key %s", keyID)
	if key.Revoked() {
		fmt.Print(" (key is revoked)")
	}
	fmt.Println()
	return nil
}
