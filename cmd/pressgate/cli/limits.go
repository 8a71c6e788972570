package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pressgate/pressgate/internal/model"
	"github.com/pressgate/pressgate/internal/store"
)

func newLimitsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Manage tenant rate-limit overrides",
		Long:  "Set, clear, list, and bulk-transfer per-tenant rate limits. Tenants without an override use the configured defaults.",
	}

	cmd.AddCommand(newLimitsSetCmd())
	cmd.AddCommand(newLimitsClearCmd())
	cmd.AddCommand(newLimitsListCmd())
	cmd.AddCommand(newLimitsExportCmd())
	cmd.AddCommand(newLimitsImportCmd())

	return cmd
}

// ---------- limits set ----------

func newLimitsSetCmd() *cobra.Command {
	var perMinute, perHour int

	cmd := &cobra.Command{
		Use:   "set <tenant-id>",
		Short: "Set a tenant's custom limits",
		Example: `  pressgate limits set acme --per-minute 500 --per-hour 5000`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLimitsSet(args[0], perMinute, perHour)
		},
	}

	cmd.Flags().IntVar(&perMinute, "per-minute", 0, "Requests allowed per minute (required)")
	cmd.Flags().IntVar(&perHour, "per-hour", 0, "Requests allowed per hour (required)")
	cmd.MarkFlagRequired("per-minute")
	cmd.MarkFlagRequired("per-hour")

	return cmd
}

func runLimitsSet(tenant string, perMinute, perHour int) error {
	if perMinute <= 0 || perHour <= 0 {
		return fmt.Errorf("per-minute and per-hour must be positive")
	}
	if perHour < perMinute {
		return fmt.Errorf("per-hour must be at least per-minute")
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ov := &model.TenantOverride{
		TenantID:  tenant,
		PerMinute: perMinute,
		PerHour:   perHour,
	}
	if err := st.SetTenantOverride(context.Background(), ov); err != nil {
		return fmt.Errorf("set tenant limits: %w", err)
	}

	fmt.Printf("Limits for %s: %d/min, %d/hour\n", tenant, perMinute, perHour)
	fmt.Println("Running instances pick the change up within the override freshness window.")
	return nil
}

// ---------- limits clear ----------

func newLimitsClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear <tenant-id>",
		Short: "Remove a tenant's custom limits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLimitsClear(args[0])
		},
	}

	return cmd
}

func runLimitsClear(tenant string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.ClearTenantOverride(context.Background(), tenant); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no custom limits stored for %q", tenant)
		}
		return fmt.Errorf("clear tenant limits: %w", err)
	}

	fmt.Printf("Cleared custom limits for %s; defaults apply\n", tenant)
	return nil
}

// ---------- limits list ----------

func newLimitsListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all tenant overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLimitsList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runLimitsList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	overrides, err := st.ListTenantOverrides(context.Background())
	if err != nil {
		return fmt.Errorf("list tenant limits: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(overrides)
	}

	if len(overrides) == 0 {
		fmt.Println("No tenant overrides stored; all tenants use defaults.")
		return nil
	}

	fmt.Printf("%-24s %-12s %-12s\n", "TENANT", "PER-MINUTE", "PER-HOUR")
	fmt.Printf("%-24s %-12s %-12s\n", "------", "----------", "--------")
	for _, ov := range overrides {
		fmt.Printf("%-24s %-12d %-12d\n", ov.TenantID, ov.PerMinute, ov.PerHour)
	}

	return nil
}

// ---------- limits export / import ----------

// limitsFile is the YAML document produced by export and consumed by import.
type limitsFile struct {
	Limits []limitsEntry `yaml:"limits"`
}

type limitsEntry struct {
	Tenant    string `yaml:"tenant"`
	PerMinute int    `yaml:"per_minute"`
	PerHour   int    `yaml:"per_hour"`
}

func newLimitsExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export all overrides to a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLimitsExport(args[0])
		},
	}

	return cmd
}

func runLimitsExport(path string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	overrides, err := st.ListTenantOverrides(context.Background())
	if err != nil {
		return fmt.Errorf("list tenant limits: %w", err)
	}

	doc := limitsFile{Limits: make([]limitsEntry, len(overrides))}
	for i, ov := range overrides {
		doc.Limits[i] = limitsEntry{
			Tenant:    ov.TenantID,
			PerMinute: ov.PerMinute,
			PerHour:   ov.PerHour,
		}
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal limits: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Printf("Exported %d overrides to %s\n", len(doc.Limits), path)
	return nil
}

func newLimitsImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import overrides from a YAML file",
		Long:  "Create or replace overrides for every tenant named in the file. Tenants not named are left untouched.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLimitsImport(args[0])
		},
	}

	return cmd
}

func runLimitsImport(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var doc limitsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for _, e := range doc.Limits {
		if e.Tenant == "" || e.PerMinute <= 0 || e.PerHour <= 0 {
			return fmt.Errorf("invalid entry for tenant %q: limits must be positive", e.Tenant)
		}
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	for _, e := range doc.Limits {
		ov := &model.TenantOverride{
			TenantID:  e.Tenant,
			PerMinute: e.PerMinute,
			PerHour:   e.PerHour,
		}
		if err := st.SetTenantOverride(ctx, ov); err != nil {
			return fmt.Errorf("set limits for %s: %w", e.Tenant, err)
		}
	}

	fmt.Printf("Imported %d overrides from %s\n", len(doc.Limits), path)
	return nil
}
