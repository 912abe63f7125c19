package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"grapelm/config"
	"grapelm/store"
	"grapelm/workspace"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run status store migrations",
	Long: `Create tasks/tasks.db under the work directory if needed and apply
pending schema migrations. serve does this on startup as well.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	layout, err := workspace.New(cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}

	db, err := store.OpenDB(layout.DBPath())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	applied, err := store.Migrate(ctx, db)
	if err != nil {
		return err
	}
	for _, v := range applied {
		fmt.Printf("applied %05d\n", v)
	}

	fmt.Println("migrations complete")
	return nil
}
