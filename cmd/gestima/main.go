// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"gestima.io/gestima/documents"
	"gestima.io/gestima/files"
	"gestima.io/gestima/gestimadb"
	"gestima.io/gestima/infor"
	"gestima.io/gestima/inforsync"
	"gestima.io/gestima/numbers"
	"gestima.io/gestima/private/process"
	"gestima.io/gestima/sharerecovery"
	"gestima.io/gestima/workcenters"
)

var (
	rootCmd = &cobra.Command{
		Use:   "gestima",
		Short: "Manufacturing cost estimation backend",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Migrate the database and run the sync scheduler",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:   "setup",
		Short: "Write a default configuration file",
		RunE:  cmdSetup,
	}
	importShareCmd = &cobra.Command{
		Use:   "import-share",
		Short: "Scan a drawing share and attach missing primary drawings",
		RunE:  cmdImportShare,
	}
	syncTriggerCmd = &cobra.Command{
		Use:   "sync-trigger <step>",
		Short: "Run one sync step immediately",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdSyncTrigger,
	}
	diagCmd = &cobra.Command{
		Use:   "diag",
		Short: "Print the sync state and recent run log",
		RunE:  cmdDiag,
	}
)

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to the configuration file")
	rootCmd.PersistentFlags().String("log.level", "info", "log level")
	rootCmd.PersistentFlags().Bool("log.development", false, "human-readable console logging")
	rootCmd.PersistentFlags().String("db.path", "gestima.db", "path to the sqlite database")
	rootCmd.PersistentFlags().String("files.root", "uploads", "root directory of the upload tree")
	rootCmd.PersistentFlags().Duration("files.temp-expiry", 24*time.Hour, "age after which temp files are collected")
	rootCmd.PersistentFlags().String("infor.base-url", "", "base URL of the ERP REST service")
	rootCmd.PersistentFlags().String("infor.config", "", "ERP configuration name")
	rootCmd.PersistentFlags().String("infor.username", "", "ERP user")
	rootCmd.PersistentFlags().String("infor.password", "", "ERP password")
	rootCmd.PersistentFlags().Duration("sync.interval", 5*time.Second, "scheduler wakeup interval")
	rootCmd.PersistentFlags().Int("sync.initial-lookback-days", 1, "history window for a fresh watermark")
	rootCmd.PersistentFlags().String("sync.user", "sync", "audit user recorded on synced rows")
	rootCmd.PersistentFlags().String("workcenters.mapping", "", "path to the work-center mapping file")
	rootCmd.PersistentFlags().Bool("numbers.quote-high-range", false, "allocate quote numbers from the 85XXXXXX range")

	importShareCmd.Flags().String("share.root", "", "root directory of the drawing share")
	importShareCmd.Flags().Bool("share.dry-run", true, "report matches without storing anything")

	rootCmd.AddCommand(runCmd, setupCmd, importShareCmd, syncTriggerCmd, diagCmd)
}

func main() {
	process.Execute(rootCmd)
}

// runtime holds everything a command needs after the database is open.
type runtime struct {
	log   *zap.Logger
	db    *gestimadb.DB
	store *files.Store
	alloc *numbers.Allocator
}

func openRuntime(ctx context.Context) (_ *runtime, err error) {
	v := process.Viper()

	log, err := process.NewLogger(v.GetString("log.level"), v.GetBool("log.development"))
	if err != nil {
		return nil, err
	}

	db, err := gestimadb.Open(ctx, log.Named("db"), v.GetString("db.path"))
	if err != nil {
		return nil, err
	}
	if err := db.MigrateToLatest(ctx); err != nil {
		return nil, errs.Combine(err, db.Close())
	}

	store := files.NewStore(log.Named("files"), db.Files(), files.Config{
		Root:       v.GetString("files.root"),
		TempExpiry: v.GetDuration("files.temp-expiry"),
	})
	alloc := numbers.NewAllocator(log.Named("numbers"), db.Numbers(), numbers.Config{
		QuoteHighRange: v.GetBool("numbers.quote-high-range"),
	})

	return &runtime{log: log, db: db, store: store, alloc: alloc}, nil
}

func (rt *runtime) close() error {
	return rt.db.Close()
}

func (rt *runtime) newChore(ctx context.Context) (*inforsync.Chore, error) {
	v := process.Viper()

	client, err := infor.NewClient(rt.log.Named("infor"), infor.Config{
		BaseURL:    v.GetString("infor.base-url"),
		ConfigName: v.GetString("infor.config"),
		Username:   v.GetString("infor.username"),
		Password:   v.GetString("infor.password"),
	})
	if err != nil {
		return nil, err
	}

	mapping := workcenters.Mapping{}
	if path := v.GetString("workcenters.mapping"); path != "" {
		mapping, err = workcenters.LoadMapping(path)
		if err != nil {
			return nil, err
		}
	}
	resolver := workcenters.NewResolver(rt.log.Named("workcenters"), rt.db.WorkCenters(), mapping)
	if err := resolver.Warmup(ctx); err != nil {
		return nil, err
	}

	user := v.GetString("sync.user")
	docs := documents.NewImporter(rt.log.Named("documents"), client, rt.store,
		rt.db.Parts(), rt.db.Files(), rt.db, user)

	return inforsync.NewChore(rt.log.Named("sync"), inforsync.Config{
		Interval:            v.GetDuration("sync.interval"),
		InitialLookbackDays: v.GetInt("sync.initial-lookback-days"),
		User:                user,
	}, inforsync.Deps{
		State:          rt.db.SyncState(),
		Client:         client,
		Tx:             rt.db,
		Parts:          rt.db.Parts(),
		Operations:     rt.db.Operations(),
		MaterialItems:  rt.db.MaterialItems(),
		MaterialInputs: rt.db.MaterialInputs(),
		Production:     rt.db.Production(),
		Alloc:          rt.alloc,
		Resolver:       resolver,
		Documents:      docs,
	}), nil
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := process.Ctx()
	defer cancel()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, rt.close()) }()

	chore, err := rt.newChore(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, chore.Close()) }()

	rt.log.Info("running", zap.String("db", process.Viper().GetString("db.path")))
	if err := chore.Run(ctx); err != nil && !errs.Is(err, context.Canceled) {
		return err
	}
	return nil
}

const defaultConfig = `# gestima configuration
log.level: info
log.development: false

db.path: gestima.db

files.root: uploads
files.temp-expiry: 24h

# infor.base-url: https://erp.example.com/IDORequestService
# infor.config: TEST
# infor.username: sync
# infor.password: secret

sync.interval: 5s
sync.initial-lookback-days: 1
sync.user: sync

# workcenters.mapping: workcenters.yaml
`

func cmdSetup(cmd *cobra.Command, args []string) error {
	path := process.Viper().GetString("config")
	if path == "" {
		path = "gestima.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		return errs.New("configuration %q already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(filepath.Join(".", path)), 0755); err != nil {
		return errs.Wrap(err)
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0644); err != nil {
		return errs.Wrap(err)
	}
	fmt.Println("wrote", path)
	return nil
}

func cmdImportShare(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := process.Ctx()
	defer cancel()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, rt.close()) }()

	v := process.Viper()
	scanner := sharerecovery.NewScanner(rt.log.Named("share"), sharerecovery.Config{
		Root:   v.GetString("share.root"),
		DryRun: v.GetBool("share.dry-run"),
	}, rt.db.Parts(), rt.db.Files(), rt.store, v.GetString("sync.user"))

	report, err := scanner.Scan(ctx)
	if err != nil {
		return err
	}

	for _, action := range report.Actions {
		status := "would store"
		if action.Stored {
			status = "stored"
		}
		fmt.Printf("%-12s %s/%s -> part %d (%s)\n",
			status, action.Folder, action.File, action.PartID, action.Article)
	}
	for _, warning := range report.Warnings {
		fmt.Println("warning:", warning)
	}
	for _, e := range report.Errors {
		fmt.Println("error:", e)
	}
	fmt.Printf("folders %d, matched %d, stored %d, skipped %d\n",
		report.Folders, report.Matched, report.Stored, report.Skipped)
	return nil
}

func cmdSyncTrigger(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := process.Ctx()
	defer cancel()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, rt.close()) }()

	chore, err := rt.newChore(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, chore.Close()) }()

	return chore.TriggerStep(ctx, args[0])
}

func cmdDiag(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := process.Ctx()
	defer cancel()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, rt.close()) }()

	states, err := rt.db.SyncState().All(ctx)
	if err != nil {
		return err
	}

	for _, state := range states {
		last := "never"
		if state.LastSyncAt != nil {
			last = state.LastSyncAt.Format(time.RFC3339)
		}
		fmt.Printf("%-16s enabled=%-5t interval=%-8s last=%-25s status=%s",
			state.Step, state.Enabled, state.Interval, last, state.LastStatus)
		if state.LastError != "" {
			fmt.Printf(" error=%q", state.LastError)
		}
		fmt.Println()

		logs, err := rt.db.SyncState().Logs(ctx, state.Step, 3)
		if err != nil {
			return err
		}
		for _, entry := range logs {
			fmt.Printf("  %s %-5s count=%d %s\n",
				entry.StartedAt.Format(time.RFC3339), entry.Status, entry.Count, entry.Error)
		}
	}
	return nil
}
