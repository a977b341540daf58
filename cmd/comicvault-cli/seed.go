package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vrsandeep/comicvault/internal/core"
	"github.com/vrsandeep/comicvault/internal/seed"
)

type seedOptions struct {
	patterns    []string
	dir         string
	noDownload  bool
	concurrency int
	strict      bool
}

func newSeedCmd(g *globalFlags) *cobra.Command {
	o := &seedOptions{}
	cmd := &cobra.Command{
		Use:       "seed [all|users|comics|chapters]...",
		Short:     "Load fixture files into the database",
		Long:      "Load users, comics and chapters from JSON fixture files. Entities always run in dependency order.",
		ValidArgs: []string{"all", "users", "comics", "chapters"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, g, o, args)
		},
	}
	f := cmd.Flags()
	f.StringSliceVarP(&o.patterns, "pattern", "p", nil, "glob for the fixture files; needs exactly one entity")
	f.StringVar(&o.dir, "dir", "", "directory relative patterns resolve against")
	f.BoolVar(&o.noDownload, "no-download", false, "skip remote media and use placeholder images")
	f.IntVar(&o.concurrency, "concurrency", 0, "max concurrent media downloads")
	f.BoolVar(&o.strict, "strict", false, "exit non-zero when any record or file failed")
	return cmd
}

func runSeed(cmd *cobra.Command, g *globalFlags, o *seedOptions, args []string) error {
	entities, err := seed.ParseEntities(args)
	if err != nil {
		return err
	}
	var override seed.Patterns
	if len(o.patterns) > 0 {
		if len(entities) != 1 {
			return errors.New("--pattern needs exactly one entity")
		}
		switch entities[0] {
		case seed.EntityUsers:
			override.Users = o.patterns
		case seed.EntityComics:
			override.Comics = o.patterns
		case seed.EntityChapters:
			override.Chapters = o.patterns
		}
	}

	cfg, log, err := loadConfig(g)
	if err != nil {
		return err
	}
	defer log.Sync()
	if o.dir != "" {
		cfg.Seed.Dir = o.dir
	}
	if o.noDownload {
		cfg.Download.Enabled = false
	}
	if o.concurrency > 0 {
		cfg.Download.Concurrency = o.concurrency
	}

	app, err := core.NewWithConfig(cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := app.Seeder.Run(ctx, entities, override.Merge(app.SeedPatterns()))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}

	failed := 0
	for _, er := range report.Entities {
		failed += er.Invalid + er.Stats.Errors + len(er.FileErrors)
		log.Info("seeded entity",
			zap.String("entity", string(er.Entity)),
			zap.Int("created", er.Stats.Created),
			zap.Int("updated", er.Stats.Updated),
			zap.Int("skipped", er.Stats.Skipped),
			zap.Int("errors", er.Stats.Errors),
			zap.Int("invalid", er.Invalid),
		)
	}
	if o.strict && failed > 0 {
		return &exitError{code: 2, msg: fmt.Sprintf("%d records or files failed", failed)}
	}
	return nil
}
