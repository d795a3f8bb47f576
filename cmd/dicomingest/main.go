package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/dicomingest/internal/config"
	"github.com/mantonx/dicomingest/internal/database"
	ingesterrors "github.com/mantonx/dicomingest/internal/errors"
	"github.com/mantonx/dicomingest/internal/logger"
	"github.com/mantonx/dicomingest/internal/modules/databasemodule"
	"github.com/mantonx/dicomingest/internal/modules/extractionmodule"
	"github.com/mantonx/dicomingest/internal/modules/modulemanager"
	"github.com/mantonx/dicomingest/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cmdRoot := &cobra.Command{
		Use:   "dicomingest",
		Short: "DICOM metadata extraction",
		Long:  `Walk a cohort of DICOM files and load their metadata into a relational store`,
	}
	cmdRoot.PersistentFlags().StringP("config", "c", os.Getenv("DICOMINGEST_CONFIG_PATH"), "load configuration from file")

	cmdRoot.AddCommand(cmdExtract())
	cmdRoot.AddCommand(cmdValidate())
	cmdRoot.AddCommand(cmdVersion())

	if err := cmdRoot.Execute(); err != nil {
		os.Exit(1)
	}
}

func cmdExtract() *cobra.Command {
	var listen, resumeJob string
	var completedSubjects int
	var watch bool
	var cmd = &cobra.Command{
		Use:          "extract",
		Short:        "run one extraction job",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if listen != "" {
				cfg.Server.Listen = listen
			}
			if resumeJob != "" {
				cfg.Extraction.Resume = &config.ResumeInstance{JobID: resumeJob, CompletedSubjects: completedSubjects}
			}
			if watch && configPath == "" {
				return fmt.Errorf("--watch requires --config")
			}

			log := logger.New(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runExtract(ctx, cfg, configPath, watch, log)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "serve job status and controls on this address")
	cmd.Flags().StringVar(&resumeJob, "resume-job", "", "continue the interrupted job with this id")
	cmd.Flags().IntVar(&completedSubjects, "completed-subjects", 0, "subjects finished by the interrupted job")
	cmd.Flags().BoolVar(&watch, "watch", false, "apply adaptive batching changes from the config file while paused")
	return cmd
}

func runExtract(ctx context.Context, cfg *config.Config, configPath string, watch bool, log hclog.Logger) error {
	db, err := database.Open(cfg.Database, cfg.Extraction.DBWriterPoolSize, log)
	if err != nil {
		return err
	}

	registry := modulemanager.NewRegistry(log)
	registry.Register(databasemodule.NewModule(db, log))
	extraction := extractionmodule.NewModule(db, cfg, log)
	registry.Register(extraction)

	if err := registry.LoadAll(db); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := registry.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown failed", "error", err)
		}
	}()

	job, err := extraction.StartJob(ctx, cfg.Extraction)
	if err != nil {
		return err
	}

	// side services stop once the job is done
	svcCtx, cancelSvc := context.WithCancel(ctx)
	defer cancelSvc()
	g, svcCtx := errgroup.WithContext(svcCtx)

	if cfg.Server.Listen != "" {
		srv := server.New(cfg.Server, registry, log)
		g.Go(func() error { return srv.Run(svcCtx) })
	}

	if watch {
		w, err := config.NewWatcher(configPath, log, func(next *config.Config) error {
			return applyReload(extraction, job, next, log)
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			w.Run(svcCtx)
			return nil
		})
	}

	result, runErr := job.Wait(context.Background())
	cancelSvc()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("service stopped", "error", err)
	}

	if result != nil {
		log.Info("extraction finished",
			"job", result.JobID,
			"status", result.Status,
			"subjects", result.SubjectsCompleted,
			"instances", result.Metrics.Instances,
			"skipped", result.Metrics.FilesSkipped,
			"failed_files", result.Metrics.FilesFailed,
			"duration", result.Duration)
	}
	return runErr
}

// applyReload pushes adaptive settings from a reloaded config into a paused
// job. Other fields are fixed for the life of a job.
func applyReload(m *extractionmodule.Module, job *extractionmodule.Job, next *config.Config, log hclog.Logger) error {
	err := m.UpdateAdaptive(job.ID, next.Extraction.Adaptive())
	if ingesterrors.HasCode(err, ingesterrors.CodeConflict) {
		log.Info("config changed; adaptive settings apply the next time the job is paused", "job", job.ID)
		return nil
	}
	if err != nil {
		return err
	}
	log.Info("adaptive settings applied", "job", job.ID)
	return nil
}

func cmdValidate() *cobra.Command {
	var cmd = &cobra.Command{
		Use:          "validate",
		Short:        "check a configuration without running anything",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: cohort %q, root %q, database %s\n",
				cfg.Extraction.CohortID, cfg.Extraction.RawRoot, cfg.Database.Type)
			return nil
		},
	}
	return cmd
}

func cmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dicomingest %s\n", version)
		},
	}
}
