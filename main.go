package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"

	"github.com/joao-paulo-santos/ipfex/config"
	"github.com/joao-paulo-santos/ipfex/extractor"
	"github.com/joao-paulo-santos/ipfex/manifest"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Println("ERROR: ", err)
		os.Exit(1)
	}

	if cfg.CLI.Debug {
		logrus.Info("debug mode enabled")
		logrus.SetLevel(logrus.DebugLevel)
	} else if lvl := cfg.TOML.Config.LogLevel; lvl != "" {
		parsed, err := logrus.ParseLevel(lvl)
		if err != nil {
			fmt.Println("ERROR: ", err)
			os.Exit(1)
		}
		logrus.SetLevel(parsed)
	}

	if !cfg.CLI.Quiet {
		displayConfig(cfg)
	}

	if err := config.Validate(cfg); err != nil {
		logrus.Errorf("invalid configuration: %s", err)
		os.Exit(1)
	}

	// Context used for facilitating shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Detect ctrl-c and kill signals for graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, os.Kill)

	go func() {
		sig := <-c
		logrus.Debugf("Received system call: %+v", sig)
		logrus.Debug("Telling extractor to stop...")
		cancel()
	}()

	report, err := extractor.Extract(ctx, cfg.CLI.Archive, cfg.CLI.OutputDir, extractor.Options{
		Workers:          cfg.Workers(),
		Verbose:          cfg.CLI.Verbose,
		ProgressInterval: cfg.ProgressInterval(),
	})
	if err != nil {
		logrus.Errorf("error during extractor run: %s", err)
		os.Exit(1)
	}

	if cfg.CLI.WriteManifest != "" {
		m, err := manifest.Generate(cfg.CLI.OutputDir, cfg.CLI.Archive, cfg.Workers())
		if err != nil {
			logrus.Errorf("unable to generate manifest: %s", err)
			os.Exit(1)
		}

		if err := m.Save(cfg.CLI.WriteManifest); err != nil {
			logrus.Errorf("unable to save manifest: %s", err)
			os.Exit(1)
		}

		logrus.Infof("wrote manifest for %d files to %s", len(m.Files), cfg.CLI.WriteManifest)
	}

	if cfg.CLI.CheckManifest != "" {
		m, err := manifest.Load(cfg.CLI.CheckManifest)
		if err != nil {
			logrus.Errorf("unable to load manifest: %s", err)
			os.Exit(1)
		}

		diff, err := manifest.Verify(m, cfg.CLI.OutputDir, cfg.Workers())
		if err != nil {
			logrus.Errorf("unable to verify against manifest: %s", err)
			os.Exit(1)
		}

		if !diff.Empty() {
			logrus.Errorf("manifest check failed: %d missing, %d extra, %d mismatched",
				len(diff.Missing), len(diff.Extra), len(diff.Mismatched))

			for _, name := range diff.Missing {
				logrus.Debugf("missing: %s", name)
			}
			for _, name := range diff.Extra {
				logrus.Debugf("extra: %s", name)
			}
			for _, name := range diff.Mismatched {
				logrus.Debugf("mismatched: %s", name)
			}

			os.Exit(1)
		}

		logrus.Infof("manifest check passed: %d files", len(m.Files))
	}

	if report.FailedEntries > 0 {
		os.Exit(1)
	}
}

func displayConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}

	logrus.Info("ipfex settings:")
	logrus.Info("  [CLI]")
	logrus.Infof("  version: %s", config.VERSION)
	logrus.Infof("  archive: %s", cfg.CLI.Archive)
	logrus.Infof("  output dir: %s", cfg.CLI.OutputDir)
	logrus.Infof("  workers: %d", cfg.Workers())
	logrus.Infof("  verbose: %v", cfg.CLI.Verbose)
	logrus.Infof("  debug: %v", cfg.CLI.Debug)
	logrus.Infof("  quiet: %v", cfg.CLI.Quiet)
	logrus.Infof("  config file: %s", cfg.CLI.ConfigFile)
	logrus.Infof("  write manifest: %s", cfg.CLI.WriteManifest)
	logrus.Infof("  check manifest: %s", cfg.CLI.CheckManifest)
	logrus.Info("")
	logrus.Info("  [CONFIG]")
	logrus.Infof("  config.log_level: %s", cfg.TOML.Config.LogLevel)
	logrus.Infof("  config.num_workers: %d", cfg.TOML.Config.NumWorkers)
	logrus.Infof("  config.progress_interval: %s", cfg.ProgressInterval())
}
