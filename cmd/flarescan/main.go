// Package main provides the flarescan CLI: it extracts commands from
// shell scripts, Dockerfiles, and CI configuration files, runs each
// through the analysis pipeline, and prints the findings. Advisory only;
// the exit code signals whether anything at or above the threshold was
// found.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/noam-bash/flare-saferun/internal/assess"
	"github.com/noam-bash/flare-saferun/internal/config"
	"github.com/noam-bash/flare-saferun/internal/flaretypes"
	"github.com/noam-bash/flare-saferun/internal/logging"
	"github.com/noam-bash/flare-saferun/internal/scanfile"
)

var (
	configPath = flag.String("config", "", "path to TOML config file")
	logLevel   = flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	threshold  = flag.String("fail-on", "high", "lowest risk level that fails the scan (low, medium, high, critical)")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "flarescan: %v\n", err)
		os.Exit(2)
	}
}

func run() error {
	flag.Parse()
	if flag.NArg() == 0 {
		return fmt.Errorf("usage: flarescan [flags] <path>...")
	}

	closeLogs, err := logging.Setup(logging.Options{Level: *logLevel})
	if err != nil {
		return err
	}
	defer func() { _ = closeLogs() }()

	failLevel, err := flaretypes.ParseRiskLevel(*threshold)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	svcCfg, err := cfg.AssessServiceConfig()
	if err != nil {
		return err
	}
	service, err := assess.NewService(svcCfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	flagged := false
	for _, root := range flag.Args() {
		if err := walkAndScan(ctx, service, root, failLevel, &flagged); err != nil {
			return err
		}
	}

	if flagged {
		os.Exit(1)
	}
	return nil
}

func walkAndScan(ctx context.Context, service *assess.Service, root string, failLevel flaretypes.RiskLevel, flagged *bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fmt.Fprintf(os.Stderr, "flarescan: skipping %s: %v\n", path, err)
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}

		commands, err := scanfile.ScanFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "flarescan: skipping %s: %v\n", path, err)
			return nil
		}

		cwd := filepath.Dir(path)
		for _, command := range commands {
			assessment, err := service.Assess(ctx, command.Text, cwd)
			if err != nil {
				continue
			}
			if assessment.RiskLevel == flaretypes.RiskLevelNone {
				continue
			}
			for i := range assessment.Details {
				source := command.Source
				assessment.Details[i].Source = &source
			}
			reportCommand(command, assessment)
			if assessment.RiskLevel >= failLevel {
				*flagged = true
			}
		}
		return nil
	})
}

func reportCommand(command scanfile.Command, assessment flaretypes.RiskAssessment) {
	fmt.Printf("%s:%d: [%s] %s\n",
		command.Source.File, command.Source.Line, assessment.RiskLevel, command.Text)
	for _, finding := range assessment.Details {
		fmt.Printf("    %s/%s: %s\n", finding.Category, finding.Severity, finding.Description)
	}
}
