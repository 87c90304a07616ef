package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"neuromate-client/internal/config"
	"neuromate-client/internal/logger"
	"neuromate-client/internal/scoring"
	"neuromate-client/internal/screening"
	"neuromate-client/internal/store"
	"neuromate-client/internal/tui"
)

// scope is the one profile the terminal keeps in its store file.
const scope = "terminal"

func main() {
	cfg := config.Load()

	log := logger.Nop()
	if cfg.LogFile != "" {
		l, err := logger.NewFile(cfg.LogMode, cfg.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		log = l
	}
	defer log.Sync()

	script, err := screening.ResolveScript(cfg.ScriptPath, cfg.NoPacing)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load script: %v\n", err)
		os.Exit(1)
	}

	deps := screening.Deps{
		Scorer: scoring.NewClient(scoring.Options{
			BaseURL: cfg.ScoringURL,
			Token:   cfg.ScoringToken,
			Timeout: cfg.ScoringTimeout,
		}, log),
		Script: script,
		Log:    log,
	}
	sess := screening.NewSessionContext(store.NewFileStore(cfg.StoreFile), scope)

	outDir, err := os.Getwd()
	if err != nil {
		outDir = "."
	}
	m := tui.New(context.Background(), deps, sess, outDir)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "neuromate: %v\n", err)
		os.Exit(1)
	}
}
