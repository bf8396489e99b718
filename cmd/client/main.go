package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Avicted/courier/internal/apiclient"
	"github.com/Avicted/courier/internal/config"
	"github.com/Avicted/courier/internal/logger"
)

type programRunner interface {
	Run() (tea.Model, error)
}

type programFactory func(tea.Model, ...tea.ProgramOption) programRunner

func run(args []string, stdin io.Reader, stdout, stderr io.Writer, newProgram programFactory) error {
	fs := flag.NewFlagSet("courier", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a YAML client config")
	serverAddr := fs.String("server", "", "courier server address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		return err
	}
	if s := strings.TrimSpace(*serverAddr); s != "" {
		cfg.ServerURL = strings.TrimRight(s, "/")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// The terminal belongs to the UI, so logs only go to a file.
	l := logger.Discard()
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		l = logger.New(f, "text", cfg.LogLevel)
	}
	l.Info("client starting", slog.String("server", cfg.ServerURL))

	m := newRootModel(apiclient.New(cfg.ServerURL), cfg, l)

	if newProgram == nil {
		newProgram = func(model tea.Model, options ...tea.ProgramOption) programRunner {
			return tea.NewProgram(model, options...)
		}
	}

	p := newProgram(m, tea.WithAltScreen(), tea.WithInput(stdin), tea.WithOutput(stdout))
	final, err := p.Run()
	if root, ok := final.(rootModel); ok {
		root.sess.close()
	}
	return err
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, nil); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
