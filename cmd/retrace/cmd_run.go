package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"retrace/internal/debugger"
	"retrace/internal/records"
	"retrace/internal/source"
	"retrace/internal/store"
	"retrace/internal/trace"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	noArchive bool
	watchSrc  bool
)

// runCmd traces one call and prints the reconstruction
var runCmd = &cobra.Command{
	Use:   "run module:function [arg...]",
	Short: "Trace one call and print the reconstructed source",
	Long: `Attaches the debugger to the module, spawns module:function(args) and
streams breakpoint stops into a call tree. When the call exits, the
executed clauses are printed with every variable replaced by its
runtime value. Arguments are Erlang terms, one per CLI argument:

  retrace run shop:total '[{apple,3},{pear,1}]'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTrace,
}

func init() {
	runCmd.Flags().BoolVar(&noArchive, "no-archive", false, "do not persist the document")
	runCmd.Flags().BoolVar(&watchSrc, "watch", false, "invalidate cached sources on file change")
}

func splitTarget(s string) (module, function string, err error) {
	i := strings.IndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("target must be module:function, got %q", s)
	}
	return s[:i], s[i+1:], nil
}

func runTrace(cmd *cobra.Command, args []string) error {
	module, function, err := splitTarget(args[0])
	if err != nil {
		return err
	}
	callArgs := args[1:]

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	index := source.NewIndex(cfg.Source.Dirs, source.NewParser())
	recs := records.NewStore(index)

	if watchSrc || cfg.Source.Watch {
		w, err := records.NewWatcher(cfg.Source.Dirs, recs, index)
		if err != nil {
			logger.Warn("source watcher unavailable", zap.Error(err))
		} else {
			if err := w.Start(); err == nil {
				defer w.Stop()
			}
		}
	}

	timeout, err := cfg.DialTimeout()
	if err != nil {
		return err
	}
	backend, err := debugger.Dial(cfg.Debugger.Addr, timeout)
	if err != nil {
		return err
	}
	defer backend.Close()

	session := trace.NewSession(backend, index, recs, cfg.Output.IndentWidth)

	var res *trace.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var runErr error
		res, runErr = session.Run(gctx, module, function, callArgs)
		return runErr
	})
	runErr := g.Wait()

	if res == nil {
		return runErr
	}
	if runErr != nil {
		logger.Warn("trace ended early", zap.String("target", args[0]), zap.Error(runErr))
	}

	fmt.Println(res.Document)

	if !noArchive {
		if err := archiveResult(res); err != nil {
			logger.Warn("archive save failed", zap.Error(err))
		}
	}
	return runErr
}

func archiveResult(res *trace.Result) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return err
	}
	a, err := store.NewArchive(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer a.Close()
	rec := &store.Reconstruction{
		ID:       uuid.NewString(),
		Module:   res.Module,
		Function: res.Function,
		Arity:    res.Arity,
		Status:   res.Status,
		Document: res.Document,
	}
	if err := a.Save(rec); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "archived as %s\n", rec.ID)
	return nil
}
