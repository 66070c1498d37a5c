package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/beanserver/internal/config"
	"github.com/zjrosen/beanserver/internal/flags"
	"github.com/zjrosen/beanserver/internal/log"
	"github.com/zjrosen/beanserver/internal/platform"
	"github.com/zjrosen/beanserver/internal/server"
	"github.com/zjrosen/beanserver/internal/tracing"
)

// session is one command's in-process server plus the logging and tracing
// set up around it.
type session struct {
	server   *server.Server
	provider *tracing.Provider
	cleanups []func()
}

// openSession builds a server from the loaded configuration and registers
// the platform objects in it.
func openSession(cmd *cobra.Command) (*session, error) {
	ctx := cmd.Context()
	s := &session{}

	if err := s.initLogging(ctx, cmd.ErrOrStderr()); err != nil {
		return nil, err
	}

	tracingCfg := cfg.Tracing
	if tracingCfg.Exporter == tracing.ExporterFile && tracingCfg.FilePath == "" {
		tracingCfg.FilePath = config.DefaultTracesFilePath()
	}
	provider, err := tracing.NewProvider(tracingCfg)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("creating tracer: %w", err)
	}
	s.provider = provider

	fr := flags.New(cfg.Flags)
	if unknown := fr.Unknown(); len(unknown) > 0 {
		log.Warn(log.CatConfig, "Ignoring unknown feature flags", "flags", strings.Join(unknown, ","))
	}
	srv, err := server.New(
		server.WithDefaultDomain(cfg.DefaultDomain),
		server.WithCacheConfig(cfg.Cache.Lifetimes()),
		server.WithInvokeGetters(fr.Resolve(flags.FlagInvokeGetters, cfg.Dispatch.InvokeGetters)),
		server.WithMergeDuplicateAccessors(fr.Resolve(flags.FlagMergeDuplicateAccessors, cfg.Introspect.MergeDuplicateAccessors)),
		server.WithTracer(provider.Tracer()),
		server.WithVersion(version),
	)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("starting server: %w", err)
	}
	s.server = srv

	if err := platform.Register(ctx, srv); err != nil {
		s.close()
		return nil, err
	}
	log.Debug(log.CatCLI, "Session ready", "server", srv.ID(), "objects", srv.Count())
	return s, nil
}

func (s *session) initLogging(ctx context.Context, stderr io.Writer) error {
	level := log.ParseLevel(cfg.Log.Level)
	if verbose {
		level = log.LevelDebug
	}

	switch {
	case cfg.Log.Path != "":
		cleanup, err := log.Init(cfg.Log.Path, level)
		if err != nil {
			return err
		}
		s.cleanups = append(s.cleanups, cleanup)
		if verbose {
			s.cleanups = append(s.cleanups, tail(ctx, stderr))
		}
	case verbose:
		s.cleanups = append(s.cleanups, log.InitWriter(stderr, level))
	}
	return nil
}

// tail copies published log lines to w until the returned stop func is
// called.
func tail(ctx context.Context, w io.Writer) func() {
	ctx, cancel := context.WithCancel(ctx)
	events := log.Subscribe(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			_, _ = io.WriteString(w, ev.Payload)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (s *session) close() {
	if s.server != nil {
		s.server.Close()
	}
	if s.provider != nil {
		if err := s.provider.Shutdown(context.Background()); err != nil {
			log.ErrorErr(log.CatCLI, "Tracer shutdown failed", err)
		}
	}
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
}

// withSession runs fn against a fresh session and closes it afterwards.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, srv *server.Server) error) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(cmd.Context(), s.server)
}
