package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kinber/kinber/internal/chat"
	"github.com/kinber/kinber/internal/logging"
	"github.com/kinber/kinber/internal/share"
	"github.com/kinber/kinber/internal/web"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		upload     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local web front end",
		Long:  "Serves the Kinber chat API and event stream on localhost until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, upload)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config)")
	cmd.Flags().BoolVar(&upload, "upload", false, "store attachments in object storage")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, upload bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := loadApp(ctx, configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Web.Port
	}

	targets, err := share.Targets(a.cfg.Share)
	if err != nil {
		return err
	}
	feed, closeFeed, err := a.feed(ctx)
	if err != nil {
		return err
	}
	defer closeFeed()

	staged := a.pipeline(nil)
	defer staged.Close()

	srv, err := web.New(web.Options{
		Port:     port,
		Out:      cmd.OutOrStdout(),
		Sessions: a.identity,
		Threads:  a.threads,
		NewComposer: func() *chat.Composer {
			return a.composer(ctx, "", nil, nil)
		},
		Attachments: staged,
		Upload:      upload,
		Agents:      a.agents,
		Share:       targets,
		AppURL:      a.cfg.AppURL,
		Feed:        feed,
		Cache:       a.cache,
		CacheTTL:    a.cfg.Cache.TTL,
	})
	if err != nil {
		return err
	}

	go func() {
		if err := a.identity.RunRefresher(ctx, a.cfg.Identity.RefreshSchedule); err != nil {
			log := logging.For("kinber")
			log.Warn().Err(err).Msg("session refresher not started")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return srv.Start(ctx)
}
