// Daemon command runs the full engine: connectivity probing, bidirectional
// sync, the change feed, queue drains, and the capture spool watcher.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arborsense/leafvault/internal/logging"
	"github.com/arborsense/leafvault/internal/remote"
	"github.com/arborsense/leafvault/internal/spool"
	"github.com/arborsense/leafvault/pkg/types"
)

var daemonForeground bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync engine until interrupted",
	Long: `Daemon keeps the device synchronized: it probes connectivity, pulls
and pushes changes, listens on the server's change feed, drains the pending
queue on reconnect, and ingests captures dropped into the capture directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			fmt.Fprintln(os.Stderr, "daemon:", err)
			os.Exit(exitSysError)
		}
		defer s.Close()

		logger, logCloser := logging.NewRotating(s.cfg.LogFile, "daemon")
		defer logCloser.Close()
		if daemonForeground {
			logger = logging.Tee(logCloser, "daemon")
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Reconnect handling: every offline-to-online transition drains the
		// queue and kicks a sync pass.
		transitions, cancelSub := s.monitor.Subscribe()
		defer cancelSub()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case online := <-transitions:
					if !online {
						continue
					}
					logger.Printf("connectivity restored, draining queue")
					s.ready.Set("pending", true)
					s.queue.Drain(ctx)
					s.ready.Set("pending", false)
					s.engine.Kick()
				}
			}
		}()

		// The change feed nudges the engine when the server has news and
		// doubles as a connectivity signal.
		feed := remote.NewChangeFeed(s.cfg.RemoteURL, s.cfg.BackoffMin, s.cfg.BackoffMax, logger)
		feed.SetOnState(s.monitor.SetOnline)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-feed.Nudges():
					s.engine.Kick()
				}
			}
		}()

		watcher := spool.NewWatcher(s.cfg.CaptureDir, s.cfg.UserID, func(ctx context.Context, req *types.ScanRequest) error {
			_, _, err := s.scans.Submit(ctx, req)
			return err
		}, logger)

		s.monitor.Start(ctx)
		defer s.monitor.Stop()
		feed.Start(ctx)
		defer feed.Stop()
		s.engine.Start(ctx)
		defer s.engine.Stop()
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start capture watcher: %w", err)
		}
		defer watcher.Stop()

		logger.Printf("daemon up: data=%s remote=%s captures=%s",
			s.cfg.DataDir, s.cfg.RemoteURL, s.cfg.CaptureDir)
		fmt.Println("leafvault daemon running (ctrl-c to stop)")

		<-ctx.Done()
		logger.Printf("shutting down")
		return nil
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonForeground, "foreground", false, "also log to stderr")
}
