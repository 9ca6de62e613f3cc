package main

import (
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/abihf/cinecap/render"
)

func newSnapCommand(ctx *commandContext) *cobra.Command {
	var outFlag string
	var ticksFlag int
	var timeoutFlag time.Duration

	cmd := &cobra.Command{
		Use:   "snap",
		Short: "Capture one graded still without a window",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := ctx.conf()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sched := ctx.tickerScheduler()
			defer sched.Close()

			s, err := ctx.newSession(sessionParts{
				scheduler: sched,
				surface:   render.NewCanvas(0, 0),
				viewport:  render.FixedViewport(image.Pt(conf.PreviewWidth, conf.PreviewHeight)),
				outputDir: outFlag,
			})
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Mount(runCtx); err != nil {
				return err
			}

			// Let auto exposure settle on a few preview ticks before the still.
			deadline := time.After(timeoutFlag)
			poll := time.NewTicker(10 * time.Millisecond)
			defer poll.Stop()
			for {
				loop := s.Loop()
				if loop == nil {
					return errors.New("camera lost before capture")
				}
				if loop.Ticks() >= ticksFlag {
					break
				}
				select {
				case <-runCtx.Done():
					return runCtx.Err()
				case <-deadline:
					return errors.Errorf("camera did not reach %d ticks in %v", ticksFlag, timeoutFlag)
				case <-poll.C:
				}
			}

			art, err := s.Capture()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %dx%d %s %s\n", art.Location, art.Width, art.Height, humanize.Bytes(uint64(len(art.Data))), art.Operation)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outFlag, "out", "o", "", "Directory for the still")
	cmd.Flags().IntVar(&ticksFlag, "ticks", 5, "Preview ticks to run before capturing")
	cmd.Flags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "Give up after this long")
	return cmd
}
