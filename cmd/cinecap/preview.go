package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/abihf/cinecap"
	"github.com/abihf/cinecap/display"
	"github.com/abihf/cinecap/logging"
)

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	var outFlag string

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the graded live preview; space captures, q quits",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := ctx.conf()
			logger := ctx.log()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			runCtx, cancel := context.WithCancel(runCtx)
			defer cancel()

			win := display.NewWindow("cinecap", conf.PreviewWidth, conf.PreviewHeight, logging.Component(logger, "display"))
			defer win.Close()

			s, err := ctx.newSession(sessionParts{
				scheduler: win,
				surface:   win,
				viewport:  win.Viewport(),
				outputDir: outFlag,
			})
			if err != nil {
				return err
			}
			defer s.Close()

			s.Subscribe(func(ev cinecap.Event) {
				if ev.Kind == cinecap.EventDeviceLost {
					cancel()
				}
			})

			win.OnKey(display.KeySpace, func() {
				art, err := s.Capture()
				if err != nil {
					logger.Warn("Capture failed", "error", err)
					return
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%dx%d, %s)\n", art.Location, art.Width, art.Height, humanize.Bytes(uint64(len(art.Data))))
			})

			if err := s.Mount(runCtx); err != nil {
				return err
			}
			win.SetTitle("cinecap - " + s.Source().Device())
			return win.Run(runCtx, conf.FPS)
		},
	}
	cmd.Flags().StringVarP(&outFlag, "out", "o", "", "Directory for captured stills")
	return cmd
}
