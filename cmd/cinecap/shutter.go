package main

import (
	"fmt"
	"net"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/abihf/cinecap/protocol"
)

func newShutterCommand(ctx *commandContext) *cobra.Command {
	var statusFlag bool

	cmd := &cobra.Command{
		Use:   "shutter",
		Short: "Ask the running cinecapd to capture a still",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := net.DialTimeout("unix", ctx.socketPath(), 2*time.Second)
			if err != nil {
				return errors.Wrap(err, "Can not reach cinecapd")
			}
			defer conn.Close()

			action := protocol.ActionCapture
			if statusFlag {
				action = protocol.ActionStatus
			}
			if err := protocol.WriteReq(conn, action); err != nil {
				return err
			}
			res, err := protocol.ReadRes(conn)
			if err != nil {
				return err
			}
			if res.Status != protocol.StatusSuccess {
				return errors.New(res.Error)
			}

			if statusFlag {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", res.Extras["state"], res.Extras["device"])
				return nil
			}
			r := protocol.ToCaptureResult(res)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %dx%d %s\n", r.Path, r.Width, r.Height, humanize.Bytes(uint64(r.Bytes)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&statusFlag, "status", false, "Print the session state instead of capturing")
	return cmd
}
