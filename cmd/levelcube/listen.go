package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"levelcube/internal/efb"
	"levelcube/internal/gdl90"
)

func newListenCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "print ForeFlight AHRS reports received over GDL90/UDP",
		Long:  "listen decodes the attitude a levelcube (or any GDL90 AHRS source) broadcasts, for checking the EFB output from another host.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := net.ListenPacket("udp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			err = efb.Listen(ctx, pc, func(a gdl90.Attitude) { printAttitude(out, a) })
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":4000", "UDP address to listen on")
	return cmd
}

func printAttitude(w io.Writer, a gdl90.Attitude) {
	if !a.Valid {
		fmt.Fprintln(w, "attitude invalid")
		return
	}
	hdg := "---"
	if a.HeadingValid {
		hdg = fmt.Sprintf("%05.1f", a.HeadingDeg)
	}
	fmt.Fprintf(w, "roll=%6.1f pitch=%6.1f hdg=%s\n", a.RollDeg, a.PitchDeg, hdg)
}
