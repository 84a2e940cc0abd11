package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/centrifuge/internal/link"
)

func newSendCmd() *cobra.Command {
	var (
		port   string
		baud   int
		follow time.Duration
		list   bool
	)
	cmd := &cobra.Command{
		Use:   "send [command]",
		Short: "Send one command to a controller over serial and follow its status",
		Long: `send writes a single command line such as "1500", "1500,60" or ` +
			`"1500 rpm for 2 minutes" and prints the status lines that come back ` +
			`until the run completes or --follow elapses.`,
		Example: "  centrifuge send --port /dev/ttyACM0 3000 rpm for 30 seconds\n" +
			"  centrifuge send --port /dev/ttyACM0 stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				ports, err := link.Ports()
				if err != nil {
					return err
				}
				for _, p := range ports {
					fmt.Fprintln(out, p)
				}
				return nil
			}
			if len(args) == 0 {
				return errors.New("send: no command given")
			}
			c, err := link.Decode(strings.Join(args, " "))
			if err != nil {
				return err
			}
			if port == "" {
				return errors.New("send: --port is required")
			}

			p, err := link.Open(port, baud)
			if err != nil {
				return err
			}
			return sendAndFollow(cmd.Context(), p, link.Encode(c), follow, out)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Serial device of the controller")
	cmd.Flags().IntVarP(&baud, "baud", "b", link.DefaultBaudRate, "Baud rate")
	cmd.Flags().DurationVarP(&follow, "follow", "f", 10*time.Second, "How long to print status lines (0 to exit after the ACK)")
	cmd.Flags().BoolVar(&list, "list", false, "List serial ports and exit")
	return cmd
}

// sendAndFollow writes line and copies replies to out until DONE, the ACK
// when follow is 0, or the follow window ends. It always closes p.
func sendAndFollow(ctx context.Context, p *link.Port, line string, follow time.Duration, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	wait := follow
	if wait <= 0 {
		wait = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	// Closing the port is the only way to unblock the reader.
	go func() {
		<-ctx.Done()
		p.Close()
	}()

	if err := p.WriteLine(line); err != nil {
		return err
	}

	err := p.ReadLines(ctx, func(l string) {
		fmt.Fprintln(out, l)
		if l == link.DoneLine {
			cancel()
			return
		}
		if _, ok := link.ParseAck(l); ok && follow <= 0 {
			cancel()
		}
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
