// Command proxy runs the LECO data-plane fan-out relay (§4.7): a pure
// pass-through bridge between publishers on the ingress socket and
// subscribers on the egress socket.
package main

import (
	"fmt"
	"os"
	"strings"

	"leco/proxy"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run())
}

func run() int {
	var ingressPort, egressPort int

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run the LECO data-plane fan-out proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := proxy.New(fmt.Sprintf(":%d", ingressPort), fmt.Sprintf(":%d", egressPort))
			fmt.Fprintf(os.Stderr, "proxy: ingress=:%d egress=:%d\n", ingressPort, egressPort)
			return p.Run()
		},
	}

	cmd.Flags().IntVar(&ingressPort, "ingress-port", 11100, "publisher-facing listen port")
	cmd.Flags().IntVar(&egressPort, "egress-port", 11099, "subscriber-facing listen port")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.Contains(err.Error(), "proxy:") && strings.Contains(err.Error(), "bind:") {
			return 1
		}
		return 2
	}
	return 0
}
