// Command coordinator runs a single LECO Coordinator (§2, §4.6): a message
// router that hosts one namespace and federates with the peers named on
// its command line or added later via the add_nodes admin RPC.
package main

import (
	"fmt"
	"os"
	"strings"

	"leco/coordinator"
	"leco/fullname"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		port          int
		namespace     string
		coordinators  string
		etcdEndpoints string
	)

	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Run a LECO control-plane Coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			if namespace == "" {
				hostname, err := os.Hostname()
				if err != nil {
					return fmt.Errorf("coordinator: resolving default namespace: %w", err)
				}
				namespace = fullname.DefaultNamespace(hostname)
			}
			addr := fmt.Sprintf(":%d", port)
			c := coordinator.New(namespace, fmt.Sprintf("127.0.0.1:%d", port))

			if etcdEndpoints != "" {
				store, err := coordinator.NewEtcdPeerStore(strings.Split(etcdEndpoints, ","), namespace)
				if err != nil {
					return fmt.Errorf("coordinator: etcd store: %w", err)
				}
				c.Store = store
			}

			c.AddPeers(parsePeers(coordinators))

			fmt.Fprintf(os.Stderr, "coordinator: namespace=%s listening on %s\n", namespace, addr)
			if err := c.ListenAndServe("tcp", addr); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 12300, "control-plane listen port")
	cmd.Flags().StringVar(&namespace, "namespace", "", "this Coordinator's namespace (default: hostname with dots replaced by underscores)")
	cmd.Flags().StringVar(&coordinators, "coordinators", "", "comma-separated ns=host:port peer list to seed")
	cmd.Flags().StringVar(&etcdEndpoints, "etcd-endpoints", "", "comma-separated etcd endpoints for peer-table persistence")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.Contains(err.Error(), "coordinator: bind:") {
			return 1
		}
		return 2
	}
	return 0
}

// parsePeers parses the --coordinators flag's "ns=host:port,..." shape.
func parsePeers(spec string) map[string]string {
	out := make(map[string]string)
	if spec == "" {
		return out
	}
	for _, entry := range strings.Split(spec, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}
