// Command node joins a distributed-coordination network: it bootstraps a
// full mesh with its peers through the coordinator, then serves the
// key-value store and blob channel until the coordinator broadcasts Kill.
//
// Positional arguments: my_addr coordinator_addr network_name num_nodes.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dreamware/meshframe/internal/app"
	"github.com/dreamware/meshframe/internal/cluster"
	"github.com/dreamware/meshframe/internal/wire"
)

func main() {
	_ = godotenv.Load()

	log := logrus.StandardLogger()
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}

	root := newRootCmd(log)
	if err := root.Execute(); err != nil {
		log.WithError(err).Error("node exiting with error")
		os.Exit(1)
	}
}

func newRootCmd(log logrus.FieldLogger) *cobra.Command {
	var demo bool

	cmd := &cobra.Command{
		Use:   "node <my_addr> <coordinator_addr> <network_name> <num_nodes>",
		Short: "Join a distributed-coordination network",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[3])
			if err != nil {
				return fmt.Errorf("node: invalid num_nodes %q: %w", args[3], err)
			}
			return run(args[0], args[1], args[2], n, demo, log)
		},
	}
	cmd.Flags().BoolVar(&demo, "demo", false, "run the three-node sum check demo once the mesh forms")
	return cmd
}

func run(myAddr, coordAddr, network string, numNodes int, demo bool, log logrus.FieldLogger) error {
	h, err := app.Bootstrap(cluster.Address(myAddr), cluster.Address(coordAddr), cluster.NetworkName(network), numNodes, log)
	if err != nil {
		return err
	}
	defer h.Close()

	log.WithField("node_id", h.NodeID()).Info("node bootstrapped")

	task := func(*app.Handle) error { return nil }
	if demo {
		task = sumCheckDemo(log)
	}

	if err := h.Run(task); err != nil {
		return err
	}
	log.WithField("node_id", h.NodeID()).Info("node terminated cleanly")
	return nil
}

// sumCheckDemo is a three-node sum-check walkthrough: node 1 produces a
// column of [0, 100000) and its precomputed checksum, node 2 folds the
// column and publishes its own checksum, node 3 compares the two. Nodes
// beyond 3 are no-ops, matching a network sized larger than the demo
// needs.
func sumCheckDemo(log logrus.FieldLogger) func(*app.Handle) error {
	const n = 100000
	return func(h *app.Handle) error {
		switch h.NodeID() {
		case 1:
			col := make([]uint64, n)
			var sum uint64
			for i := range col {
				col[i] = uint64(i)
				sum += uint64(i)
			}
			mainKey := cluster.Key{Name: "main", Home: 1}
			ckKey := cluster.Key{Name: "ck", Home: 1}
			if err := h.Store.Put(mainKey, wire.EncodeUint64Slice(col)); err != nil {
				return err
			}
			if err := h.Store.Put(ckKey, wire.EncodeUint64(sum)); err != nil {
				return err
			}
		case 2:
			mainKey := cluster.Key{Name: "main", Home: 1}
			raw, err := h.Store.WaitAndGet(mainKey)
			if err != nil {
				return err
			}
			col := wire.DecodeUint64Slice(raw)
			var sum uint64
			for _, v := range col {
				sum += v
			}
			verifKey := cluster.Key{Name: "verif", Home: 1}
			if err := h.Store.Put(verifKey, wire.EncodeUint64(sum)); err != nil {
				return err
			}
		case 3:
			ckKey := cluster.Key{Name: "ck", Home: 1}
			verifKey := cluster.Key{Name: "verif", Home: 1}
			ckRaw, err := h.Store.WaitAndGet(ckKey)
			if err != nil {
				return err
			}
			verifRaw, err := h.Store.WaitAndGet(verifKey)
			if err != nil {
				return err
			}
			ck := wire.DecodeUint64(ckRaw)
			verif := wire.DecodeUint64(verifRaw)
			if ck != verif {
				return fmt.Errorf("node: sum check mismatch: expected %d, got %d", ck, verif)
			}
			log.WithField("sum", ck).Info("sum check demo passed")
		}
		return nil
	}
}
