// Command coordinator runs the registration service for one or more
// distributed-coordination networks: nodes dial in, are assigned a dense
// NodeId, and are handed a directory of their peers so they can form a
// full mesh among themselves.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dreamware/meshframe/internal/coordinator"
)

func main() {
	_ = godotenv.Load()

	log := logrus.StandardLogger()
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}

	root := newRootCmd(log)
	if err := root.Execute(); err != nil {
		log.WithError(err).Error("coordinator exiting with error")
		os.Exit(1)
	}
}

func newRootCmd(log logrus.FieldLogger) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "coordinator [addr]",
		Short: "Run the cluster registration coordinator",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				addr = args[0]
			}
			return run(addr, log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9000", "address the coordinator listens on")
	return cmd
}

func run(addr string, log logrus.FieldLogger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("coordinator: binding %s: %w", addr, err)
	}

	c := coordinator.New(log)

	serveErr := make(chan error, 1)
	go func() { serveErr <- c.Serve(ln) }()

	log.WithField("addr", addr).Info("coordinator listening")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("coordinator received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("coordinator: serve failed: %w", err)
		}
	}

	for _, name := range c.NetworkNames() {
		if err := c.Broadcast(name); err != nil {
			log.WithError(err).WithField("network", name).Warn("coordinator: broadcasting kill failed for some nodes")
		}
	}

	ln.Close()
	log.Info("coordinator stopped")
	return nil
}
