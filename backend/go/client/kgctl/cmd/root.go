package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"LegisGraph/backend/go/internal/config"
	"LegisGraph/backend/go/internal/kgclient"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

type options struct {
	server  string
	timeout time.Duration
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "kgctl",
		Short: "A CLI client for the legislative knowledge graph service",
		Long: `kgctl submits candidate facts to the knowledge graph service, reads entities
as of any point in time, runs semantic searches and triggers administrative jobs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	server := os.Getenv("KG_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "base URL of the knowledge graph service (env KG_SERVER)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		newSubmitCmd(opts),
		newReceiptCmd(opts),
		newEntityCmd(opts),
		newSearchCmd(opts),
		newAdminCmd(opts),
		newStatsCmd(opts),
		newHealthCmd(opts),
		newDisambiguationsCmd(opts),
	)
	return root
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func (o *options) client() (*kgclient.Client, error) {
	return kgclient.New(o.server, config.CircuitBreakerConfig{}, o.timeout)
}

// printJSON pretty prints a raw JSON document.
func printJSON(w io.Writer, raw []byte) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		_, werr := fmt.Fprintln(w, string(raw))
		return werr
	}
	_, err := fmt.Fprintln(w, pretty.String())
	return err
}
