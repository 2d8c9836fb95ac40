package cmd

import (
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func newAdminCmd(opts *options) *cobra.Command {
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative jobs",
	}

	var (
		projection string
		from       int64
	)
	rebuildCmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Replay the ledger into one projection, or all of them, from a cursor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAndPrint(cmd, opts, "/api/v1/admin/rebuild", map[string]interface{}{
				"projection": projection,
				"fromCursor": from,
			})
		},
	}
	rebuildCmd.Flags().StringVar(&projection, "projection", "", "graph or vector; empty rebuilds every projection")
	rebuildCmd.Flags().Int64Var(&from, "from", 0, "ledger offset to replay from; 0 clears the projection first")

	var source string
	mergeCmd := &cobra.Command{
		Use:   "merge [winner] [loser]",
		Short: "Fold the loser entity into the winner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAndPrint(cmd, opts, "/api/v1/admin/merge", map[string]string{
				"winner":   args[0],
				"loser":    args[1],
				"sourceId": source,
			})
		},
	}
	mergeCmd.Flags().StringVar(&source, "source", "", "source id recorded on the merge facts")

	unmergeCmd := &cobra.Command{
		Use:   "unmerge [winner] [loser]",
		Short: "Revert a merge and give the loser its identity keys back",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAndPrint(cmd, opts, "/api/v1/admin/unmerge", map[string]string{
				"winner":   args[0],
				"loser":    args[1],
				"sourceId": source,
			})
		},
	}
	unmergeCmd.Flags().StringVar(&source, "source", "", "source id recorded on the retractions")

	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Export new ledger facts to object storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAndPrint(cmd, opts, "/api/v1/admin/archive", nil)
		},
	}

	adminCmd.AddCommand(rebuildCmd, mergeCmd, unmergeCmd, archiveCmd)
	return adminCmd
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show entity, fact, vector and projection statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, opts, "/api/v1/stats", nil)
		},
	}
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the service and its backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, opts, "/health", nil)
		},
	}
}

func newDisambiguationsCmd(opts *options) *cobra.Command {
	var (
		status string
		limit  int
	)
	c := &cobra.Command{
		Use:   "disambiguations",
		Short: "List entities that need a human decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{"status": {status}, "limit": {strconv.Itoa(limit)}}
			return getAndPrint(cmd, opts, "/api/v1/disambiguations", params)
		},
	}
	c.Flags().StringVar(&status, "status", "open", "open or resolved")
	c.Flags().IntVar(&limit, "limit", 50, "maximum number of requests")
	return c
}
