package cmd

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"LegisGraph/backend/go/internal/models"

	"github.com/spf13/cobra"
)

func newEntityCmd(opts *options) *cobra.Command {
	entityCmd := &cobra.Command{
		Use:   "entity",
		Short: "Read entities from the knowledge graph",
	}

	getCmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Show the current facts of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, opts, entityPath(args[0], ""), nil)
		},
	}

	var knownAt string
	asOfCmd := &cobra.Command{
		Use:   "asof [id] [time]",
		Short: "Show what was true about an entity at a point in time (RFC 3339 or YYYY-MM-DD)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := requireTime(args[1])
			if err != nil {
				return err
			}
			params := url.Values{"t": {at}}
			if knownAt != "" {
				k, err := requireTime(knownAt)
				if err != nil {
					return err
				}
				params.Set("knownAt", k)
			}
			return getAndPrint(cmd, opts, entityPath(args[0], "/asof"), params)
		},
	}
	asOfCmd.Flags().StringVar(&knownAt, "known-at", "", "ignore facts recorded after this time")

	var slot string
	historyCmd := &cobra.Command{
		Use:   "history [id]",
		Short: "List every recorded fact of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if slot != "" {
				params.Set("slot", slot)
			}
			return getAndPrint(cmd, opts, entityPath(args[0], "/history"), params)
		},
	}
	historyCmd.Flags().StringVar(&slot, "slot", "", "restrict to one slot, e.g. party")

	var limit int
	neighborhoodCmd := &cobra.Command{
		Use:   "neighborhood [id]",
		Short: "Show an entity and its neighbours in the graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			return getAndPrint(cmd, opts, entityPath(args[0], "/neighborhood"), params)
		},
	}
	neighborhoodCmd.Flags().IntVar(&limit, "limit", 0, "maximum number of neighbours (server default 25)")

	var (
		entityType  string
		searchLimit int
	)
	searchCmd := &cobra.Command{
		Use:   "search [name]",
		Short: "Find entities by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{"q": {args[0]}, "limit": {strconv.Itoa(searchLimit)}}
			if entityType != "" {
				t, err := models.ParseEntityType(entityType)
				if err != nil {
					return err
				}
				params.Set("type", string(t))
			}
			return getAndPrint(cmd, opts, "/api/v1/entities/search", params)
		},
	}
	searchCmd.Flags().StringVar(&entityType, "type", "", "restrict to one entity type")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum number of matches")

	typesCmd := &cobra.Command{
		Use:   "types",
		Short: "Count entities per type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, opts, "/api/v1/entities/types", nil)
		},
	}

	entityCmd.AddCommand(getCmd, asOfCmd, historyCmd, neighborhoodCmd, searchCmd, typesCmd)
	return entityCmd
}

func entityPath(id, suffix string) string {
	return "/api/v1/entities/" + url.PathEscape(id) + suffix
}

func requireTime(raw string) (string, error) {
	t, err := models.ParseTime(raw)
	if err != nil || t == nil {
		return "", fmt.Errorf("%q is not an RFC 3339 time or YYYY-MM-DD date", raw)
	}
	return t.UTC().Format(time.RFC3339Nano), nil
}
