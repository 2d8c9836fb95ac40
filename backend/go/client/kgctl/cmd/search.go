package cmd

import (
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func newSearchCmd(opts *options) *cobra.Command {
	var (
		k          int
		types      []string
		attributes []string
		asOf       string
	)
	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Semantic search over bill summaries, posts and other text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{"q": {args[0]}}
			if k > 0 {
				params.Set("k", strconv.Itoa(k))
			}
			for _, t := range types {
				params.Add("type", t)
			}
			for _, a := range attributes {
				params.Add("attribute", a)
			}
			if asOf != "" {
				at, err := requireTime(asOf)
				if err != nil {
					return err
				}
				params.Set("asOf", at)
			}
			return getAndPrint(cmd, opts, "/api/v1/search", params)
		},
	}
	searchCmd.Flags().IntVarP(&k, "k", "k", 0, "number of hits")
	searchCmd.Flags().StringSliceVar(&types, "type", nil, "entity types to search, e.g. Bill,SocialPost")
	searchCmd.Flags().StringSliceVar(&attributes, "attribute", nil, "attributes to search, e.g. summary")
	searchCmd.Flags().StringVar(&asOf, "as-of", "", "search the text as it was at this time")
	return searchCmd
}
