package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

func newSubmitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "submit [file]",
		Short: "Submit candidate facts from a JSON file ('-' reads stdin)",
		Long: `Submit one candidate object, or an array of candidates, to the ingest queue.
Each candidate is reported as accepted or duplicate together with its receipt key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			cands, err := splitCandidates(raw)
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			for i, cand := range cands {
				var res struct {
					Status     string `json:"status"`
					ReceiptKey string `json:"receiptKey"`
				}
				if err := c.Post(cmd.Context(), "/api/v1/candidates", cand, &res); err != nil {
					return fmt.Errorf("candidate %d: %w", i, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", res.Status, res.ReceiptKey)
			}
			return nil
		},
	}
}

func newReceiptCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "receipt [key]",
		Short: "Show what happened to a submitted candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, opts, "/api/v1/receipts/"+url.PathEscape(args[0]), nil)
		},
	}
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return raw, nil
}

// splitCandidates accepts a single JSON object or an array of objects.
func splitCandidates(raw []byte) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("no candidates in input")
	}
	if raw[0] != '[' {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("input is not valid JSON")
		}
		return []json.RawMessage{raw}, nil
	}
	var cands []json.RawMessage
	if err := json.Unmarshal(raw, &cands); err != nil {
		return nil, fmt.Errorf("input is not a JSON array of candidates: %w", err)
	}
	return cands, nil
}

func getAndPrint(cmd *cobra.Command, opts *options, path string, params url.Values) error {
	c, err := opts.client()
	if err != nil {
		return err
	}
	var raw json.RawMessage
	if err := c.Get(cmd.Context(), path, params, &raw); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), raw)
}

func postAndPrint(cmd *cobra.Command, opts *options, path string, body interface{}) error {
	c, err := opts.client()
	if err != nil {
		return err
	}
	var raw json.RawMessage
	if err := c.Post(cmd.Context(), path, body, &raw); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), raw)
}
