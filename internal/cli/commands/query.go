package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/resourcekit/internal/web/format"
	"github.com/conduit-lang/resourcekit/pkg/apierror"
	"github.com/conduit-lang/resourcekit/pkg/query"
)

var (
	queryDomain string
	queryPrefix string
)

// NewQueryCommand creates the query command for converting between URLs and queries
func NewQueryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Convert between request URLs and queries",
		Long: `Parse request URLs into queries and render queries back into URLs,
using the same rules the server applies to requests.

Examples:
  resourcekit query parse '/articles?include=author&sort=-title'
  resourcekit query parse --prefix /api 'https://api.example.com/api/articles/1'
  echo '{"ref":{"type":"articles","id":"1"}}' | resourcekit query make`,
	}
	cmd.PersistentFlags().StringVar(&queryDomain, "domain", "", "Domain of absolute URLs, e.g. https://api.example.com")
	cmd.PersistentFlags().StringVar(&queryPrefix, "prefix", "", "API path prefix, e.g. /api")

	cmd.AddCommand(&cobra.Command{
		Use:   "parse <url>",
		Short: "Parse a URL and print the query as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runQueryParse,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "make",
		Short: "Read a JSON query from stdin and print its URL",
		Args:  cobra.NoArgs,
		RunE:  runQueryMake,
	})
	return cmd
}

func converter() *query.Converter {
	return query.NewConverter(query.ConverterConfig{Domain: queryDomain, Prefix: queryPrefix})
}

func runQueryParse(cmd *cobra.Command, args []string) error {
	q, err := converter().Parse(args[0])
	if err != nil {
		set, ok := apierror.AsErrorSet(err)
		if !ok {
			return err
		}
		if err := writeJSON(cmd.OutOrStdout(), format.Errors(set)); err != nil {
			return err
		}
		return fmt.Errorf("invalid query: %d error(s)", set.Len())
	}
	return writeJSON(cmd.OutOrStdout(), q)
}

func runQueryMake(cmd *cobra.Command, args []string) error {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("failed to read query: %w", err)
	}

	var q query.Query
	if err := json.Unmarshal(data, &q); err != nil {
		return fmt.Errorf("failed to parse query: %w", err)
	}
	if q.Ref.Type == "" {
		return fmt.Errorf("query ref requires a type")
	}

	// page values are owned by the page provider; decode them into its type
	if q.Params != nil && q.Params.Page != nil {
		raw, err := json.Marshal(q.Params.Page)
		if err != nil {
			return err
		}
		var page query.Page
		if err := json.Unmarshal(raw, &page); err != nil {
			return fmt.Errorf("failed to parse page: %w", err)
		}
		q.Params.Page = page
	}

	fmt.Fprintln(cmd.OutOrStdout(), converter().Make(&q))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
