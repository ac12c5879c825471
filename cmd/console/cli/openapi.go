package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/msspconsole/console/internal/openapi"
)

func newOpenAPICmd(a *app) *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI document of the console API",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := openapi.GenerateConsoleSpec(a.versionString(), baseURL)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server URL to embed in the document")

	return cmd
}
