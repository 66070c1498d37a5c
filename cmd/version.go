package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/zjrosen/beanserver/internal/presentation"
	"github.com/zjrosen/beanserver/internal/server"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the server implementation and specification versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, srv *server.Server) error {
			attrs, err := srv.GetAttributes(ctx, server.DelegateName, []string{
				"ServerID", "SpecificationVersion", "ImplementationName", "ImplementationVersion",
			})
			if err != nil {
				return err
			}
			str := func(name string) string {
				v, _ := attrs.Get(name)
				s, _ := v.(string)
				return s
			}
			return formatter(cmd).FormatServer(presentation.ServerDTO{
				ID:                    str("ServerID"),
				SpecificationVersion:  str("SpecificationVersion"),
				ImplementationName:    str("ImplementationName"),
				ImplementationVersion: str("ImplementationVersion"),
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
