package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "List the projects linked to a CRM client",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		contactID, _ := cmd.Flags().GetString("contact")
		email, _ := cmd.Flags().GetString("email")
		format, _ := cmd.Flags().GetString("format")
		if contactID == "" && email == "" {
			return eris.New("links: --contact or --email is required")
		}

		env, err := initEnv(ctx, "links")
		if err != nil {
			return err
		}
		defer env.Close()

		links, err := env.Linker.LinksForClient(ctx, contactID, email)
		if err != nil {
			return eris.Wrap(err, "links")
		}
		zap.L().Info("links resolved", zap.String("contact_id", contactID), zap.Int("count", len(links)))
		return writeOutput(cmd.OutOrStdout(), format, links)
	},
}

var projectIDsCmd = &cobra.Command{
	Use:   "project-ids",
	Short: "List the linked project ids of a CRM contact",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		contactID, _ := cmd.Flags().GetString("contact")
		format, _ := cmd.Flags().GetString("format")
		if contactID == "" {
			return eris.New("project-ids: --contact is required")
		}

		env, err := initEnv(ctx, "links")
		if err != nil {
			return err
		}
		defer env.Close()

		ids, err := env.Linker.ProjectIDsForContact(ctx, contactID)
		if err != nil {
			return eris.Wrap(err, "project-ids")
		}
		return writeOutput(cmd.OutOrStdout(), format, ids)
	},
}

func init() {
	linksCmd.Flags().String("contact", "", "CRM contact id")
	linksCmd.Flags().String("email", "", "client email, used for deal search and membership matching")
	linksCmd.Flags().String("format", "json", "output format: json or yaml")
	rootCmd.AddCommand(linksCmd)

	projectIDsCmd.Flags().String("contact", "", "CRM contact id")
	projectIDsCmd.Flags().String("format", "json", "output format: json or yaml")
	rootCmd.AddCommand(projectIDsCmd)
}
