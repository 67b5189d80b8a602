package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hookci/hookci/internal/api"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var (
	webhookName        string
	webhookProjectID   string
	webhookRepoID      string
	webhookExpiry      string
	webhookSkipPrompts bool
)

var webhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Manage webhook registrations",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var webhooksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List webhook registrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := NewClient().Get("/api/webhooks")
		if err != nil {
			return fmt.Errorf("error fetching webhooks: %v", err)
		}
		defer resp.Body.Close()

		var webhooks []api.WebhookView
		if err := decodeResponse(resp, &webhooks); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tENDPOINT\tACTIVE\tEXPIRED\tTRIGGERS\tLAST TRIGGERED")
		for _, webhook := range webhooks {
			last := "-"
			if webhook.LastTriggered != nil {
				last = webhook.LastTriggered.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%d\t%s\n",
				webhook.ID, webhook.DisplayName, webhook.Endpoint, webhook.IsActive, webhook.IsExpired, webhook.Triggers, last)
		}
		return w.Flush()
	},
}

var webhooksCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new webhook endpoint",
	Long: `Register a new webhook endpoint.

Examples:
  hookci-ctl webhooks create --name "Nightly" --project proj_123 --expiry 2026-12-31 --yes
  hookci-ctl webhooks create`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !webhookSkipPrompts && webhookName == "" {
			prompt := promptui.Prompt{
				Label: "Webhook Name",
				Validate: func(input string) error {
					if strings.TrimSpace(input) == "" {
						return fmt.Errorf("webhook name is required")
					}
					return nil
				},
			}
			result, err := prompt.Run()
			if err != nil {
				return err
			}
			webhookName = result
		}
		if webhookName == "" {
			return fmt.Errorf("name is required")
		}

		body := map[string]interface{}{
			"action":     "create",
			"name":       webhookName,
			"projectId":  webhookProjectID,
			"repoId":     webhookRepoID,
			"expiryDate": webhookExpiry,
		}
		resp, err := NewClient().Post("/api/webhooks", body)
		if err != nil {
			return fmt.Errorf("error creating webhook: %v", err)
		}
		defer resp.Body.Close()

		var webhook api.Webhook
		if err := decodeResponse(resp, &webhook); err != nil {
			return err
		}
		fmt.Printf("Webhook registered. Endpoint: %s\n", webhook.Endpoint)
		return nil
	},
}

var webhooksDeleteCmd = &cobra.Command{
	Use:   "delete [webhook-id]",
	Short: "Delete a webhook registration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := NewClient().Delete("/api/webhooks/registrations/" + args[0])
		if err != nil {
			return fmt.Errorf("error deleting webhook: %v", err)
		}
		defer resp.Body.Close()

		if err := CheckResponse(resp); err != nil {
			return err
		}
		fmt.Println("Webhook deleted successfully.")
		return nil
	},
}

func setWebhookActive(id string, active bool) error {
	resp, err := NewClient().Patch("/api/webhooks/registrations/"+id, map[string]bool{"isActive": active})
	if err != nil {
		return fmt.Errorf("error updating webhook: %v", err)
	}
	defer resp.Body.Close()

	var webhook api.Webhook
	if err := decodeResponse(resp, &webhook); err != nil {
		return err
	}
	fmt.Printf("Webhook %s active=%t\n", webhook.ID, webhook.IsActive)
	return nil
}

var webhooksEnableCmd = &cobra.Command{
	Use:   "enable [webhook-id]",
	Short: "Activate a webhook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setWebhookActive(args[0], true)
	},
}

var webhooksDisableCmd = &cobra.Command{
	Use:   "disable [webhook-id]",
	Short: "Deactivate a webhook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setWebhookActive(args[0], false)
	},
}

func init() {
	webhooksCreateCmd.Flags().StringVar(&webhookName, "name", "", "Webhook name")
	webhooksCreateCmd.Flags().StringVar(&webhookProjectID, "project", "", "Bind the webhook to a project id")
	webhooksCreateCmd.Flags().StringVar(&webhookRepoID, "repo", "", "Bind the webhook to a repo id")
	webhooksCreateCmd.Flags().StringVar(&webhookExpiry, "expiry", "", "Expiry date (RFC 3339 or YYYY-MM-DD)")
	webhooksCreateCmd.Flags().BoolVarP(&webhookSkipPrompts, "yes", "y", false, "Skip interactive prompts")

	webhooksCmd.AddCommand(webhooksListCmd, webhooksCreateCmd, webhooksDeleteCmd, webhooksEnableCmd, webhooksDisableCmd)
	rootCmd.AddCommand(webhooksCmd)
}
