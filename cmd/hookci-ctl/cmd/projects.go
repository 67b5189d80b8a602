package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/hookci/hookci/internal/api"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var (
	projectName        string
	projectType        string
	projectRepoURL     string
	projectBranches    string
	projectToken       string
	projectSkipPrompts bool
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage projects",
	Long:  `Manage projects and the repositories whose pushes trigger builds.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := NewClient().Get("/api/projects")
		if err != nil {
			return fmt.Errorf("error fetching projects: %v", err)
		}
		defer resp.Body.Close()

		var projects []api.Project
		if err := decodeResponse(resp, &projects); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tREPOS")
		for _, project := range projects {
			urls := make([]string, 0, len(project.Repos))
			for _, repo := range project.Repos {
				urls = append(urls, repo.URL)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", project.ID, project.Name, project.Type, strings.Join(urls, ","))
		}
		return w.Flush()
	},
}

var projectsGetCmd = &cobra.Command{
	Use:   "get [project-id]",
	Short: "Get project details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := NewClient().Get("/api/projects/" + args[0])
		if err != nil {
			return fmt.Errorf("error getting project: %v", err)
		}
		defer resp.Body.Close()

		var project api.Project
		if err := decodeResponse(resp, &project); err != nil {
			return err
		}
		PrintJSON(project)
		return nil
	},
}

var projectsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new project",
	Long: `Register a new project with one repository.

Examples:
  # Using flags (non-interactive)
  hookci-ctl projects add --name Shop --repo https://github.com/acme/shop --branches main,develop --yes

  # Interactive mode
  hookci-ctl projects add`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !projectSkipPrompts {
			if err := promptProject(); err != nil {
				return err
			}
		}
		if projectName == "" || projectRepoURL == "" {
			return fmt.Errorf("name and repo are required")
		}

		repo := api.Repo{
			URL:       projectRepoURL,
			Branches:  splitList(projectBranches),
			Token:     projectToken,
			IsPrivate: projectToken != "",
		}
		body := map[string]interface{}{
			"action": "create",
			"name":   projectName,
			"type":   projectType,
			"repos":  []api.Repo{repo},
		}

		resp, err := NewClient().Post("/api/projects", body)
		if err != nil {
			return fmt.Errorf("error creating project: %v", err)
		}
		defer resp.Body.Close()

		var project api.Project
		if err := decodeResponse(resp, &project); err != nil {
			return err
		}
		fmt.Printf("Project %s registered successfully.\n", project.ID)
		return nil
	},
}

var projectsDeleteCmd = &cobra.Command{
	Use:   "delete [project-id]",
	Short: "Delete a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := NewClient().Delete("/api/projects/" + args[0])
		if err != nil {
			return fmt.Errorf("error deleting project: %v", err)
		}
		defer resp.Body.Close()

		if err := CheckResponse(resp); err != nil {
			return err
		}
		fmt.Println("Project deleted successfully.")
		return nil
	},
}

func promptProject() error {
	required := func(label string) func(string) error {
		return func(input string) error {
			if strings.TrimSpace(input) == "" {
				return fmt.Errorf("%s is required", label)
			}
			return nil
		}
	}

	if projectName == "" {
		prompt := promptui.Prompt{Label: "Project Name", Validate: required("project name")}
		result, err := prompt.Run()
		if err != nil {
			return err
		}
		projectName = result
	}
	if projectRepoURL == "" {
		prompt := promptui.Prompt{Label: "Git Repository URL", Validate: required("repo url")}
		result, err := prompt.Run()
		if err != nil {
			return err
		}
		projectRepoURL = result
	}
	if projectBranches == "" {
		prompt := promptui.Prompt{Label: "Branches (comma separated)", Default: "main"}
		result, err := prompt.Run()
		if err != nil {
			return err
		}
		projectBranches = result
	}
	if projectToken == "" {
		prompt := promptui.Prompt{Label: "Access Token (empty for public repos)", Mask: '*'}
		result, err := prompt.Run()
		if err != nil {
			return err
		}
		projectToken = result
	}
	return nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func init() {
	projectsAddCmd.Flags().StringVar(&projectName, "name", "", "Project name")
	projectsAddCmd.Flags().StringVar(&projectType, "type", api.ProjectSingle, "Project type: single or multiple")
	projectsAddCmd.Flags().StringVar(&projectRepoURL, "repo", "", "Git repository URL")
	projectsAddCmd.Flags().StringVar(&projectBranches, "branches", "", "Comma separated branches to monitor (default: main)")
	projectsAddCmd.Flags().StringVar(&projectToken, "token", "", "Access token for private repositories")
	projectsAddCmd.Flags().BoolVarP(&projectSkipPrompts, "yes", "y", false, "Skip interactive prompts")

	projectsCmd.AddCommand(projectsListCmd, projectsGetCmd, projectsAddCmd, projectsDeleteCmd)
	rootCmd.AddCommand(projectsCmd)
}
