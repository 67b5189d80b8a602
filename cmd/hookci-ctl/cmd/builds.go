package cmd

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hookci/hookci/internal/api"
	"github.com/spf13/cobra"
)

var (
	buildsRepo    string
	buildsBranch  string
	buildsProject string
)

var buildsCmd = &cobra.Command{
	Use:   "builds",
	Short: "Inspect the build log",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var buildsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent builds, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := url.Values{}
		if buildsRepo != "" {
			query.Set("repo", buildsRepo)
		}
		if buildsBranch != "" {
			query.Set("branch", buildsBranch)
		}
		if buildsProject != "" {
			query.Set("project", buildsProject)
		}
		path := "/api/builds"
		if len(query) > 0 {
			path += "?" + query.Encode()
		}

		resp, err := NewClient().Get(path)
		if err != nil {
			return fmt.Errorf("error fetching builds: %v", err)
		}
		defer resp.Body.Close()

		var builds []api.BuildLog
		if err := decodeResponse(resp, &builds); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "BUILD\tSTATUS\tREPO\tBRANCH\tCOMMIT\tAUTHOR\tTIME")
		for _, build := range builds {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				build.BuildID, build.Status, build.Repo, build.Branch, shortCommit(build.Commit), build.Author, build.Timestamp.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var buildsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show build log statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := NewClient().Get("/api/builds?type=stats")
		if err != nil {
			return fmt.Errorf("error fetching build stats: %v", err)
		}
		defer resp.Body.Close()

		var stats api.BuildStats
		if err := decodeResponse(resp, &stats); err != nil {
			return err
		}

		fmt.Printf("Total builds: %d\n", stats.TotalBuilds)
		fmt.Printf("Succeeded:    %d\n", stats.SuccessCount)
		fmt.Printf("Failed:       %d\n", stats.FailedCount)
		fmt.Printf("Repos:        %s\n", strings.Join(stats.Repos, ", "))
		fmt.Printf("Branches:     %s\n", strings.Join(stats.Branches, ", "))
		return nil
	},
}

func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}

func init() {
	buildsListCmd.Flags().StringVar(&buildsRepo, "repo", "", "Filter by repository")
	buildsListCmd.Flags().StringVar(&buildsBranch, "branch", "", "Filter by branch")
	buildsListCmd.Flags().StringVar(&buildsProject, "project", "", "Filter by project id")

	buildsCmd.AddCommand(buildsListCmd, buildsStatsCmd)
	rootCmd.AddCommand(buildsCmd)
}
