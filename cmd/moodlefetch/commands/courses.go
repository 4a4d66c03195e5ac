package commands

import (
	"moodlefetch/cmd/moodlefetch/utils"
	"moodlefetch/lib/osutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(coursesCmd)
}

var coursesCmd = &cobra.Command{
	Use:   "courses",
	Short: "Lists the courses on your dashboard.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		client := createClient(ctx)

		courses, err := client.Courses(ctx)
		if err != nil {
			osutil.Fatal("failed to fetch courses", err)
		}

		t := utils.NewTable()
		t.AppendHeader(table.Row{"ID", "Course", "URL"})
		for _, course := range courses {
			t.AppendRow(table.Row{course.Id(), course.Name, course.Href})
		}
		t.Render()
	},
}
