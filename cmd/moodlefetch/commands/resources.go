package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"moodlefetch/cmd/moodlefetch/utils"
	"moodlefetch/lib/osutil"
	"moodlefetch/lib/scrapers/moodle/view"
	"moodlefetch/lib/textutil"

	"github.com/antzucaro/matchr"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var resourcesCourse *string

func init() {
	resourcesCourse = resourcesCmd.Flags().String("course", "", "Course id or course code (e.g. 134469 or SOEN-363).")
	resourcesCmd.MarkFlagRequired("course")
	rootCmd.AddCommand(resourcesCmd)
}

var resourcesCmd = &cobra.Command{
	Use:   "resources --course <id|code>",
	Short: "Lists the file resources of a course.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		client := createClient(ctx)
		course := resolveCourse(ctx, client, *resourcesCourse)

		resources, err := course.Resources(ctx)
		if err != nil {
			osutil.Fatal("failed to fetch resources", err)
		}
		defer closeAll(resources)

		names := resolveNames(ctx, resources)

		t := utils.NewTable()
		t.AppendHeader(table.Row{"ID", "Name", "URL"})
		for i, resource := range resources {
			t.AppendRow(table.Row{resource.Id(), names[i], resource.Href})
		}
		t.Render()
	},
}

const minCourseSimilarity = 0.85

// resolveCourse finds the course the user asked for: exact id match first,
// then a normalized name/prefix match, then the closest Jaro-Winkler match
// above minCourseSimilarity.
func resolveCourse(ctx context.Context, client *view.Client, query string) *view.Course {
	courses, err := client.Courses(ctx)
	if err != nil {
		osutil.Fatal("failed to fetch courses", err)
	}
	if len(courses) == 0 {
		osutil.Fatal("no courses", fmt.Errorf("the dashboard has no course links"))
	}

	for _, course := range courses {
		if course.Id() == query {
			return course
		}
	}

	normalizedQuery := textutil.NormalizeName(query)
	for _, course := range courses {
		name := textutil.NormalizeName(course.Name)
		if name == normalizedQuery || strings.HasPrefix(name, normalizedQuery) {
			return course
		}
	}

	var best *view.Course
	bestScore := 0.0
	for _, course := range courses {
		score := matchr.JaroWinkler(normalizedQuery, textutil.NormalizeName(course.Name), false)
		if score > bestScore {
			bestScore = score
			best = course
		}
	}
	if best == nil || bestScore < minCourseSimilarity {
		osutil.Fatal("could not resolve course", fmt.Errorf("no course matches %q", query))
	}

	slog.Info("matched course", "query", query, "course", best.Name, "similarity", bestScore)
	return best
}

// resolveNames fetches resource names a few at a time. A resource whose name
// cannot be resolved is listed under its href instead.
func resolveNames(ctx context.Context, resources []*view.Resource) []string {
	names := make([]string, len(resources))

	var eg errgroup.Group
	eg.SetLimit(4)
	for i, resource := range resources {
		i, resource := i, resource
		eg.Go(func() error {
			name, err := resource.Name(ctx)
			if err != nil {
				slog.Warn("failed to resolve resource name", "href", resource.Href, "err", err)
				name = resource.Href
			}
			names[i] = name
			return nil
		})
	}
	eg.Wait()

	return names
}

func closeAll(resources []*view.Resource) {
	for _, resource := range resources {
		resource.Close()
	}
}
