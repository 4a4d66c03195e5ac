package commands

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"moodlefetch/lib/osutil"
	"moodlefetch/lib/scrapers/moodle/view"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	downloadCourse *string
	downloadOut    *string
	downloadJobs   *int
)

func init() {
	downloadCourse = downloadCmd.Flags().String("course", "", "Course id or course code.")
	downloadOut = downloadCmd.Flags().String("out", ".", "Directory to download into, created if missing.")
	downloadJobs = downloadCmd.Flags().Int("jobs", 4, "Maximum concurrent downloads.")
	downloadCmd.MarkFlagRequired("course")
	rootCmd.AddCommand(downloadCmd)
}

var downloadCmd = &cobra.Command{
	Use:   "download --course <id|code> [--out <dir>] [--jobs <n>]",
	Short: "Downloads every file resource of a course. Ctrl+C cancels, leaving partial files.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		client := createClient(ctx)
		course := resolveCourse(ctx, client, *downloadCourse)

		resources, err := course.Resources(ctx)
		if err != nil {
			osutil.Fatal("failed to fetch resources", err)
		}
		if len(resources) == 0 {
			slog.Info("course has no file resources", "course", course.Name)
			return
		}

		slog.Info(
			"downloading",
			"course", course.Name,
			"resources", len(resources),
			"out", *downloadOut,
		)
		start := time.Now()
		var totalBytes atomic.Int64

		eg, ctx := errgroup.WithContext(ctx)
		eg.SetLimit(*downloadJobs)
		for _, resource := range resources {
			resource := resource
			eg.Go(func() error {
				count, err := resource.Download(ctx, view.DownloadOptions{Dir: *downloadOut})
				if err != nil {
					return fmt.Errorf("download %s: %w", resource.Href, err)
				}
				name, _ := resource.Name(ctx)
				slog.Info("downloaded", "name", name, "bytes", count)
				totalBytes.Add(count)
				return nil
			})
		}
		err = eg.Wait()
		if err != nil {
			osutil.Fatal("download failed", err)
		}

		slog.Info(
			"done",
			"files", len(resources),
			"bytes", totalBytes.Load(),
			"seconds", time.Since(start).Seconds(),
		)
	},
}
