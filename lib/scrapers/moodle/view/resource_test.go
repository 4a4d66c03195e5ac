package view

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"moodlefetch/lib/telemetry"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestResourceNames(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/moodle/view")
	defer cleanup()

	ctx, span := tracer.Start(context.Background(), "TestResourceNames")
	defer span.End()

	portal := newFakePortal(t)
	client := newViewClient(t, portal)

	for _, test := range []struct {
		id   string
		name string
	}{
		// quoted filename from the Content-Disposition header
		{id: "501", name: "syllabus.pdf"},
		// no disposition: last path segment of the redirected url, decoded
		{id: "502", name: "notes v2.pdf"},
		// no disposition, no redirect: fall back to the resource id
		{id: "504", name: "resource-504"},
	} {
		t.Run("id "+test.id, func(t *testing.T) {
			resource := &Resource{
				Href:    portal.server.URL + "/moodle/mod/resource/view.php?id=" + test.id,
				session: client.Core,
			}
			defer resource.Close()

			name, err := resource.Name(ctx)
			if err != nil {
				t.Fatal(err)
			}
			require.Equal(t, test.name, name)

			again, err := resource.Name(ctx)
			if err != nil {
				t.Fatal(err)
			}
			require.Equal(t, name, again)
			require.Equal(t, 1, portal.fetchCount("resource-"+test.id))
		})
	}
}

func TestResourceDownload(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/moodle/view")
	defer cleanup()

	ctx, span := tracer.Start(context.Background(), "TestResourceDownload")
	defer span.End()

	portal := newFakePortal(t)
	client := newViewClient(t, portal)

	// nested path that does not exist yet, Download must create it
	dir := filepath.Join(t.TempDir(), "downloads", "soen-363")

	resource := &Resource{
		Href:    portal.server.URL + "/moodle/mod/resource/view.php?id=501",
		session: client.Core,
	}
	count, err := resource.Download(ctx, DownloadOptions{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, int64(len(syllabusContents)), count)

	contents, err := os.ReadFile(filepath.Join(dir, "syllabus.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, syllabusContents, string(contents))
	require.Equal(t, 1, portal.fetchCount("resource-501"))
}

func TestResourceDownloadExplicitFilename(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/moodle/view")
	defer cleanup()

	ctx, span := tracer.Start(context.Background(), "TestResourceDownloadExplicitFilename")
	defer span.End()

	portal := newFakePortal(t)
	client := newViewClient(t, portal)
	dir := t.TempDir()

	resource := &Resource{
		Href:    portal.server.URL + "/moodle/mod/resource/view.php?id=501",
		session: client.Core,
	}
	count, err := resource.Download(ctx, DownloadOptions{Dir: dir, Filename: "outline.pdf"})
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, int64(len(syllabusContents)), count)

	_, err = os.Stat(filepath.Join(dir, "outline.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 1, portal.fetchCount("resource-501"))
}

func TestConcurrentDownloads(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/moodle/view")
	defer cleanup()

	ctx, span := tracer.Start(context.Background(), "TestConcurrentDownloads")
	defer span.End()

	portal := newFakePortal(t)
	client := newViewClient(t, portal)
	dir := t.TempDir()

	resources := []*Resource{
		{Href: portal.server.URL + "/moodle/mod/resource/view.php?id=501", session: client.Core},
		{Href: portal.server.URL + "/moodle/mod/resource/view.php?id=502", session: client.Core},
		{Href: portal.server.URL + "/moodle/mod/resource/view.php?id=504", session: client.Core},
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(2)
	for _, resource := range resources {
		resource := resource
		eg.Go(func() error {
			_, err := resource.Download(ctx, DownloadOptions{Dir: dir})
			return err
		})
	}
	err := eg.Wait()
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"syllabus.pdf", "notes v2.pdf", "resource-504"} {
		_, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("expected %s to be downloaded: %s", name, err)
		}
	}
}
