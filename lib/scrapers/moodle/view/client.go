package view

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"sync"

	"moodlefetch/lib/htmlutil"
	"moodlefetch/lib/scrapers/moodle/core"
	"moodlefetch/lib/telemetry"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("moodlefetch.lib.scrapers.moodle.view")

// Client navigates an authenticated portal session. The dashboard and the
// course list are fetched at most once per Client; repeat calls return the
// same snapshot, or the same error if the one fetch failed.
type Client struct {
	Core *core.Client

	dashboardOnce sync.Once
	dashboard     *Dashboard
	dashboardErr  error

	coursesOnce sync.Once
	courses     []*Course
	coursesErr  error
}

func NewClient(coreClient *core.Client) *Client {
	return &Client{Core: coreClient}
}

// Dashboard is an immutable snapshot of the portal's dashboard page.
type Dashboard struct {
	Raw []byte
	Doc *goquery.Document
	// final url of the dashboard request, the base for relative hrefs
	Url *url.URL
}

func (c *Client) Dashboard(ctx context.Context) (*Dashboard, error) {
	c.dashboardOnce.Do(func() {
		ctx, span := tracer.Start(ctx, "client:Dashboard")
		defer span.End()

		res, err := c.Core.Http.R().
			SetContext(ctx).
			Get(c.Core.Endpoints.Dashboard)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch")
			c.dashboardErr = err
			return
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to parse html")
			c.dashboardErr = err
			return
		}

		c.dashboard = &Dashboard{
			Raw: res.Body(),
			Doc: doc,
			Url: res.RawResponse.Request.URL,
		}
	})
	return c.dashboard, c.dashboardErr
}

func (c *Client) Courses(ctx context.Context) ([]*Course, error) {
	c.coursesOnce.Do(func() {
		dashboard, err := c.Dashboard(ctx)
		if err != nil {
			c.coursesErr = err
			return
		}
		c.courses = extractCourses(c.Core, dashboard.Url, dashboard.Doc)
	})
	return c.courses, c.coursesErr
}

var courseHrefRegex = regexp.MustCompile(`view\.php\?id=\d+`)
var courseCodeRegex = regexp.MustCompile(`\w{4}-\d{3}`)

// extractCourses returns one Course per anchor that links to a course page
// and carries a course-code span, in document order. Anchors without a
// recognizable course code are skipped; duplicate links are kept.
func extractCourses(session *core.Client, base *url.URL, doc *goquery.Document) []*Course {
	courses := []*Course{}
	doc.Find("a").Each(func(_ int, anchor *goquery.Selection) {
		href, ok := anchor.Attr("href")
		if !ok || !courseHrefRegex.MatchString(href) {
			return
		}

		name := ""
		anchor.Find("span").EachWithBreak(func(_ int, span *goquery.Selection) bool {
			text := htmlutil.CleanText(span.Text())
			if courseCodeRegex.MatchString(text) {
				name = text
				return false
			}
			return true
		})
		if name == "" {
			return
		}

		link, err := url.Parse(href)
		if err != nil {
			return
		}
		if base != nil {
			link = base.ResolveReference(link)
		}

		courses = append(courses, &Course{
			Name:    name,
			Href:    link.String(),
			session: session,
		})
	})
	return courses
}

// Course is a course-page link scraped off the dashboard. Its resource list
// is fetched lazily, at most once.
type Course struct {
	Name string
	Href string

	session *core.Client

	pageOnce sync.Once
	pageDoc  *goquery.Document
	pageUrl  *url.URL
	pageErr  error

	resourcesOnce sync.Once
	resources     []*Resource
	resourcesErr  error
}

// Id returns the course's `id` query parameter, or "" if the href does not
// parse.
func (c *Course) Id() string {
	href, err := url.Parse(c.Href)
	if err != nil {
		return ""
	}
	return href.Query().Get("id")
}

func (c *Course) page(ctx context.Context) (*goquery.Document, *url.URL, error) {
	c.pageOnce.Do(func() {
		ctx, span := tracer.Start(ctx, "course:Page")
		defer span.End()

		res, err := c.session.Http.R().
			SetContext(ctx).
			Get(c.Href)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch")
			c.pageErr = err
			return
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to parse html")
			c.pageErr = err
			return
		}

		c.pageDoc = doc
		c.pageUrl = res.RawResponse.Request.URL
	})
	return c.pageDoc, c.pageUrl, c.pageErr
}

func (c *Course) Resources(ctx context.Context) ([]*Resource, error) {
	c.resourcesOnce.Do(func() {
		doc, base, err := c.page(ctx)
		if err != nil {
			c.resourcesErr = err
			return
		}
		c.resources = extractResources(c.session, base, doc)
	})
	return c.resources, c.resourcesErr
}

var resourceHrefRegex = regexp.MustCompile(`mod/resource/view\.php\?id=\d+`)

// extractResources returns one Resource per file-resource anchor on a course
// page, in document order, duplicates kept.
func extractResources(session *core.Client, base *url.URL, doc *goquery.Document) []*Resource {
	resources := []*Resource{}
	for _, anchor := range htmlutil.GetAnchors(base, doc.Find("a")) {
		if !resourceHrefRegex.MatchString(anchor.Href) {
			continue
		}
		resources = append(resources, &Resource{
			Href:    anchor.Href,
			session: session,
		})
	}
	return resources
}
