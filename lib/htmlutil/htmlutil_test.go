package htmlutil

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
)

func TestGetAnchors(t *testing.T) {
	page := `<html><body>
		<a href="/course/view.php?id=1"> Databases <span>(fall)</span></a>
		<a href="https://elsewhere.example/file.pdf">Syllabus  PDF</a>
		<a>no href</a>
	</body></html>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		t.Fatal(err)
	}
	base, err := url.Parse("https://moodle.example/moodle/my/")
	if err != nil {
		t.Fatal(err)
	}

	anchors := GetAnchors(base, doc.Find("a"))

	expected := []Anchor{
		{Name: "Databases (fall)", Href: "https://moodle.example/course/view.php?id=1"},
		{Name: "Syllabus PDF", Href: "https://elsewhere.example/file.pdf"},
		{Name: "no href", Href: "https://moodle.example/moodle/my/"},
	}
	diff := cmp.Diff(expected, anchors)
	if diff != "" {
		t.Fatal(diff)
	}
}

func TestCleanText(t *testing.T) {
	testCases := []struct {
		in       string
		expected string
	}{
		{in: "  SOEN-363  ", expected: "SOEN-363"},
		{in: "a\n\t  b", expected: "a b"},
		{in: "plain", expected: "plain"},
	}
	for _, test := range testCases {
		got := CleanText(test.in)
		if got != test.expected {
			t.Fatal("expected", test.expected, "instead got", got)
		}
	}
}
