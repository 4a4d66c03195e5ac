package view

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sync"

	"moodlefetch/lib/scrapers/moodle/core"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Resource is a downloadable file behind a mod/resource link. The underlying
// request is made at most once, on the first call to Response, Name or
// Download; the response body is a stream, so a Resource can be downloaded
// once. Callers that only resolve names should Close it.
type Resource struct {
	Href string

	session *core.Client

	responseOnce sync.Once
	response     *resty.Response
	responseErr  error
	consumed     bool
}

// Id returns the resource's `id` query parameter, or "" if the href does not
// parse.
func (r *Resource) Id() string {
	href, err := url.Parse(r.Href)
	if err != nil {
		return ""
	}
	return href.Query().Get("id")
}

// Response performs the resource's GET request without consuming the body.
// Repeat calls return the same response.
func (r *Resource) Response(ctx context.Context) (*resty.Response, error) {
	r.responseOnce.Do(func() {
		ctx, span := tracer.Start(ctx, "resource:Response")
		defer span.End()
		span.SetAttributes(attribute.KeyValue{
			Key:   "url",
			Value: attribute.StringValue(r.Href),
		})

		res, err := r.session.Http.R().
			SetContext(ctx).
			SetDoNotParseResponse(true).
			Get(r.Href)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch")
			r.responseErr = err
			return
		}
		if res.StatusCode() >= 400 {
			res.RawBody().Close()
			span.SetStatus(codes.Error, "bad status")
			r.responseErr = fmt.Errorf("fetch %s: %s", r.Href, res.Status())
			return
		}

		r.response = res
	})
	return r.response, r.responseErr
}

var filenameRegex = regexp.MustCompile(`filename="(.+?)"`)

// Name resolves the resource's filename: the quoted filename of the
// Content-Disposition header when the portal sends one, otherwise the last
// path segment of the final (post-redirect) url, otherwise "resource-<id>".
// Calling it performs the resource's one GET request.
func (r *Resource) Name(ctx context.Context) (string, error) {
	res, err := r.Response(ctx)
	if err != nil {
		return "", err
	}

	groups := filenameRegex.FindStringSubmatch(res.Header().Get("Content-Disposition"))
	if len(groups) >= 2 && groups[1] != "" {
		return groups[1], nil
	}

	final := res.RawResponse.Request.URL
	segment := path.Base(final.Path)
	if segment != "" && segment != "." && segment != "/" && segment != "view.php" {
		return segment, nil
	}

	if id := r.Id(); id != "" {
		return "resource-" + id, nil
	}
	return "resource", nil
}

type DownloadOptions struct {
	// target directory, created if missing. "" means the current directory.
	Dir string
	// overrides the name derived by Name when non-empty
	Filename string
}

const downloadChunkSize = 5 * 1024 * 1024

// Download streams the resource into Dir/Filename and returns the number of
// bytes written. The body is consumed: a Resource downloads once. Cancelling
// ctx aborts between chunks; the partial file is left on disk for the caller
// to inspect or remove.
func (r *Resource) Download(ctx context.Context, opts DownloadOptions) (int64, error) {
	ctx, span := tracer.Start(ctx, "resource:Download")
	defer span.End()

	name := opts.Filename
	if name == "" {
		derived, err := r.Name(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to resolve filename")
			return 0, err
		}
		// server-derived names never escape the target directory
		name = filepath.Base(derived)
	}

	res, err := r.Response(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch")
		return 0, err
	}
	body := res.RawBody()
	if body == nil || r.consumed {
		return 0, fmt.Errorf("download %s: body already consumed", r.Href)
	}
	r.consumed = true
	defer body.Close()

	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	err = os.MkdirAll(dir, 0777)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create target directory")
		return 0, err
	}

	file, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create file")
		return 0, err
	}
	defer file.Close()

	var total int64
	chunk := make([]byte, downloadChunkSize)
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		n, readErr := body.Read(chunk)
		if n > 0 {
			written, err := file.Write(chunk[:n])
			total += int64(written)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to write chunk")
				return total, err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			span.RecordError(readErr)
			span.SetStatus(codes.Error, "failed to read chunk")
			return total, readErr
		}
	}

	span.SetAttributes(attribute.KeyValue{
		Key:   "bytes_written",
		Value: attribute.Int64Value(total),
	})
	return total, nil
}

// Close releases an unconsumed response body. Safe to call whether or not a
// request was ever made; Download closes the body itself.
func (r *Resource) Close() error {
	if r.response == nil {
		return nil
	}
	body := r.response.RawBody()
	if body == nil {
		return nil
	}
	r.consumed = true
	return body.Close()
}
