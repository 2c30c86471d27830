package devengine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/utils"
)

const maxPageBytes = 2 << 20

var inlineURL = regexp.MustCompile(`https?://[^\s"'<>]+`)

// linkAttrs pairs a selector with the attribute holding its link.
var linkAttrs = []struct{ sel, attr string }{
	{"a[href]", "href"},
	{"link[href]", "href"},
	{"script[src]", "src"},
	{"img[src]", "src"},
	{"iframe[src]", "src"},
	{"form[action]", "action"},
}

// discover returns the relative paths reported by the discovery phase and
// the tool they are attributed to.
func (e *Engine) discover(ctx context.Context, target string, log logging.Logger) ([]string, string) {
	if !e.cfg.Crawl {
		return scripted(e.cfg.Discoveries), "ffuf"
	}
	c := &crawler{
		client:   &http.Client{Timeout: e.cfg.CrawlTimeout},
		maxDepth: e.cfg.CrawlDepth,
		maxPages: e.cfg.Discoveries,
		logger:   log,
	}
	paths, err := c.crawl(ctx, target)
	if err != nil || len(paths) == 0 {
		log.Warn("crawl found nothing, falling back to scripted paths", logging.Err(err))
		return scripted(e.cfg.Discoveries), "ffuf"
	}
	return paths, "katana"
}

// crawler walks same-host links breadth first, recording each page's path
// relative to the target.
type crawler struct {
	client   *http.Client
	maxDepth int
	maxPages int
	logger   logging.Logger
}

func (c *crawler) crawl(ctx context.Context, target string) ([]string, error) {
	root, err := utils.Canonicalize(target, utils.TargetOptions)
	if err != nil {
		return nil, err
	}
	rootURL, err := url.Parse(root)
	if err != nil {
		return nil, err
	}

	depth := map[string]int{root: 0}
	queue := []string{root}
	reported := map[string]struct{}{}
	var paths []string

	for len(queue) > 0 && len(paths) < c.maxPages {
		if ctx.Err() != nil {
			return paths, ctx.Err()
		}
		page := queue[0]
		queue = queue[1:]
		if depth[page] >= c.maxDepth {
			continue
		}

		links, err := c.links(ctx, page)
		if err != nil {
			c.logger.Debug("crawl fetch failed",
				logging.Field{Key: "url", Value: page}, logging.Err(err))
			continue
		}
		for _, link := range links {
			u, err := url.Parse(link)
			if err != nil || u.Host != rootURL.Host {
				continue
			}
			if _, seen := depth[link]; seen {
				continue
			}
			depth[link] = depth[page] + 1
			queue = append(queue, link)
			rel := strings.TrimPrefix(u.EscapedPath(), "/")
			if _, dup := reported[rel]; rel != "" && !dup {
				reported[rel] = struct{}{}
				paths = append(paths, rel)
				if len(paths) == c.maxPages {
					break
				}
			}
		}
	}
	return paths, nil
}

// links fetches page and returns the canonical absolute URLs it references.
func (c *crawler) links(ctx context.Context, page string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, page, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxPageBytes)
	var raw []string
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		doc, err := goquery.NewDocumentFromReader(body)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", page, err)
		}
		for _, la := range linkAttrs {
			doc.Find(la.sel).Each(func(_ int, s *goquery.Selection) {
				if v, ok := s.Attr(la.attr); ok {
					raw = append(raw, v)
				}
			})
		}
		doc.Find("script:not([src])").Each(func(_ int, s *goquery.Selection) {
			raw = append(raw, inlineURL.FindAllString(s.Text(), -1)...)
		})
	} else {
		b, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		raw = inlineURL.FindAllString(string(b), -1)
	}

	base := resp.Request.URL
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		ref, err := url.Parse(strings.TrimSpace(r))
		if err != nil {
			continue
		}
		abs, err := utils.Canonicalize(base.ResolveReference(ref).String(), utils.TargetOptions)
		if err != nil {
			continue
		}
		out = append(out, abs)
	}
	return out, nil
}
