package index

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/distr1/whey"
	"github.com/google/go-github/v27/github"
	"golang.org/x/oauth2"
	"golang.org/x/xerrors"
)

// GitHubTags offers the tags of a GitHub repository as source archives. The
// version of each tag is extracted via TagPattern.
type GitHubTags struct {
	Project      string // normalized name the tarballs are offered as
	Organization string
	Repo         string
	TagPattern   *regexp.Regexp // first submatch is the version; nil: tag is the version

	client     *github.Client
	httpClient *http.Client
}

// NewGitHubTags returns a GitHubTags index. If the GITHUB_TOKEN environment
// variable is set, requests are authenticated. baseURL overrides the API
// endpoint if non-empty.
func NewGitHubTags(ctx context.Context, project, org, repo, tagPattern, baseURL string) (*GitHubTags, error) {
	g := &GitHubTags{
		Project:      whey.NormalizeName(project),
		Organization: org,
		Repo:         repo,
		httpClient:   DefaultClient,
	}
	if tagPattern != "" {
		re, err := regexp.Compile(tagPattern)
		if err != nil {
			return nil, err
		}
		g.TagPattern = re
	}
	if tok := os.Getenv("GITHUB_TOKEN"); tok != "" {
		g.httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok}))
	}
	g.client = github.NewClient(g.httpClient)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, err
		}
		g.client.BaseURL = u
	}
	return g, nil
}

func (g *GitHubTags) String() string {
	return "github.com/" + g.Organization + "/" + g.Repo
}

func (g *GitHubTags) version(tag string) (string, bool) {
	if g.TagPattern == nil {
		return tag, true
	}
	m := g.TagPattern.FindStringSubmatch(tag)
	if m == nil || len(m) < 2 || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// Files lists one source archive per tag whose version is valid. Requests for
// other projects than g.Project yield nothing.
func (g *GitHubTags) Files(ctx context.Context, project string) ([]File, error) {
	if whey.NormalizeName(project) != g.Project {
		return nil, nil
	}
	var files []File
	opts := &github.ListOptions{PerPage: 100}
	for {
		tags, resp, err := g.client.Repositories.ListTags(ctx, g.Organization, g.Repo, opts)
		if err != nil {
			return nil, xerrors.Errorf("listing tags of %s: %w", g, err)
		}
		for _, tag := range tags {
			version, ok := g.version(tag.GetName())
			if !ok {
				continue
			}
			if _, err := whey.ParseVersion(version); err != nil {
				continue
			}
			files = append(files, File{
				Filename: whey.DistName(g.Project) + "-" + version + ".tar.gz",
				URL:      tag.GetTarballURL(),
				Version:  version,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return files, nil
}

func (g *GitHubTags) Open(ctx context.Context, f File) (io.ReadCloser, error) {
	h := &HTTP{Client: g.httpClient}
	_, body, err := h.get(ctx, f.URL, nil)
	return body, err
}
