package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFile creates a file in dir and returns its path
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		tmpDir := t.TempDir()
		userFile := writeFile(t, tmpDir, "user", "alice")
		passFile := writeFile(t, tmpDir, "pass", "secret")
		tokenFile := writeFile(t, tmpDir, "token", "abc123")

		configContent := `
feeds:
  - name: rss
    path: docs
    upstream: https://example.com/feed.xml
    authType: Basic
    usernameFile: ` + userFile + `
    passwordFile: ` + passFile + `
    comment: private docs
  - name: news
    upstream: https://example.com/news.xml
    authType: Token
    tokenFile: ` + tokenFile + `
  - name: /open/
    path: /
    upstream: http://example.com/open.xml
`
		configPath := writeFile(t, tmpDir, "feeds.yaml", configContent)

		fl, err := Load(configPath)
		require.NoError(t, err)
		require.Len(t, fl.Feeds, 3)

		assert.Equal(t, "rss", fl.Feeds[0].Name)
		assert.Equal(t, "/docs/rss", fl.Feeds[0].FullPath())
		assert.Equal(t, AuthBasic, fl.Feeds[0].AuthType)
		assert.Equal(t, "Basic YWxpY2U6c2VjcmV0", fl.Feeds[0].AuthorizationHeader())
		assert.Equal(t, "private docs", fl.Feeds[0].Comment)

		assert.Equal(t, "/news", fl.Feeds[1].FullPath())
		assert.Equal(t, "Bearer", fl.Feeds[1].TokenPrefix)
		assert.Equal(t, "Bearer abc123", fl.Feeds[1].AuthorizationHeader())

		assert.Equal(t, "/open", fl.Feeds[2].FullPath())
		assert.Equal(t, AuthNone, fl.Feeds[2].AuthType)
		assert.Empty(t, fl.Feeds[2].AuthorizationHeader())
	})

	t.Run("defaults", func(t *testing.T) {
		configPath := writeFile(t, t.TempDir(), "feeds.yaml", `
feeds:
  - name: rss
    upstream: https://example.com/feed.xml
`)
		fl, err := Load(configPath)
		require.NoError(t, err)
		require.Len(t, fl.Feeds, 1)
		assert.Equal(t, "/", fl.Feeds[0].Path)
		assert.Equal(t, "/", fl.Feeds[0].SanitizedPath())
		assert.Equal(t, "Bearer", fl.Feeds[0].TokenPrefix)
		assert.False(t, fl.Feeds[0].TrimSecrets)
	})

	t.Run("env expansion", func(t *testing.T) {
		t.Setenv("FEEDPROXY_TEST_HOST", "feeds.example.com")
		configPath := writeFile(t, t.TempDir(), "feeds.yaml", `
feeds:
  - name: rss
    upstream: https://${FEEDPROXY_TEST_HOST}/feed.xml
`)
		fl, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, "https://feeds.example.com/feed.xml", fl.Feeds[0].Upstream)
	})

	t.Run("double dollar is a literal dollar", func(t *testing.T) {
		t.Setenv("sig", "expanded")
		configPath := writeFile(t, t.TempDir(), "feeds.yaml", `
feeds:
  - name: rss
    upstream: https://example.com/feed.xml?sig=$$sig&price=$$5
`)
		fl, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/feed.xml?sig=$sig&price=$5", fl.Feeds[0].Upstream)
	})

	t.Run("missing upstream fails schema", func(t *testing.T) {
		configPath := writeFile(t, t.TempDir(), "feeds.yaml", `
feeds:
  - name: rss
    comment: no upstream here
`)
		fl, err := Load(configPath)
		require.Error(t, err)
		assert.Nil(t, fl)
		assert.Contains(t, err.Error(), "verify schema: feeds[0].upstream is required")
	})

	t.Run("file not found", func(t *testing.T) {
		fl, err := Load("/non/existent/file.yml")
		require.Error(t, err)
		assert.Nil(t, fl)
		assert.Contains(t, err.Error(), "read config file")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		configPath := writeFile(t, t.TempDir(), "invalid.yml", `
invalid yaml content
  with bad indentation
    and no structure
`)
		fl, err := Load(configPath)
		require.Error(t, err)
		assert.Nil(t, fl)
		assert.Contains(t, err.Error(), "parse config")
	})

	t.Run("empty file", func(t *testing.T) {
		configPath := writeFile(t, t.TempDir(), "empty.yml", "")
		_, err := Load(configPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config")
	})

	t.Run("unknown field", func(t *testing.T) {
		configPath := writeFile(t, t.TempDir(), "feeds.yaml", `
feeds:
  - name: rss
    upstream: https://example.com/feed.xml
    upstreem: typo
`)
		_, err := Load(configPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config")
	})

	t.Run("wrong type", func(t *testing.T) {
		configPath := writeFile(t, t.TempDir(), "feeds.yaml", `
feeds:
  - name: [a, b]
    upstream: https://example.com/feed.xml
`)
		_, err := Load(configPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config")
	})

	t.Run("unknown auth type", func(t *testing.T) {
		configPath := writeFile(t, t.TempDir(), "feeds.yaml", `
feeds:
  - name: rss
    upstream: https://example.com/feed.xml
    authType: Digest
`)
		_, err := Load(configPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown auth type")
	})

	t.Run("missing secret file fails at load", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := writeFile(t, tmpDir, "feeds.yaml", `
feeds:
  - name: open
    upstream: https://example.com/open.xml
  - name: never-requested
    upstream: https://example.com/feed.xml
    authType: Token
    tokenFile: `+filepath.Join(tmpDir, "missing-token")+`
`)
		fl, err := Load(configPath)
		require.Error(t, err)
		assert.Nil(t, fl)
		assert.Contains(t, err.Error(), "resolve credentials")
		assert.Contains(t, err.Error(), "token file")
		assert.Contains(t, err.Error(), "does not exist")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		feeds  []Feed
		errMsg string
	}{
		{name: "no feeds", feeds: nil, errMsg: "at least one feed is required"},
		{name: "missing name", feeds: []Feed{{Upstream: "https://example.com"}}, errMsg: "feeds[0].name is required"},
		{name: "slash only name", feeds: []Feed{{Name: "//", Upstream: "https://example.com"}},
			errMsg: "feeds[0].name is required"},
		{name: "missing upstream", feeds: []Feed{{Name: "rss"}}, errMsg: "feeds[0].upstream must be an absolute http(s) url"},
		{name: "slash only path", feeds: []Feed{{Name: "rss", Path: "///", Upstream: "https://example.com"}},
			errMsg: `feeds[0].path "///" has no characters besides slashes`},
		{name: "root ping is reserved", feeds: []Feed{{Name: "ping", Upstream: "https://example.com"}},
			errMsg: "feeds[0]: /ping is reserved by the proxy"},
		{name: "root ping with slashes is reserved", feeds: []Feed{{Name: "/ping/", Path: "/", Upstream: "https://example.com"}},
			errMsg: "/ping is reserved"},
		{name: "relative upstream", feeds: []Feed{{Name: "rss", Upstream: "/feed.xml"}},
			errMsg: "must be an absolute http(s) url"},
		{name: "ftp upstream", feeds: []Feed{{Name: "rss", Upstream: "ftp://example.com/feed.xml"}},
			errMsg: "must be an absolute http(s) url"},
		{name: "pattern chars in name", feeds: []Feed{{Name: "{id}", Upstream: "https://example.com"}},
			errMsg: "invalid characters"},
		{name: "basic without password", feeds: []Feed{{Name: "rss", Upstream: "https://example.com",
			AuthType: AuthBasic, UsernameFile: "/tmp/u"}}, errMsg: "usernameFile and passwordFile are required"},
		{name: "token without file", feeds: []Feed{{Name: "rss", Upstream: "https://example.com", AuthType: AuthToken}},
			errMsg: "tokenFile is required"},
		{name: "duplicate full path", feeds: []Feed{
			{Name: "rss", Path: "docs", Upstream: "https://example.com/1"},
			{Name: "/rss/", Path: "/docs/", Upstream: "https://example.com/2"},
		}, errMsg: "feeds[0] and feeds[1] both map to /docs/rss"},
		{name: "valid", feeds: []Feed{
			{Name: "rss", Path: "docs", Upstream: "https://example.com/1"},
			{Name: "rss", Path: "blog", Upstream: "https://example.com/2"},
		}},
		{name: "ping under a prefix is a regular feed", feeds: []Feed{
			{Name: "ping", Path: "status", Upstream: "https://example.com/1"},
			{Name: "Ping", Upstream: "https://example.com/2"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(&FeedList{Feeds: tt.feeds})
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestFeed_SanitizedPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"docs", "/docs/"},
		{"/docs", "/docs/"},
		{"docs/", "/docs/"},
		{"/docs/", "/docs/"},
		{"a/b/c", "/a/b/c/"},
		{"///a/b///", "/a/b/"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := Feed{Path: tt.path}.SanitizedPath()
			assert.Equal(t, tt.want, got)
			assert.True(t, strings.HasPrefix(got, "/"))
			assert.True(t, strings.HasSuffix(got, "/"))
		})
	}
}

func TestFeed_FullPath(t *testing.T) {
	assert.Equal(t, "/docs/rss", Feed{Path: "docs", Name: "rss"}.FullPath())
	assert.Equal(t, "/rss", Feed{Path: "/", Name: "rss"}.FullPath())
	assert.Equal(t, "/rss", Feed{Name: "/rss/"}.FullPath())
	assert.Equal(t, "/a/b/feed.xml", Feed{Path: "/a/b/", Name: "feed.xml"}.FullPath())
	assert.Equal(t, "feed.xml", Feed{Name: "/feed.xml"}.RouteName())
}

func TestFeedList_Groups(t *testing.T) {
	fl := &FeedList{Feeds: []Feed{
		{Name: "a", Path: "docs"},
		{Name: "b"},
		{Name: "c", Path: "/docs/"},
		{Name: "d", Path: "blog"},
	}}

	groups := fl.Groups()
	require.Len(t, groups, 3)

	assert.Equal(t, "/docs/", groups[0].Path)
	require.Len(t, groups[0].Feeds, 2)
	assert.Equal(t, "a", groups[0].Feeds[0].Name)
	assert.Equal(t, "c", groups[0].Feeds[1].Name)

	assert.Equal(t, "/", groups[1].Path)
	require.Len(t, groups[1].Feeds, 1)
	assert.Equal(t, "b", groups[1].Feeds[0].Name)

	assert.Equal(t, "/blog/", groups[2].Path)
}

func TestFeedList_Secrets(t *testing.T) {
	fl := &FeedList{Feeds: []Feed{
		{Name: "a", secrets: []string{"secret\n", "Basic xyz"}},
		{Name: "b"},
		{Name: "c", secrets: []string{"secret", "  ", "tok"}},
	}}
	assert.Equal(t, []string{"secret", "Basic xyz", "tok"}, fl.Secrets())
}
