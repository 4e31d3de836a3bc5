package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

const defaultTokenPrefix = "Bearer"

// invalidRouteChars can't appear in feed names or paths, they would be read as mux pattern syntax
const invalidRouteChars = "{}\t\n\r "

// reservedPaths are served by the proxy itself and can't be used as feed full paths
var reservedPaths = []string{"/ping"}

// FeedList holds the parsed feed configuration
type FeedList struct {
	Feeds []Feed `yaml:"feeds" json:"feeds" jsonschema:"minItems=1,description=Feeds exposed by the proxy"`
}

// Feed is a single proxied endpoint. Feed is immutable after Load, the authorization
// header is resolved once and cached for the lifetime of the process.
type Feed struct {
	Name         string   `yaml:"name" json:"name" jsonschema:"description=Final path segment exposed by the proxy"`
	Path         string   `yaml:"path" json:"path,omitempty" jsonschema:"default=/,description=Path prefix the feed is mounted under"`
	Upstream     string   `yaml:"upstream" json:"upstream" jsonschema:"format=uri,description=Absolute URL of the upstream feed"`
	AuthType     AuthType `yaml:"authType" json:"authType,omitempty" jsonschema:"enum=Basic,enum=Token,description=Authentication scheme used for the upstream"`
	UsernameFile string   `yaml:"usernameFile" json:"usernameFile,omitempty" jsonschema:"description=File with the username (Basic auth)"`
	PasswordFile string   `yaml:"passwordFile" json:"passwordFile,omitempty" jsonschema:"description=File with the password (Basic auth)"`
	TokenFile    string   `yaml:"tokenFile" json:"tokenFile,omitempty" jsonschema:"description=File with the token (Token auth)"`
	TokenPrefix  string   `yaml:"tokenPrefix" json:"tokenPrefix,omitempty" jsonschema:"default=Bearer,description=Prefix placed before the token"`
	Comment      string   `yaml:"comment" json:"comment,omitempty" jsonschema:"description=Free text shown on the index page"`
	TrimSecrets  bool     `yaml:"trimSecrets" json:"trimSecrets,omitempty" jsonschema:"default=false,description=Trim surrounding whitespace from secret files"`

	authHeader string
	secrets    []string
}

// Group is a set of feeds sharing the same sanitized path
type Group struct {
	Path  string
	Feeds []Feed
}

// Load reads feed configuration from a YAML file, validates it and resolves
// credentials for every feed. Any error here is a configuration error.
func Load(path string) (*FeedList, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables, $$ stands for a literal $
	expanded := os.Expand(string(data), func(key string) string {
		if key == "$" {
			return "$"
		}
		return os.Getenv(key)
	})

	var fl FeedList
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&fl); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config: empty document")
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}

	for i := range fl.Feeds {
		if fl.Feeds[i].Path == "" {
			fl.Feeds[i].Path = "/"
		}
		if fl.Feeds[i].TokenPrefix == "" {
			fl.Feeds[i].TokenPrefix = defaultTokenPrefix
		}
	}

	// required fields and enums come from the embedded schema, validate covers the rest
	if err := VerifyAgainstEmbeddedSchema(&fl); err != nil {
		return nil, fmt.Errorf("verify schema: %w", err)
	}

	if err := validate(&fl); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if err := fl.resolve(); err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}

	return &fl, nil
}

// validate checks feeds for correctness, including uniqueness of full paths
func validate(fl *FeedList) error {
	if len(fl.Feeds) == 0 {
		return errors.New("at least one feed is required")
	}

	seen := make(map[string]int, len(fl.Feeds))
	for i, f := range fl.Feeds {
		if strings.Trim(f.Name, "/") == "" {
			return fmt.Errorf("feeds[%d].name is required", i)
		}
		if f.Path != "" && f.Path != "/" && strings.Trim(f.Path, "/") == "" {
			return fmt.Errorf("feeds[%d].path %q has no characters besides slashes, use / for the root", i, f.Path)
		}
		if strings.ContainsAny(f.Name, invalidRouteChars) || strings.ContainsAny(f.Path, invalidRouteChars) {
			return fmt.Errorf("feeds[%d] has invalid characters in name or path", i)
		}
		u, err := url.Parse(f.Upstream)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("feeds[%d].upstream must be an absolute http(s) url, got %q", i, f.Upstream)
		}

		switch f.AuthType {
		case AuthBasic:
			if f.UsernameFile == "" || f.PasswordFile == "" {
				return fmt.Errorf("feeds[%d]: usernameFile and passwordFile are required for %s auth", i, f.AuthType)
			}
		case AuthToken:
			if f.TokenFile == "" {
				return fmt.Errorf("feeds[%d]: tokenFile is required for %s auth", i, f.AuthType)
			}
		}

		full := f.FullPath()
		if slices.Contains(reservedPaths, full) {
			return fmt.Errorf("feeds[%d]: %s is reserved by the proxy", i, full)
		}
		if prev, ok := seen[full]; ok {
			return fmt.Errorf("feeds[%d] and feeds[%d] both map to %s", prev, i, full)
		}
		seen[full] = i
	}
	return nil
}

// SanitizedPath returns the route prefix of the feed, always starting and ending with "/"
func (f Feed) SanitizedPath() string {
	if f.Path == "" || f.Path == "/" {
		return "/"
	}
	return "/" + strings.Trim(f.Path, "/") + "/"
}

// FullPath returns the path the feed is served on
func (f Feed) FullPath() string {
	return f.SanitizedPath() + strings.Trim(f.Name, "/")
}

// RouteName returns the feed name without surrounding slashes
func (f Feed) RouteName() string {
	return strings.Trim(f.Name, "/")
}

// AuthorizationHeader returns the resolved value of the Authorization header, empty for feeds without auth
func (f Feed) AuthorizationHeader() string {
	return f.authHeader
}

// Groups returns feeds grouped by sanitized path, groups and feeds keep the file order
func (fl *FeedList) Groups() []Group {
	var groups []Group
	idx := map[string]int{}
	for _, f := range fl.Feeds {
		p := f.SanitizedPath()
		i, ok := idx[p]
		if !ok {
			i = len(groups)
			idx[p] = i
			groups = append(groups, Group{Path: p})
		}
		groups[i].Feeds = append(groups[i].Feeds, f)
	}
	return groups
}

// Secrets returns resolved passwords, tokens and authorization headers, used to mask them in logs
func (fl *FeedList) Secrets() []string {
	var res []string
	seen := map[string]bool{}
	for _, f := range fl.Feeds {
		for _, s := range f.secrets {
			s = strings.TrimSpace(s)
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			res = append(res, s)
		}
	}
	return res
}
