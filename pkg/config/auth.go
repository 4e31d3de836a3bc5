package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// resolveConcurrency limits how many feeds read their secret files at once
const resolveConcurrency = 4

// AuthType defines how credentials are attached to upstream requests
type AuthType string

// supported auth types, empty means no authorization header
const (
	AuthNone  AuthType = ""
	AuthBasic AuthType = "Basic"
	AuthToken AuthType = "Token"
)

// ParseAuthType converts a string to AuthType, case-insensitive
func ParseAuthType(s string) (AuthType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return AuthNone, nil
	case "basic":
		return AuthBasic, nil
	case "token":
		return AuthToken, nil
	default:
		return AuthNone, fmt.Errorf("unknown auth type %q, expected Basic or Token", s)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler
func (a *AuthType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("auth type: %w", err)
	}
	t, err := ParseAuthType(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*a = t
	return nil
}

// String returns auth type name, "None" for empty
func (a AuthType) String() string {
	if a == AuthNone {
		return "None"
	}
	return string(a)
}

// resolve builds authorization headers for all feeds concurrently.
// Secret files are read exactly once here, request handling never touches the filesystem.
func (fl *FeedList) resolve() error {
	var g errgroup.Group
	g.SetLimit(resolveConcurrency)
	for i := range fl.Feeds {
		f := &fl.Feeds[i]
		g.Go(func() error {
			if err := f.resolveAuth(); err != nil {
				return fmt.Errorf("feed %s: %w", f.FullPath(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (f *Feed) resolveAuth() error {
	switch f.AuthType {
	case AuthNone:
		return nil

	case AuthBasic:
		// both files checked before anything is read
		if err := secretExists("username", f.UsernameFile); err != nil {
			return err
		}
		if err := secretExists("password", f.PasswordFile); err != nil {
			return err
		}
		username, err := f.readSecret(f.UsernameFile)
		if err != nil {
			return err
		}
		password, err := f.readSecret(f.PasswordFile)
		if err != nil {
			return err
		}
		f.authHeader = "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
		// usernames are often common words, masking them would garble unrelated log lines
		f.secrets = []string{password, f.authHeader}
		return nil

	case AuthToken:
		if err := secretExists("token", f.TokenFile); err != nil {
			return err
		}
		token, err := f.readSecret(f.TokenFile)
		if err != nil {
			return err
		}
		f.authHeader = f.TokenPrefix + " " + token
		f.secrets = []string{token}
		return nil
	}

	return fmt.Errorf("unsupported auth type %s", f.AuthType)
}

// readSecret returns file contents as is, unless TrimSecrets is set
func (f *Feed) readSecret(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // secret file path comes from config
	if err != nil {
		return "", fmt.Errorf("read secret file %s: %w", path, err)
	}
	secret := string(data)
	if f.TrimSecrets {
		return strings.TrimSpace(secret), nil
	}
	if strings.HasSuffix(secret, "\n") {
		log.Printf("[WARN] secret file %s for feed %s ends with a newline, it is sent as is (set trimSecrets to strip it)",
			path, f.FullPath())
	}
	return secret, nil
}

func secretExists(kind, path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s file %s does not exist", kind, path)
		}
		return fmt.Errorf("check %s file %s: %w", kind, path, err)
	}
	return nil
}
