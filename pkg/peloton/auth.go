package peloton

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/go-github/v66/github"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"pelotonsync/pkg/config"
)

// requiredScopes are the classic PAT scopes the synchronizer needs.
var requiredScopes = []string{"project", "repo", "read:org", "read:discussion"}

// scopeCovers lists broader scopes that imply a required one.
var scopeCovers = map[string][]string{
	"read:org":        {"write:org", "admin:org"},
	"read:discussion": {"write:discussion"},
}

// AuthManager handles GitHub authentication.
type AuthManager struct {
	client *github.Client
	token  string
}

// NewAuthManager creates a new authentication manager.
func NewAuthManager() *AuthManager {
	return &AuthManager{}
}

// GetToken retrieves the bearer credential: the GITHUB_TOKEN environment
// variable (a .env file is honoured) wins over the config file.
func (am *AuthManager) GetToken(cfg *config.Config) (string, error) {
	_ = godotenv.Load()

	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return strings.TrimSpace(token), nil
	}

	if cfg != nil && cfg.GitHub.Token != "" {
		return strings.TrimSpace(cfg.GitHub.Token), nil
	}

	return "", NewAPIError(ErrorTypeAuth,
		"no GitHub token found: set GITHUB_TOKEN or configure github.token in ~/.pelotonsync/config.yaml", nil)
}

// Authenticate sets up the GitHub client with the provided token.
func (am *AuthManager) Authenticate(token string) error {
	if token == "" {
		return NewAPIError(ErrorTypeAuth, "GitHub token cannot be empty", nil)
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(context.Background(), ts)

	am.client = github.NewClient(tc)
	am.token = token

	return nil
}

// TokenInfo contains information about the authenticated token.
type TokenInfo struct {
	User   string   `json:"user"`
	Scopes []string `json:"scopes"`
}

// ValidateToken validates the token and checks it carries the scopes the
// board mutations require. An invalid credential is fatal; the caller
// exits without retrying.
func (am *AuthManager) ValidateToken(ctx context.Context) (*TokenInfo, error) {
	if am.client == nil {
		return nil, NewAPIError(ErrorTypeAuth, "not authenticated: call Authenticate() first", nil)
	}

	user, resp, err := am.client.Users.Get(ctx, "")
	if err != nil {
		return nil, WrapAPIError(err, "token validation")
	}

	scopes := []string{}
	if scopeHeader := resp.Header.Get("X-OAuth-Scopes"); scopeHeader != "" {
		scopes = strings.Split(strings.ReplaceAll(scopeHeader, " ", ""), ",")
	}

	tokenInfo := &TokenInfo{
		User:   user.GetLogin(),
		Scopes: scopes,
	}

	if err := validateScopes(tokenInfo.Scopes); err != nil {
		return tokenInfo, err
	}

	return tokenInfo, nil
}

func validateScopes(scopes []string) error {
	scopeMap := make(map[string]bool)
	for _, scope := range scopes {
		scopeMap[scope] = true
	}

	var missing []string
	for _, required := range requiredScopes {
		if scopeMap[required] {
			continue
		}
		covered := false
		for _, broader := range scopeCovers[required] {
			if scopeMap[broader] {
				covered = true
				break
			}
		}
		if !covered {
			missing = append(missing, required)
		}
	}

	if len(missing) > 0 {
		return NewAPIError(ErrorTypeAuth,
			fmt.Sprintf("GitHub token missing required scopes: %s (needs: %s)",
				strings.Join(missing, ", "), strings.Join(requiredScopes, ", ")), nil)
	}

	return nil
}

// AuthenticateFromConfig handles the full authentication flow.
func (am *AuthManager) AuthenticateFromConfig(ctx context.Context, cfg *config.Config) (*TokenInfo, error) {
	token, err := am.GetToken(cfg)
	if err != nil {
		return nil, err
	}

	if err := am.Authenticate(token); err != nil {
		return nil, err
	}

	return am.ValidateToken(ctx)
}

// Token returns the validated credential for building the sync client.
func (am *AuthManager) Token() string {
	return am.token
}

// GetAuthInstructions returns instructions for setting up authentication.
func GetAuthInstructions() string {
	return `GitHub authentication is required. Set it up with one of:

1. Environment variable (recommended for CI/CD):
   export GITHUB_TOKEN="your_personal_access_token"
   (a .env file in the working directory is also honoured)

2. Configuration file (~/.pelotonsync/config.yaml):

   github:
     token: "your_personal_access_token"

The token must be a classic personal access token with these scopes:
project, repo, read:org, read:discussion.`
}
