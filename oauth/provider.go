package oauth

import (
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// Identity is what a provider says about the signed-in user.
type Identity struct {
	ProviderUserID string
	Email          string
	Name           string
	EmailVerified  bool
}

// Provider is one configured OAuth2 identity provider.
type Provider struct {
	Name        string
	Config      oauth2.Config
	UserInfoURL string
	// EmailsURL, when set, is queried for the verified primary address.
	EmailsURL string
	// Decode turns the user info body into an Identity.
	Decode func(body []byte) (*Identity, error)
}

// Google returns a provider using Google's endpoints and OpenID userinfo.
func Google(clientID, clientSecret, redirectURL string) Provider {
	return Provider{
		Name: "google",
		Config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		Decode:      DecodeGoogleUser,
	}
}

// GitHub returns a provider using GitHub's endpoints. GitHub may hide the
// profile e-mail, so the verified primary address comes from /user/emails.
func GitHub(clientID, clientSecret, redirectURL string) Provider {
	return Provider{
		Name: "github",
		Config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     github.Endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		UserInfoURL: "https://api.github.com/user",
		EmailsURL:   "https://api.github.com/user/emails",
		Decode:      DecodeGitHubUser,
	}
}

var errMissingSubject = errors.New("provider returned no user id")

// DecodeGoogleUser parses an OpenID Connect userinfo document.
func DecodeGoogleUser(body []byte) (*Identity, error) {
	var u struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, err
	}
	if u.Sub == "" {
		return nil, errMissingSubject
	}
	return &Identity{
		ProviderUserID: u.Sub,
		Email:          strings.ToLower(strings.TrimSpace(u.Email)),
		Name:           u.Name,
		EmailVerified:  u.EmailVerified,
	}, nil
}

// DecodeGitHubUser parses GET /user. The profile e-mail is never treated as
// verified.
func DecodeGitHubUser(body []byte) (*Identity, error) {
	var u struct {
		ID    json.Number `json:"id"`
		Login string      `json:"login"`
		Name  string      `json:"name"`
		Email string      `json:"email"`
	}
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, errMissingSubject
	}
	name := u.Name
	if name == "" {
		name = u.Login
	}
	return &Identity{
		ProviderUserID: u.ID.String(),
		Email:          strings.ToLower(strings.TrimSpace(u.Email)),
		Name:           name,
	}, nil
}

type emailEntry struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// primaryVerified picks the primary verified address from a GitHub-style
// e-mail list.
func primaryVerified(body []byte) (string, bool, error) {
	var list []emailEntry
	if err := json.Unmarshal(body, &list); err != nil {
		return "", false, err
	}
	for _, e := range list {
		if e.Primary && e.Verified {
			return strings.ToLower(strings.TrimSpace(e.Email)), true, nil
		}
	}
	return "", false, nil
}
