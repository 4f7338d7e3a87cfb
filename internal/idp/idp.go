// Package idp implements a mock OAuth2 identity provider for local
// development and integration tests. It speaks just enough of the
// authorization-code flow for Airlock's login: an authorize endpoint that
// immediately issues a code for a fixture user, a token endpoint, and a
// userinfo endpoint. Nothing here is intended to face the internet.
package idp

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/airlock-platform/airlock/internal/httperr"
)

// codeTTL bounds how long an issued authorization code stays redeemable.
const codeTTL = 10 * time.Minute

// User is a fixture identity.
type User struct {
	Sub      string   `json:"sub"`
	Username string   `json:"preferred_username"`
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Roles    []string `json:"roles"`
}

// FixtureUsers are the identities the mock IdP can log in, keyed by username.
// One per interesting role combination.
var FixtureUsers = map[string]User{
	"submitter": {
		Sub: "mock-submitter", Username: "submitter", Email: "submitter@example.com",
		Name: "Sam Submitter", Roles: []string{"submitter"},
	},
	"reviewer": {
		Sub: "mock-reviewer", Username: "reviewer", Email: "reviewer@example.com",
		Name: "Rae Reviewer", Roles: []string{"submitter", "reviewer"},
	},
	"admin": {
		Sub: "mock-admin", Username: "admin", Email: "admin@example.com",
		Name: "Ada Admin", Roles: []string{"submitter", "admin"},
	},
	"reviewer-admin": {
		Sub: "mock-reviewer-admin", Username: "reviewer-admin", Email: "reviewer-admin@example.com",
		Name: "Ria Reviewer-Admin", Roles: []string{"submitter", "reviewer", "admin"},
	},
}

type issuedCode struct {
	username  string
	createdAt time.Time
}

// Server is the mock IdP state: outstanding codes and access tokens.
type Server struct {
	mu     sync.Mutex
	codes  map[string]issuedCode
	tokens map[string]string // access token -> username
	now    func() time.Time
}

// NewServer returns an empty mock IdP.
func NewServer() *Server {
	return &Server{
		codes:  make(map[string]issuedCode),
		tokens: make(map[string]string),
		now:    time.Now,
	}
}

// Routes mounts the OAuth endpoints on r.
func (s *Server) Routes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "mockidp"})
	})
	r.GET("/oauth/authorize", s.authorize)
	r.POST("/oauth/token", s.token)
	r.GET("/oauth/userinfo", s.userinfo)
}

func randomToken() string {
	raw := make([]byte, 24)
	rand.Read(raw)
	return hex.EncodeToString(raw)
}

// authorize immediately redirects back with an authorization code. The
// fixture identity is chosen with ?as=<username>; the default is submitter.
// A real IdP would show a login page here.
func (s *Server) authorize(c *gin.Context) {
	redirectURI := c.Query("redirect_uri")
	if redirectURI == "" {
		httperr.Respond(c, httperr.CodeInvalidRequest, "redirect_uri is required")
		return
	}
	target, err := url.Parse(redirectURI)
	if err != nil {
		httperr.Respond(c, httperr.CodeInvalidRequest, "redirect_uri is not a valid URL")
		return
	}

	username := c.Query("login_hint")
	if username == "" {
		username = c.DefaultQuery("as", "submitter")
	}
	if _, ok := FixtureUsers[username]; !ok {
		httperr.Respond(c, httperr.CodeNotFound, "unknown fixture user: "+username)
		return
	}

	code := randomToken()
	s.mu.Lock()
	s.codes[code] = issuedCode{username: username, createdAt: s.now()}
	s.mu.Unlock()

	q := target.Query()
	q.Set("code", code)
	if state := c.Query("state"); state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, target.String())
}

// token redeems an authorization code for an access token. Codes are single
// use and expire after codeTTL. OAuth error responses use the standard
// error field since the caller here is an oauth2 client library, not an
// Airlock client.
func (s *Server) token(c *gin.Context) {
	grantType := c.PostForm("grant_type")
	if grantType != "authorization_code" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type"})
		return
	}
	code := c.PostForm("code")

	s.mu.Lock()
	issued, ok := s.codes[code]
	delete(s.codes, code)
	var accessToken string
	if ok && s.now().Sub(issued.createdAt) <= codeTTL {
		accessToken = randomToken()
		s.tokens[accessToken] = issued.username
	} else {
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

// userinfo returns the fixture profile for a bearer token.
func (s *Server) userinfo(c *gin.Context) {
	const bearer = "Bearer "
	header := c.GetHeader("Authorization")
	if len(header) <= len(bearer) || header[:len(bearer)] != bearer {
		httperr.Respond(c, httperr.CodeUnauthorized, "Bearer token required")
		return
	}

	s.mu.Lock()
	username, ok := s.tokens[header[len(bearer):]]
	s.mu.Unlock()
	if !ok {
		httperr.Respond(c, httperr.CodeUnauthorized, "Unknown access token")
		return
	}

	c.JSON(http.StatusOK, FixtureUsers[username])
}
