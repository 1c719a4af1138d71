// Package portal holds the login state machine shared by every portal family
// along with the types their workflows return.
package portal

import (
	"context"
	"errors"
	"strings"

	"portalwatch-backend/internal/browser"
)

var (
	// ErrAuthentication means the portal rejected the credentials.
	ErrAuthentication = errors.New("authentication failed")
	// ErrLocatorExhausted means no strategy found a required element.
	ErrLocatorExhausted = errors.New("no locator strategy matched")
	// ErrNavigation means a page did not load in time.
	ErrNavigation = errors.New("navigation failed")
)

// Family groups portals that share a workflow.
type Family string

const (
	FamilyRHID     Family = "rhid"
	FamilyDoctorID Family = "doctorid"
)

// Credential is a portal login read once at startup.
type Credential struct {
	Key      string
	Family   Family
	Username string
	Password string
}

// Complete reports whether both username and password are set.
func (c Credential) Complete() bool {
	return c.Username != "" && c.Password != ""
}

// EnvPrefix is the prefix of the environment variables holding the
// credential of key, "coop-vitta" reads COOP_VITTA_USERNAME and COOP_VITTA_PASSWORD.
func EnvPrefix(key string) string {
	return strings.ReplaceAll(strings.ToUpper(key), "-", "_")
}

type Cookie = browser.Cookie

// Result is the outcome of a portal check.
type Result struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Cookies []Cookie `json:"-"`
	Data    any      `json:"data"`
}

// Checker runs a complete check against one portal.
type Checker interface {
	Check(ctx context.Context, cred Credential) (Result, error)
}

// PageFactory opens a fresh page, every check owns its page and closes it.
type PageFactory func(ctx context.Context) (browser.Page, error)
