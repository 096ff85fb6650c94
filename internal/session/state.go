// Package session owns the process-wide authentication state. All mutations go
// through a Machine so that concurrent flows see atomic transitions.
package session

import (
	"net/url"

	"verichat/internal/identity"
)

// State is a snapshot of the authentication state. IsAuthenticated is true
// exactly when User is non-nil.
type State struct {
	IsAuthenticated    bool                  `json:"isAuthenticated"`
	IsInitializing     bool                  `json:"isInitializing"`
	IsMfaSetup         bool                  `json:"isMfaSetup"`
	User               *identity.UserSession `json:"user"`
	IsLoading          bool                  `json:"isLoading"`
	NeedsUsernameSetup bool                  `json:"needsUsernameSetup"`
	MfaModalDismissed  bool                  `json:"mfaModalDismissed"`
	// Username is the locally chosen display name, if any.
	Username string `json:"username,omitempty"`
	// Avatar is the locally chosen avatar URL, if any.
	Avatar string `json:"avatar,omitempty"`
}

// MfaPending reports whether the MFA prompt should be shown.
func (s State) MfaPending() bool {
	return s.IsAuthenticated && !s.IsMfaSetup && !s.MfaModalDismissed
}

func (s State) UsernamePending() bool {
	return s.IsAuthenticated && s.NeedsUsernameSetup
}

// DisplayName prefers the local override over the identity service name and
// falls back to the email address.
func (s State) DisplayName() string {
	if s.User == nil {
		return ""
	}
	switch {
	case s.Username != "":
		return s.Username
	case s.User.DisplayName != "":
		return s.User.DisplayName
	default:
		return s.User.Email
	}
}

// AvatarURL returns the chosen avatar or a generated initials image named
// after the local username, the email or the user id, in that order.
func (s State) AvatarURL() string {
	if s.User == nil {
		return ""
	}
	if s.Avatar != "" {
		return s.Avatar
	}
	name := s.Username
	if name == "" {
		name = s.User.Email
	}
	if name == "" {
		name = s.User.UserID
	}
	q := url.Values{}
	q.Set("name", name)
	q.Set("size", "150")
	q.Set("background", "6366f1")
	q.Set("color", "ffffff")
	return "https://ui-avatars.com/api/?" + q.Encode()
}

func (s State) clone() State {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// UserPatch carries a local, partial update of the signed-in user.
type UserPatch struct {
	Email       *string `json:"email,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
}

// View is the JSON shape handed to the UI: the state plus its derived flags.
type View struct {
	State
	MfaPending      bool   `json:"mfaPending"`
	UsernamePending bool   `json:"usernamePending"`
	DisplayName     string `json:"displayName,omitempty"`
	AvatarURL       string `json:"avatarUrl,omitempty"`
}

func (s State) View() View {
	return View{
		State:           s,
		MfaPending:      s.MfaPending(),
		UsernamePending: s.UsernamePending(),
		DisplayName:     s.DisplayName(),
		AvatarURL:       s.AvatarURL(),
	}
}
