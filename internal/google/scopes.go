package google

// DefaultOAuthScopes are the scopes requested for every Workspace account.
//
// The scopes provide access to:
//   - Identity: openid, email, profile (required for the identity lookup)
//   - Gmail: read, modify, send, labels, settings
//   - Google Calendar: full access
//   - Google Drive: full access
//   - Google Docs and Sheets: full access
//   - Contacts: read-only
var DefaultOAuthScopes = []string{
	// OpenID Connect scopes (required for user info)
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",

	// Gmail scopes
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/gmail.labels",
	"https://www.googleapis.com/auth/gmail.settings.basic",

	// Google Calendar scopes
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/calendar.events",

	// Google Drive scopes
	"https://www.googleapis.com/auth/drive",
	"https://www.googleapis.com/auth/drive.file",

	// Google Docs and Sheets scopes
	"https://www.googleapis.com/auth/documents",
	"https://www.googleapis.com/auth/documents.readonly",
	"https://www.googleapis.com/auth/spreadsheets",

	// Contacts scope
	"https://www.googleapis.com/auth/contacts.readonly",
}
