// Package credentials implements the per-account OAuth2 credential manager.
//
// The Manager is the only component that writes credential records. It keeps
// a per-account in-memory cache in front of a durable Store, serves usable
// credentials without I/O, refreshes expired ones against the provider
// (at most one refresh in flight per account, shared by all waiters), and
// purges credentials the provider rejects.
//
// Front-ends obtain credentials through Manager.Credential or
// Manager.TokenSource and never touch the Store directly.
package credentials
