// Package identity resolves the credential presented when a chat connection
// is opened into the Identity the connection speaks as.
//
// Resolution never rejects a connection. A missing credential yields a guest
// without any external call. A credential that fails verification, for any
// reason, also yields a guest; the failure is logged and counted. Only
// message deletion depends on holding an authenticated identity.
package identity
