// Package credential obtains identity tokens from the platform Apple and
// Google sign-in sheets and exchanges them for backend sessions.
//
// The sheets themselves sit behind NativeSignIn. Acquirers translate their
// structured status codes into autherr kinds: a dismissed sheet or a
// cancelled context is Cancelled, a success without a token is
// MissingCredential.
package credential
