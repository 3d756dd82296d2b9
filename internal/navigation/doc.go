// Package navigation names the screen groups and routes of the app and
// provides the Navigator surface the auth layer redirects through.
//
// Routes are grouped by their first path segment: (public) for the sign-in
// entry, (auth) for the second-factor challenge and (app) for the signed-in
// app.
package navigation
