// Package screens implements the three screens of the VENT auth flow as
// terminal views: the public entry, the second-factor challenge and home.
//
// Screens hold only ephemeral form state. Everything they show about the
// signed-in user comes from the auth state store, and every navigation they
// cause goes through a navigation.Navigator. Each screen declares
// guard.Requirements; mounting a screen whose requirements are not met
// redirects instead of rendering.
//
// Errors returned by acquirers and the OTP gateway are turned into screen
// text with autherr.UserMessage. Cancellations render nothing.
package screens
