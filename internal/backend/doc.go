// Package backend is the client side of the hosted auth service.
//
// # Overview
//
// The auth service is a GoTrue-compatible REST API (Supabase Auth). This
// package owns everything that crosses that boundary:
//
//   - Session and User: the service's JSON shapes, decoded once here.
//   - Event: a closed set of session lifecycle notifications (SIGNED_IN,
//     SIGNED_OUT, TOKEN_REFRESHED, USER_UPDATED, INITIAL_SESSION). Raw
//     payloads never leave this package; subscribers receive Event values.
//   - Client: the operations the rest of the app may call.
//   - HTTPClient: the production Client. It persists the session in a
//     securestore.Store, emits events after every session change, and can
//     refresh tokens in the background while the app is in the foreground.
//
// # Endpoints
//
//	POST /token?grant_type=id_token       SignInWithIDToken
//	POST /token?grant_type=refresh_token  RefreshSession, auto refresh
//	POST /otp                             SignInWithOTP
//	POST /verify                          VerifyOTP
//	PUT  /user                            UpdateUser
//	POST /logout                          SignOut
//
// # Errors
//
// Failures reported by the service become autherr backend-class errors
// carrying the service's message; timeouts and transport failures become
// autherr network errors.
package backend
