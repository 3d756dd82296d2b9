// Package authstate owns the client's authentication state machine.
//
// A Store is the only writer of State. It bootstraps from the backend's
// persisted session, applies backend lifecycle events (SIGNED_IN,
// SIGNED_OUT, TOKEN_REFRESHED, USER_UPDATED), derives whether the user still
// owes the phone second factor, and signals navigation for sign-in and
// sign-out. Every change is published as a complete immutable snapshot.
//
//	INIT --bootstrap, no session--> UNAUTHENTICATED
//	INIT --bootstrap, session--> AUTHENTICATED | NEEDS_2FA
//	UNAUTHENTICATED --SIGNED_IN(google|apple)--> NEEDS_2FA
//	UNAUTHENTICATED --SIGNED_IN(phone)--> AUTHENTICATED
//	NEEDS_2FA --SetNeedsMobileVerification(false)--> AUTHENTICATED
//	AUTHENTICATED | NEEDS_2FA --SIGNED_OUT | SignOut--> UNAUTHENTICATED
//
// The second-factor flag is persisted in secure storage together with the
// user ID it belongs to, and removed on every sign-out path.
package authstate
