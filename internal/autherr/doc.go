// Package autherr classifies authentication failures for presentation.
//
// Every error that crosses a package boundary toward a screen is an *Error
// with one of five kinds:
//
//   - KindCancelled: the user dismissed a native sign-in sheet. Not an error
//     from the user's point of view; screens show nothing.
//   - KindInvalidFormat: local validation rejected input before any backend
//     call. Shown inline next to the input.
//   - KindBackend: the hosted auth service (or the network in front of it)
//     reported a failure. The message is shown verbatim and never retried.
//   - KindMissingCredential: a native flow reported success without a usable
//     token. Treated as backend class for messaging.
//   - KindUnexpected: anything else. Logged; screens show a generic message.
//
// Use UserMessage to turn any error into screen text.
package autherr
