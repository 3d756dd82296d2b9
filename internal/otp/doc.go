// Package otp requests and redeems SMS one-time codes.
//
// Phone numbers are checked with libphonenumber's possible-number rules and
// normalised to E.164 before anything is sent. A code is requested either to
// sign in with the phone or, as a second factor after social sign-in, to link
// the phone to the current user. Repeat requests for the same number and
// purpose inside the resend cooldown are refused locally.
package otp
