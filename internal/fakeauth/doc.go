// ABOUTME: Package fakeauth serves a GoTrue-compatible auth API from memory
// ABOUTME: Used by cmd/vent-fakeauth for local development and by client tests

// Package fakeauth implements the subset of the GoTrue REST API the vent
// client relies on: identity token and refresh token grants, SMS codes,
// phone change verification, user updates and logout.
//
// Codes are logged instead of texted. Tests read them back with LastCode and
// inject failures with FailNext.
package fakeauth
