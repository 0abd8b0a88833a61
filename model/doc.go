// Package model defines the provider agnostic abstractions for driving
// language models.
//
// Providers (model/openai, model/anthropic) implement Model so agents and
// flows stay decoupled from vendor SDKs. Provider failures are reported as
// *APIError carrying the HTTP status, which WithRetry uses to decide whether
// a call is worth repeating. ScriptedModel and FuncModel replay canned
// responses for deterministic tests and demos.
package model
