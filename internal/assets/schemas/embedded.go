// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so validation works regardless of
// the working directory or installation location.
package schemasassets

import _ "embed"

// SettingsSchema is the embedded runtime settings JSON schema.
//
// It validates the persisted settings document and every partial update
// applied through the API before it is written.
//
//go:embed settings.schema.json
var SettingsSchema []byte
