// Package configs provides embedded configuration templates for driveseek.
//
// Templates are embedded at build time using Go's //go:embed directive,
// so they ship inside the binary and are available in all
// distributions: source builds, binary releases and package installs.
//
// The template is used by:
//   - cmd/driveseek/cmd/config.go → `driveseek config init` creates
//     the user config at ~/.config/driveseek/config.yaml
//
// Configuration hierarchy (see internal/config/config.go Load()):
//  1. Hardcoded defaults (internal/config/config.go NewConfig())
//  2. User config (~/.config/driveseek/config.yaml)
//  3. An explicit file passed with --config
//
// To modify the template, edit the .yaml file in this directory and
// rebuild. Changes are embedded in the next build.
package configs

import _ "embed"

// UserConfigTemplate is the commented template for the user
// configuration file. Every setting in it is shown with its default;
// `driveseek config init` writes it verbatim.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
