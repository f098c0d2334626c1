// Package templates embeds default configuration, workflow and prompt files.
package templates

import "embed"

//go:embed config.yaml workflow.yaml roster.yaml dataset.yaml prompts
var FS embed.FS
