// Command scriptorium drives multi-section document production
// sessions: a roster of LLM content workers drafts, reviews and
// revises the sections of a workflow until every one is approved.
package main

import "os"

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	app := &App{Version: version}
	if err := NewRootCommand(app).Execute(); err != nil {
		os.Exit(1)
	}
}
