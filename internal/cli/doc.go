// Package cli parses the tensorgrid command line into an app.Config,
// merging an optional YAML config file under explicitly set flags.
package cli
