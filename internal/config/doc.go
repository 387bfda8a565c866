// Package config loads and validates the TOML application configuration:
// data and log directories, logging options, the admin lease timeout, and
// the defaults applied to newly created projects.
//
// Per-project annotation settings (batch size, IRR percent, rater count,
// ordering strategy, classifier) live in the durable store and are owned by
// the project-management collaborator; this package only seeds them.
package config
