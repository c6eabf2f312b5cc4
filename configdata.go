package freezewatch

import _ "embed"

// DefaultConfigTOML holds config.default.toml, embedded at build time.
// freezewatchd writes it to the data directory on first run.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte
