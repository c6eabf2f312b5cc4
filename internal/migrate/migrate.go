// Package migrate upgrades versioned on-disk documents (the daemon config
// and spooled freeze reports) to the schema the running binary expects.
//
// Each document kind owns a [Registry]. Upgrades are byte-to-byte so a
// migration can rewrite fields the current types no longer have.
package migrate

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// ErrTooNew is returned for documents written by a newer schema than the
// registry knows. They are never rewritten.
var ErrTooNew = errors.New("schema version is newer than supported")

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Migration upgrades a document to Version from the version before it.
type Migration struct {
	Version     int
	Description string
	Upgrade     func(data []byte) ([]byte, error)
}

// Result describes what [Registry.Upgrade] did.
type Result struct {
	// Data is the upgraded document.
	Data []byte
	// From is the version the document was read at; To the version reached.
	From, To int
	// Applied lists the descriptions of the migrations that ran, in order.
	Applied []string
	// Dev is set when dev transforms ran.
	Dev bool
}

// Changed reports whether Data differs in schema from the input and should
// be written back.
func (r Result) Changed() bool {
	return r.To != r.From || len(r.Applied) > 0 || r.Dev
}

// ///////////////////////////////////////////////
// Registry
// ///////////////////////////////////////////////

// Registry holds the schema version and migrations of one document kind.
// The fields are exported so tests can swap them.
type Registry struct {
	// Name labels errors and log lines ("config", "report").
	Name string
	// CurrentVersion is the version new documents are written at.
	CurrentVersion int
	// Migrations are applied in Version order.
	Migrations []Migration
	// Dev transforms run on every load without touching the version. They
	// exist for local one-off data fixes.
	Dev []Migration
}

// Register adds m. A non-positive or duplicate version panics.
func (r *Registry) Register(m Migration) {
	if m.Version <= 0 {
		panic(fmt.Sprintf("migrate: %s migration %q has version %d", r.Name, m.Description, m.Version))
	}
	if slices.ContainsFunc(r.Migrations, func(e Migration) bool { return e.Version == m.Version }) {
		panic(fmt.Sprintf("migrate: duplicate %s migration version %d (%q)", r.Name, m.Version, m.Description))
	}
	r.Migrations = append(r.Migrations, m)
}

// RegisterDev adds a dev transform. A duplicate description panics.
func (r *Registry) RegisterDev(m Migration) {
	if slices.ContainsFunc(r.Dev, func(e Migration) bool { return e.Description == m.Description }) {
		panic(fmt.Sprintf("migrate: duplicate %s dev transform %q", r.Name, m.Description))
	}
	r.Dev = append(r.Dev, m)
}

// Pending returns the migrations a document at version from still needs,
// in the order they run.
func (r *Registry) Pending(from int) []Migration {
	var pending []Migration
	for _, m := range r.Migrations {
		if m.Version > from {
			pending = append(pending, m)
		}
	}
	slices.SortFunc(pending, func(a, b Migration) int { return a.Version - b.Version })
	return pending
}

// NeedsUpgrade reports whether a document at version from would change.
func (r *Registry) NeedsUpgrade(from int) bool {
	return from != r.CurrentVersion || len(r.Pending(from)) > 0 || len(r.Dev) > 0
}

// Upgrade applies pending migrations and then the dev transforms. On a
// failed migration the returned Result records the version reached.
func (r *Registry) Upgrade(data []byte, from int) (Result, error) {
	res := Result{Data: data, From: from, To: from}
	if from > r.CurrentVersion {
		return res, fmt.Errorf("%s v%d: %w (v%d)", r.Name, from, ErrTooNew, r.CurrentVersion)
	}

	for _, m := range r.Pending(from) {
		slog.Debug("applying migration", "kind", r.Name, "from", res.To, "to", m.Version, "description", m.Description)
		out, err := m.Upgrade(res.Data)
		if err != nil {
			return res, fmt.Errorf("%s migration to v%d (%s): %w", r.Name, m.Version, m.Description, err)
		}
		res.Data = out
		res.To = m.Version
		res.Applied = append(res.Applied, m.Description)
	}

	for _, m := range r.Dev {
		out, err := m.Upgrade(res.Data)
		if err != nil {
			return res, fmt.Errorf("%s dev transform %q: %w", r.Name, m.Description, err)
		}
		res.Data = out
		res.Dev = true
	}
	return res, nil
}

// ///////////////////////////////////////////////
// Registries
// ///////////////////////////////////////////////

// Config is the registry for config.toml.
var Config = &Registry{Name: "config", CurrentVersion: 1}

// Report is the registry for spooled report files. Version 2 turned the
// severity reason into an object; the report package registers it.
var Report = &Registry{Name: "report", CurrentVersion: 2}
