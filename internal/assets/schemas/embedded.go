// Package schemasassets embeds the JSON schemas manifests are validated
// against. Embedding at compile time keeps validation working in
// installed binaries and library consumers with no schema files on disk.
package schemasassets

import _ "embed"

// RemovalManifestSchema is the schema every removal manifest must
// satisfy before a run is planned.
//
//go:embed removal-manifest.schema.json
var RemovalManifestSchema []byte
