package schema

import _ "embed"

// LauncherV1Schema contains the JSON schema for launcher manifests.
//
//go:embed launcher.v1.json
var LauncherV1Schema []byte
