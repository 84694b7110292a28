// Package docs embeds the API description served at /openapi.yaml.
package docs

import _ "embed"

// OpenAPISpec is the OpenAPI 3 document for the TaskRails HTTP API.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
