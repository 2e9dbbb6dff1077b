package api

import _ "embed"

// OpenAPISpec is the OpenAPI 3.0 description of the HTTP API, served at /api/docs/openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
