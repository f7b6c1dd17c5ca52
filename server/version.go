package server

// APIVersion is the version segment clients address endpoints under.
const APIVersion = "0.1.0"

// ServerName identifies the gateway in response headers and outbound requests.
const ServerName = "irods-http-gateway/" + APIVersion
