package utils

// Version is the version of this module. It's shown by the CLI and the
// version endpoint of the server.
const Version = "0.1.0"
