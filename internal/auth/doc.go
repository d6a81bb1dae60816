// Package auth provides authentication for ois-gateway.
//
// # Authentication Methods
//
// The package supports two participant kinds:
//
//   - Operators: log in with a password (bcrypt hash in config) and
//     receive an HS256 JWT session token. The token is presented in the
//     auth frame when opening a WebSocket, or as a Bearer token on the
//     HTTP API.
//
//   - Agents: authenticate with a static bearer token declared in the
//     config file. Each token maps to a stable AgentIdentity (id plus
//     display name) via the AgentRegistry.
//
// A failed verification is reported to the caller (auth_fail frame or
// HTTP 401); it never closes the underlying connection, so clients may
// retry on the same socket.
package auth
