// Package mcp discovers remote tools exposed by Model Context Protocol servers
// and adapts them to tool.Tool so agents can call them like local functions.
//
// A server is reached over stdio (a spawned command), SSE, streamable HTTP or
// any custom mcp.Transport. Discovery lists the server's tools once; calls are
// forwarded over the same client session until Close.
package mcp
