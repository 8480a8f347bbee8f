// Package mcp implements a Model Context Protocol (MCP) server core speaking
// JSON-RPC 2.0 over Content-Length framed byte streams, typically stdin and
// stdout. It provides the frame codec, message model, and a dispatch pipeline
// that layers cooperative cancellation, concurrency admission control, and
// per-call deadlines around registered tool, resource, and prompt handlers.
//
// Servers are assembled by registering definitions on a Server and running
// Serve against a Session, usually a StdIO transport. Every request produces
// exactly one response; failures map to a closed set of error codes carrying
// structured data instead of stack traces.
package mcp
