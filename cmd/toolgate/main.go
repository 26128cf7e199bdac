// toolgate is a tool-invocation gateway: JSON-RPC over HTTP plus a
// WebSocket surface, fronted by API-key access control.
package main

func main() {
	Execute()
}
