// fly-mcp serves Flutter project scaffolding tools over the Model Context
// Protocol on stdin/stdout.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
