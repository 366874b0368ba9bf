// cmd/releaser/main.go
package main

import "release-orchestrator/internal/cli"

func main() {
	cli.Main()
}
