// ABOUTME: Entry point for the trackbridge player
// ABOUTME: Hands control to the cobra command tree
package main

import (
	"github.com/Resonate-Protocol/trackbridge/internal/cli"
)

func main() {
	cli.Execute()
}
