// convpool — the media-conversion coordinator.
package main

import "github.com/ppiankov/convpool/internal/cli"

func main() {
	cli.Execute()
}
