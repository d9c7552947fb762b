// Command dragonstash mounts a caching overlay filesystem over a
// backend address. See cmd.Execute for the CLI surface.
package main

import "github.com/horazont/dragonstash/cmd"

func main() {
	cmd.Execute()
}
