// Command rowcache edits SQLite-backed tables through a change-tracking
// row cache.
package main

import "github.com/user/rowcache/internal/cli"

func main() {
	cli.Execute()
}
