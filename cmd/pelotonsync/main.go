// Command pelotonsync keeps a GitHub ProjectV2 board in sync with the
// issues, pull requests, and discussions of a set of repositories.
package main

import "pelotonsync/internal/cmd"

func main() {
	cmd.Execute()
}
