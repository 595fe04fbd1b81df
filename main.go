// The main package for the linkcrawler executable.
package main

import "github.com/JakeFAU/linkcrawler/cmd"

func main() {
	cmd.Execute()
}
