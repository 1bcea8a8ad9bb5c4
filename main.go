// The main package for the salecrawler executable.
package main

import (
	"github.com/parcelpipe/salecrawler/cmd"
)

func main() {
	cmd.Execute()
}
