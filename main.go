// The main package for the scraper executable.
package main

import (
	"github.com/bioterminal/content-scraper/cmd"
)

func main() {
	cmd.Execute()
}
