// The main package for the quote-crawler executable.
package main

import (
	"github.com/JakeFAU/quote-crawler/cmd"
)

func main() {
	cmd.Execute()
}
