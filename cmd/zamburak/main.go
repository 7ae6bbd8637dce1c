// zamburak mediates agent tool calls against a declarative security
// policy using information-flow labels and revocable authority tokens.
package main

import "github.com/zamburak/zamburak/internal/cli"

func main() {
	cli.Execute()
}
