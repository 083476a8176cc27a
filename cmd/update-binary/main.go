package main

import "github.com/oshokin/update-binary/cmd/update-binary/cmd"

func main() {
	cmd.Execute()
}
