package main

import "github.com/oshokin/update-binary/cmd/update-packager/cmd"

func main() {
	cmd.Execute()
}
