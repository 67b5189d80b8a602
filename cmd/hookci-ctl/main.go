package main

import "github.com/hookci/hookci/cmd/hookci-ctl/cmd"

func main() {
	cmd.Execute()
}
